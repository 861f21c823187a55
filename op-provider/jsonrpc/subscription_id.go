package jsonrpc

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

// SubscriptionID is the 256-bit subscription identifier assigned by the node.
// It is comparable and can be used as a map key.
type SubscriptionID struct {
	v uint256.Int
}

// ParseSubscriptionID parses a hex quantity such as "0x9cef478923ff08bf67fde6c64013158d".
// Leading zeros are tolerated.
func ParseSubscriptionID(s string) (SubscriptionID, error) {
	hex, ok := strings.CutPrefix(s, "0x")
	if !ok {
		hex, ok = strings.CutPrefix(s, "0X")
	}
	if !ok {
		return SubscriptionID{}, fmt.Errorf("subscription id %q: missing 0x prefix", s)
	}
	hex = strings.TrimLeft(hex, "0")
	if hex == "" {
		hex = "0"
	}
	var id SubscriptionID
	if err := id.v.SetFromHex("0x" + hex); err != nil {
		return SubscriptionID{}, fmt.Errorf("subscription id %q: %w", s, err)
	}
	return id, nil
}

// SubscriptionIDFromUint64 is mostly useful in tests.
func SubscriptionIDFromUint64(n uint64) SubscriptionID {
	var id SubscriptionID
	id.v.SetUint64(n)
	return id
}

func (id SubscriptionID) IsZero() bool {
	return id.v.IsZero()
}

// Uint256 returns a copy of the id.
func (id SubscriptionID) Uint256() *uint256.Int {
	return id.v.Clone()
}

func (id SubscriptionID) String() string {
	return id.v.Hex()
}

func (id SubscriptionID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.v.Hex())
}

func (id *SubscriptionID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("subscription id must be a hex string: %w", err)
	}
	parsed, err := ParseSubscriptionID(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
