// Package cache stores replies of deterministic JSON-RPC calls, keyed by method and params.
package cache

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/ethereum/go-ethereum/crypto"
)

type Cache interface {
	// Get returns the stored reply, and false if there is none.
	Get(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, bool, error)
	Put(ctx context.Context, method string, params json.RawMessage, value json.RawMessage) error
	Close() error
}

// Key identifies a call: the method followed by the hash of the compacted params.
func Key(method string, params json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, params); err != nil {
		buf.Reset()
		buf.Write(params)
	}
	return method + "/" + crypto.Keccak256Hash(buf.Bytes()).Hex()
}
