package middleware

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/mantlenetworkio/ethrpc/op-provider/provider"
)

const TimeLagLayer = "time lag"

// TimeLag pretends the chain tip is lag blocks lower than it is, so callers only see blocks
// that are unlikely to be reorged.
type TimeLag struct {
	provider.Client
	lag uint64
}

func NewTimeLag(inner provider.Client, lag uint64) *TimeLag {
	return &TimeLag{Client: inner, lag: lag}
}

func WithTimeLag(lag uint64) Layer {
	return func(inner provider.Client) provider.Client {
		return NewTimeLag(inner, lag)
	}
}

func (t *TimeLag) BlockNumber(ctx context.Context) (uint64, error) {
	head, err := t.Client.BlockNumber(ctx)
	if err != nil {
		return 0, wrap(TimeLagLayer, err)
	}
	if head < t.lag {
		return 0, nil
	}
	return head - t.lag, nil
}

// HeaderByNumber returns the lagged header for the latest block. Explicit numbers and labels pass through.
func (t *TimeLag) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	if number != nil {
		return t.Client.HeaderByNumber(ctx, number)
	}
	n, err := t.BlockNumber(ctx)
	if err != nil {
		return nil, err
	}
	head, err := t.Client.HeaderByNumber(ctx, new(big.Int).SetUint64(n))
	if err != nil {
		return nil, wrap(TimeLagLayer, err)
	}
	return head, nil
}
