// Package gasoracle provides gas price sources for the gas oracle middleware.
package gasoracle

import (
	"context"
	"errors"
	"math/big"
)

var (
	// ErrNoValues is returned by aggregates when none of their oracles produced a value.
	ErrNoValues = errors.New("no gas oracle returned a value")

	ErrEIP1559Unsupported = errors.New("chain does not support EIP-1559 fees")
)

type GasOracle interface {
	// FetchPrice returns a legacy gas price.
	FetchPrice(ctx context.Context) (*big.Int, error)
	// EstimateEIP1559Fees returns the fee cap and the tip.
	EstimateEIP1559Fees(ctx context.Context) (feeCap *big.Int, tip *big.Int, err error)
}

// Fixed always returns the same values.
type Fixed struct {
	Price  *big.Int
	FeeCap *big.Int
	Tip    *big.Int
}

var _ GasOracle = (*Fixed)(nil)

func (f *Fixed) FetchPrice(context.Context) (*big.Int, error) {
	if f.Price == nil {
		return nil, ErrNoValues
	}
	return new(big.Int).Set(f.Price), nil
}

func (f *Fixed) EstimateEIP1559Fees(context.Context) (*big.Int, *big.Int, error) {
	if f.FeeCap == nil || f.Tip == nil {
		return nil, nil, ErrEIP1559Unsupported
	}
	return new(big.Int).Set(f.FeeCap), new(big.Int).Set(f.Tip), nil
}
