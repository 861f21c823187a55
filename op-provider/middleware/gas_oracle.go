package middleware

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mantlenetworkio/ethrpc/op-provider/gasoracle"
	"github.com/mantlenetworkio/ethrpc/op-provider/provider"
)

const GasOracleLayer = "gas oracle"

// GasOracle takes gas prices from an oracle instead of the node.
type GasOracle struct {
	provider.Client
	oracle gasoracle.GasOracle
}

func NewGasOracle(inner provider.Client, oracle gasoracle.GasOracle) *GasOracle {
	return &GasOracle{Client: inner, oracle: oracle}
}

func WithGasOracle(oracle gasoracle.GasOracle) Layer {
	return func(inner provider.Client) provider.Client {
		return NewGasOracle(inner, oracle)
	}
}

func (g *GasOracle) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	price, err := g.oracle.FetchPrice(ctx)
	if err != nil {
		return nil, wrap(GasOracleLayer, err)
	}
	return price, nil
}

// FillTransaction sets missing fees. A request without any fee field gets EIP-1559 fees,
// or a legacy price when the oracle does not support them.
func (g *GasOracle) FillTransaction(ctx context.Context, tx *provider.TxRequest) error {
	if err := g.fillFees(ctx, tx); err != nil {
		return wrap(GasOracleLayer, err)
	}
	return wrap(GasOracleLayer, g.Client.FillTransaction(ctx, tx))
}

func (g *GasOracle) fillFees(ctx context.Context, tx *provider.TxRequest) error {
	if tx.HasFees() {
		return nil
	}
	if tx.GasPrice == nil {
		feeCap, tip, err := g.oracle.EstimateEIP1559Fees(ctx)
		switch {
		case err == nil:
			if tx.GasFeeCap == nil {
				tx.GasFeeCap = feeCap
			}
			if tx.GasTipCap == nil {
				tx.GasTipCap = tip
			}
			return nil
		case errors.Is(err, gasoracle.ErrEIP1559Unsupported) && !tx.IsDynamicFee():
		default:
			return err
		}
	}
	price, err := g.oracle.FetchPrice(ctx)
	if err != nil {
		return err
	}
	tx.GasPrice = price
	return nil
}

func (g *GasOracle) SendTransaction(ctx context.Context, tx *provider.TxRequest) (common.Hash, error) {
	tx = tx.Copy()
	if err := g.fillFees(ctx, tx); err != nil {
		return common.Hash{}, wrap(GasOracleLayer, err)
	}
	return g.Client.SendTransaction(ctx, tx)
}
