package gasoracle

import (
	"context"
	"math/big"

	"github.com/mantlenetworkio/ethrpc/op-provider/provider"
)

// ProviderOracle asks the node. The fee cap leaves room for the base fee to double.
type ProviderOracle struct {
	client provider.Client
}

var _ GasOracle = (*ProviderOracle)(nil)

func NewProviderOracle(client provider.Client) *ProviderOracle {
	return &ProviderOracle{client: client}
}

func (o *ProviderOracle) FetchPrice(ctx context.Context) (*big.Int, error) {
	return o.client.SuggestGasPrice(ctx)
}

func (o *ProviderOracle) EstimateEIP1559Fees(ctx context.Context) (*big.Int, *big.Int, error) {
	head, err := o.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	if head.BaseFee == nil {
		return nil, nil, ErrEIP1559Unsupported
	}
	tip, err := o.client.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, nil, err
	}
	feeCap := new(big.Int).Add(tip, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	return feeCap, tip, nil
}
