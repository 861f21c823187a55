package middleware

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/mantlenetworkio/ethrpc/op-provider/provider"
)

const TransformerLayer = "transformer"

var ErrMissingReceiver = errors.New("transaction has no receiver to forward to")

// Transformer rewrites a transaction before it is sent.
type Transformer interface {
	Transform(tx *provider.TxRequest) (*provider.TxRequest, error)
}

const proxyABI = `[{
	"name": "execute",
	"type": "function",
	"stateMutability": "payable",
	"inputs": [
		{"name": "target", "type": "address"},
		{"name": "data", "type": "bytes"}
	],
	"outputs": [{"name": "response", "type": "bytes"}]
}]`

// ProxyTransformer routes calls through a proxy wallet: the call becomes execute(to, data)
// on the proxy, keeping value and fees.
type ProxyTransformer struct {
	proxy common.Address
	abi   abi.ABI
}

var _ Transformer = (*ProxyTransformer)(nil)

func NewProxyTransformer(proxy common.Address) (*ProxyTransformer, error) {
	parsed, err := abi.JSON(strings.NewReader(proxyABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse proxy ABI: %w", err)
	}
	return &ProxyTransformer{proxy: proxy, abi: parsed}, nil
}

func (p *ProxyTransformer) Proxy() common.Address {
	return p.proxy
}

func (p *ProxyTransformer) Transform(tx *provider.TxRequest) (*provider.TxRequest, error) {
	if tx.To == nil {
		return nil, ErrMissingReceiver
	}
	data := tx.Data
	if data == nil {
		data = []byte{}
	}
	calldata, err := p.abi.Pack("execute", *tx.To, data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode proxy call: %w", err)
	}
	out := tx.Copy()
	proxy := p.proxy
	out.To = &proxy
	out.Data = calldata
	// the gas of the original call does not cover the proxy
	out.Gas = 0
	return out, nil
}

type Transforming struct {
	provider.Client
	transformer Transformer
}

func NewTransforming(inner provider.Client, transformer Transformer) *Transforming {
	return &Transforming{Client: inner, transformer: transformer}
}

func WithTransformer(transformer Transformer) Layer {
	return func(inner provider.Client) provider.Client {
		return NewTransforming(inner, transformer)
	}
}

func (t *Transforming) SendTransaction(ctx context.Context, tx *provider.TxRequest) (common.Hash, error) {
	out, err := t.transformer.Transform(tx)
	if err != nil {
		return common.Hash{}, wrap(TransformerLayer, err)
	}
	hash, err := t.Client.SendTransaction(ctx, out)
	if err != nil {
		return common.Hash{}, wrap(TransformerLayer, err)
	}
	return hash, nil
}

// EstimateGas estimates the transformed call.
func (t *Transforming) EstimateGas(ctx context.Context, tx *provider.TxRequest) (uint64, error) {
	out, err := t.transformer.Transform(tx)
	if err != nil {
		return 0, wrap(TransformerLayer, err)
	}
	return t.Client.EstimateGas(ctx, out)
}
