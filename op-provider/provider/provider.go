package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/mantlenetworkio/ethrpc/op-provider/jsonrpc"
	"github.com/mantlenetworkio/ethrpc/op-provider/transport"
)

const DefaultPollInterval = 7 * time.Second

// Provider issues typed Ethereum calls over a transport.
type Provider struct {
	log          log.Logger
	t            transport.Transport
	pollInterval time.Duration
}

var _ Client = (*Provider)(nil)

func New(t transport.Transport, logger log.Logger) *Provider {
	return &Provider{
		log:          logger,
		t:            t,
		pollInterval: DefaultPollInterval,
	}
}

// WithPollInterval sets the interval used by pending transactions created through this provider.
func (p *Provider) WithPollInterval(d time.Duration) *Provider {
	p.pollInterval = d
	return p
}

func (p *Provider) PollInterval() time.Duration {
	return p.pollInterval
}

func (p *Provider) Transport() transport.Transport {
	return p.t
}

// PendingTransaction tracks a sent transaction using the provider poll interval.
func (p *Provider) PendingTransaction(hash common.Hash) *PendingTransaction {
	return NewPendingTransaction(p, hash, p.log).WithInterval(p.pollInterval)
}

func (p *Provider) CallContext(ctx context.Context, result any, method string, args ...any) error {
	req, err := jsonrpc.NewRequest(p.t.NextID(), method, args...)
	if err != nil {
		return err
	}
	raw, err := p.t.Send(ctx, req)
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return &jsonrpc.DecodeError{Raw: string(raw), Err: err}
	}
	return nil
}

func (p *Provider) BatchCallContext(ctx context.Context, b []rpc.BatchElem) error {
	if len(b) == 0 {
		return nil
	}
	reqs := make([]*jsonrpc.Request, len(b))
	for i, elem := range b {
		req, err := jsonrpc.NewRequest(p.t.NextID(), elem.Method, elem.Args...)
		if err != nil {
			return err
		}
		reqs[i] = req
	}
	resps, err := p.t.SendBatch(ctx, reqs)
	if err != nil {
		return err
	}
	if len(resps) != len(b) {
		return &jsonrpc.IncompleteBatchError{Expected: len(b), Got: len(resps)}
	}
	for i, resp := range resps {
		elem := &b[i]
		if resp.Error != nil {
			elem.Error = resp.Error
			continue
		}
		if elem.Result == nil {
			continue
		}
		if err := json.Unmarshal(resp.Result, elem.Result); err != nil {
			elem.Error = &jsonrpc.DecodeError{Raw: string(resp.Result), Err: err}
		}
	}
	return nil
}

func (p *Provider) Subscribe(ctx context.Context, args ...any) (jsonrpc.SubscriptionID, <-chan json.RawMessage, error) {
	req, err := jsonrpc.NewRequest(p.t.NextID(), "eth_subscribe", args...)
	if err != nil {
		return jsonrpc.SubscriptionID{}, nil, err
	}
	d, ok := p.t.(transport.Duplex)
	if !ok {
		return jsonrpc.SubscriptionID{}, nil, jsonrpc.ErrNotificationsUnsupported
	}
	return d.Subscribe(ctx, req)
}

func (p *Provider) Unsubscribe(ctx context.Context, id jsonrpc.SubscriptionID) error {
	return transport.Unsubscribe(ctx, p.t, id)
}

func (p *Provider) ChainID(ctx context.Context) (*big.Int, error) {
	var id hexutil.Big
	if err := p.CallContext(ctx, &id, "eth_chainId"); err != nil {
		return nil, err
	}
	return (*big.Int)(&id), nil
}

func (p *Provider) BlockNumber(ctx context.Context) (uint64, error) {
	var num hexutil.Uint64
	err := p.CallContext(ctx, &num, "eth_blockNumber")
	return uint64(num), err
}

func (p *Provider) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	var result hexutil.Big
	err := p.CallContext(ctx, &result, "eth_getBalance", account, toBlockNumArg(blockNumber))
	return (*big.Int)(&result), err
}

func (p *Provider) NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error) {
	var result hexutil.Uint64
	err := p.CallContext(ctx, &result, "eth_getTransactionCount", account, toBlockNumArg(blockNumber))
	return uint64(result), err
}

func (p *Provider) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	var hex hexutil.Big
	if err := p.CallContext(ctx, &hex, "eth_gasPrice"); err != nil {
		return nil, err
	}
	return (*big.Int)(&hex), nil
}

func (p *Provider) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	var hex hexutil.Big
	if err := p.CallContext(ctx, &hex, "eth_maxPriorityFeePerGas"); err != nil {
		return nil, err
	}
	return (*big.Int)(&hex), nil
}

func (p *Provider) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	var head *types.Header
	err := p.CallContext(ctx, &head, "eth_getBlockByNumber", toBlockNumArg(number), false)
	if err == nil && head == nil {
		return nil, ethereum.NotFound
	}
	return head, err
}

func (p *Provider) EstimateGas(ctx context.Context, tx *TxRequest) (uint64, error) {
	var hex hexutil.Uint64
	if err := p.CallContext(ctx, &hex, "eth_estimateGas", tx.CallArg()); err != nil {
		return 0, err
	}
	return uint64(hex), nil
}

func (p *Provider) Call(ctx context.Context, tx *TxRequest, blockNumber *big.Int) ([]byte, error) {
	var hex hexutil.Bytes
	if err := p.CallContext(ctx, &hex, "eth_call", tx.CallArg(), toBlockNumArg(blockNumber)); err != nil {
		return nil, err
	}
	return hex, nil
}

// FillTransaction sets fees from the node and estimates the gas limit.
// With a base fee in the latest header the fee cap is twice the base fee plus the tip.
// The nonce is left to the node or to the layers above.
func (p *Provider) FillTransaction(ctx context.Context, tx *TxRequest) error {
	if !tx.HasFees() {
		if err := p.fillFees(ctx, tx); err != nil {
			return fmt.Errorf("failed to fill fees: %w", err)
		}
	}
	if tx.Gas == 0 {
		gas, err := p.EstimateGas(ctx, tx)
		if err != nil {
			return fmt.Errorf("failed to estimate gas: %w", err)
		}
		tx.Gas = gas
	}
	return nil
}

func (p *Provider) fillFees(ctx context.Context, tx *TxRequest) error {
	if tx.GasPrice != nil {
		return nil
	}
	head, err := p.HeaderByNumber(ctx, nil)
	if err != nil {
		return err
	}
	if head.BaseFee == nil {
		if tx.IsDynamicFee() {
			return errors.New("dynamic fee transaction on a chain without base fee")
		}
		tx.GasPrice, err = p.SuggestGasPrice(ctx)
		return err
	}
	if tx.GasTipCap == nil {
		tx.GasTipCap, err = p.SuggestGasTipCap(ctx)
		if err != nil {
			return err
		}
	}
	if tx.GasFeeCap == nil {
		tx.GasFeeCap = new(big.Int).Add(tx.GasTipCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}
	return nil
}

func (p *Provider) SendTransaction(ctx context.Context, tx *TxRequest) (common.Hash, error) {
	var hash common.Hash
	err := p.CallContext(ctx, &hash, "eth_sendTransaction", tx.CallArg())
	return hash, err
}

func (p *Provider) SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error) {
	var hash common.Hash
	err := p.CallContext(ctx, &hash, "eth_sendRawTransaction", hexutil.Bytes(raw))
	return hash, err
}

func (p *Provider) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	var r *types.Receipt
	err := p.CallContext(ctx, &r, "eth_getTransactionReceipt", hash)
	if err == nil && r == nil {
		return nil, ethereum.NotFound
	}
	return r, err
}

func (p *Provider) Sign(ctx context.Context, account common.Address, data []byte) ([]byte, error) {
	var sig hexutil.Bytes
	if err := p.CallContext(ctx, &sig, "eth_sign", account, hexutil.Bytes(data)); err != nil {
		return nil, err
	}
	return sig, nil
}

func (p *Provider) Close() error {
	return p.t.Close()
}

func toBlockNumArg(number *big.Int) string {
	if number == nil {
		return "latest"
	}
	if number.Sign() >= 0 {
		return hexutil.EncodeBig(number)
	}
	// negative numbers select a label, e.g. pending
	if number.IsInt64() {
		return rpc.BlockNumber(number.Int64()).String()
	}
	return fmt.Sprintf("<invalid %d>", number)
}
