// Package testutils provides an in-memory Ethereum node for tests.
package testutils

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/mantlenetworkio/ethrpc/op-provider/jsonrpc"
	"github.com/mantlenetworkio/ethrpc/op-provider/transport"
)

type Handler func(params []json.RawMessage) (any, error)

// FakeChain is a scriptable node answering the common eth_ methods from in-memory state.
// Transactions are never executed: they sit in the pool until Mine is called.
type FakeChain struct {
	ids    transport.Counter
	subIDs transport.Counter

	mu          sync.Mutex
	chainID     *big.Int
	head        uint64
	baseFee     *big.Int
	gasPrice    *big.Int
	tip         *big.Int
	gasEstimate uint64
	callResult  []byte
	balances    map[common.Address]*big.Int
	nonces      map[common.Address]uint64
	receipts    map[common.Hash]*types.Receipt
	sent        []*types.Transaction
	nodeSent    []map[string]json.RawMessage
	rejectSend  func(tx *types.Transaction) error
	handlers    map[string]Handler
	calls       []string
	subs        map[jsonrpc.SubscriptionID]chan json.RawMessage
	closed      bool
}

var _ transport.Duplex = (*FakeChain)(nil)

// NewFakeChain starts a chain at block 100 with a base fee of 10 gwei.
func NewFakeChain(chainID uint64) *FakeChain {
	return &FakeChain{
		chainID:     new(big.Int).SetUint64(chainID),
		head:        100,
		baseFee:     big.NewInt(10_000_000_000),
		gasPrice:    big.NewInt(20_000_000_000),
		tip:         big.NewInt(1_000_000_000),
		gasEstimate: 21000,
		balances:    make(map[common.Address]*big.Int),
		nonces:      make(map[common.Address]uint64),
		receipts:    make(map[common.Hash]*types.Receipt),
		handlers:    make(map[string]Handler),
		subs:        make(map[jsonrpc.SubscriptionID]chan json.RawMessage),
	}
}

func (c *FakeChain) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

// SetBaseFee sets the base fee of the latest header. Nil makes the chain pre-London.
func (c *FakeChain) SetBaseFee(fee *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.baseFee = fee
}

func (c *FakeChain) SetGasPrice(price *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gasPrice = price
}

func (c *FakeChain) SetTip(tip *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tip = tip
}

func (c *FakeChain) SetGasEstimate(gas uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gasEstimate = gas
}

func (c *FakeChain) SetCallResult(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callResult = data
}

func (c *FakeChain) SetBalance(addr common.Address, balance *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balances[addr] = balance
}

func (c *FakeChain) SetNonce(addr common.Address, nonce uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nonces[addr] = nonce
}

func (c *FakeChain) Nonce(addr common.Address) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nonces[addr]
}

// RejectSend installs a check run before a transaction enters the pool.
// The transaction is nil for eth_sendTransaction.
func (c *FakeChain) RejectSend(fn func(tx *types.Transaction) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rejectSend = fn
}

// Handle overrides a method.
func (c *FakeChain) Handle(method string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[method] = h
}

func (c *FakeChain) Head() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head
}

func (c *FakeChain) SetHead(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.head = n
}

// AdvanceHead moves the head forward by n blocks.
func (c *FakeChain) AdvanceHead(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.head += n
}

// Mine includes the transaction in a new block on top of the head and returns that block number.
func (c *FakeChain) Mine(hash common.Hash) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.head++
	c.receipts[hash] = newReceipt(hash, c.head)
	return c.head
}

// Reorg moves an included transaction to the given block, or drops its receipt for block 0.
func (c *FakeChain) Reorg(hash common.Hash, block uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if block == 0 {
		delete(c.receipts, hash)
		return
	}
	c.receipts[hash] = newReceipt(hash, block)
}

func newReceipt(hash common.Hash, block uint64) *types.Receipt {
	return &types.Receipt{
		Type:              types.LegacyTxType,
		Status:            types.ReceiptStatusSuccessful,
		CumulativeGasUsed: 21000,
		Logs:              []*types.Log{},
		TxHash:            hash,
		GasUsed:           21000,
		EffectiveGasPrice: big.NewInt(1),
		BlockHash:         crypto.Keccak256Hash(hash[:], new(big.Int).SetUint64(block).Bytes()),
		BlockNumber:       new(big.Int).SetUint64(block),
	}
}

// Sent returns the raw transactions accepted so far, in order.
func (c *FakeChain) Sent() []*types.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*types.Transaction(nil), c.sent...)
}

// NodeSent returns the params of every eth_sendTransaction call.
func (c *FakeChain) NodeSent() []map[string]json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]map[string]json.RawMessage(nil), c.nodeSent...)
}

// Calls counts the requests for method.
func (c *FakeChain) Calls(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, m := range c.calls {
		if m == method {
			n++
		}
	}
	return n
}

// Notify pushes a payload to a subscription. It reports false for unknown ids.
func (c *FakeChain) Notify(id jsonrpc.SubscriptionID, payload any) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	c.mu.Lock()
	ch, ok := c.subs[id]
	c.mu.Unlock()
	if ok {
		ch <- data
	}
	return ok
}

// NotifyRaw pushes raw bytes to a subscription, valid JSON or not.
func (c *FakeChain) NotifyRaw(id jsonrpc.SubscriptionID, raw string) bool {
	c.mu.Lock()
	ch, ok := c.subs[id]
	c.mu.Unlock()
	if ok {
		ch <- json.RawMessage(raw)
	}
	return ok
}

func (c *FakeChain) Subscriptions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

func (c *FakeChain) NextID() jsonrpc.ID {
	return c.ids.Next()
}

func (c *FakeChain) Send(ctx context.Context, req *jsonrpc.Request) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp := c.handle(req)
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Result, nil
}

func (c *FakeChain) SendBatch(ctx context.Context, reqs []*jsonrpc.Request) ([]*jsonrpc.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]*jsonrpc.Response, len(reqs))
	for i, req := range reqs {
		out[i] = c.handle(req)
	}
	return out, nil
}

func (c *FakeChain) Subscribe(ctx context.Context, req *jsonrpc.Request) (jsonrpc.SubscriptionID, <-chan json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return jsonrpc.SubscriptionID{}, nil, jsonrpc.ErrClosed
	}
	c.calls = append(c.calls, req.Method)
	id := jsonrpc.SubscriptionIDFromUint64(0x1000 + uint64(c.subIDs.Next()))
	ch := make(chan json.RawMessage, 64)
	c.subs[id] = ch
	return id, ch, nil
}

func (c *FakeChain) Unsubscribe(ctx context.Context, id jsonrpc.SubscriptionID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, "eth_unsubscribe")
	if ch, ok := c.subs[id]; ok {
		delete(c.subs, id)
		close(ch)
	}
	return nil
}

func (c *FakeChain) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
	return nil
}

func (c *FakeChain) handle(req *jsonrpc.Request) *jsonrpc.Response {
	resp := &jsonrpc.Response{ID: req.ID}
	params, err := req.ParamList()
	if err != nil {
		resp.Error = &jsonrpc.Error{Code: -32602, Message: err.Error()}
		return resp
	}
	c.mu.Lock()
	c.calls = append(c.calls, req.Method)
	h, ok := c.handlers[req.Method]
	c.mu.Unlock()
	var result any
	if ok {
		result, err = h(params)
	} else {
		result, err = c.builtin(req.Method, params)
	}
	if err != nil {
		var rpcErr *jsonrpc.Error
		if !errors.As(err, &rpcErr) {
			rpcErr = &jsonrpc.Error{Code: -32000, Message: err.Error()}
		}
		resp.Error = rpcErr
		return resp
	}
	data, err := json.Marshal(result)
	if err != nil {
		resp.Error = &jsonrpc.Error{Code: -32603, Message: err.Error()}
		return resp
	}
	resp.Result = data
	return resp
}

func (c *FakeChain) builtin(method string, params []json.RawMessage) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch method {
	case "eth_chainId":
		return (*hexutil.Big)(c.chainID), nil
	case "eth_blockNumber":
		return hexutil.Uint64(c.head), nil
	case "eth_gasPrice":
		return (*hexutil.Big)(c.gasPrice), nil
	case "eth_maxPriorityFeePerGas":
		return (*hexutil.Big)(c.tip), nil
	case "eth_estimateGas":
		return hexutil.Uint64(c.gasEstimate), nil
	case "eth_call":
		return hexutil.Bytes(c.callResult), nil
	case "eth_getBlockByNumber":
		return &types.Header{
			Number:     new(big.Int).SetUint64(c.head),
			Difficulty: new(big.Int),
			GasLimit:   30_000_000,
			BaseFee:    c.baseFee,
		}, nil
	case "eth_getBalance":
		addr, err := addressParam(params)
		if err != nil {
			return nil, err
		}
		balance := c.balances[addr]
		if balance == nil {
			balance = new(big.Int)
		}
		return (*hexutil.Big)(balance), nil
	case "eth_getTransactionCount":
		addr, err := addressParam(params)
		if err != nil {
			return nil, err
		}
		return hexutil.Uint64(c.nonces[addr]), nil
	case "eth_getTransactionReceipt":
		var hash common.Hash
		if len(params) == 0 {
			return nil, errors.New("missing hash")
		}
		if err := json.Unmarshal(params[0], &hash); err != nil {
			return nil, err
		}
		receipt, ok := c.receipts[hash]
		if !ok {
			return nil, nil
		}
		return receipt, nil
	case "eth_sendRawTransaction":
		return c.sendRaw(params)
	case "eth_sendTransaction":
		return c.sendNode(params)
	case "eth_sign":
		sig := make(hexutil.Bytes, 65)
		sig[64] = 27
		return sig, nil
	}
	return nil, &jsonrpc.Error{Code: -32601, Message: fmt.Sprintf("the method %s does not exist/is not available", method)}
}

func addressParam(params []json.RawMessage) (common.Address, error) {
	var addr common.Address
	if len(params) == 0 {
		return addr, errors.New("missing address")
	}
	err := json.Unmarshal(params[0], &addr)
	return addr, err
}

func (c *FakeChain) sendRaw(params []json.RawMessage) (any, error) {
	var raw hexutil.Bytes
	if len(params) == 0 {
		return nil, errors.New("missing transaction")
	}
	if err := json.Unmarshal(params[0], &raw); err != nil {
		return nil, err
	}
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return nil, err
	}
	from, err := types.Sender(types.LatestSignerForChainID(c.chainID), tx)
	if err != nil {
		return nil, fmt.Errorf("invalid sender: %w", err)
	}
	if c.rejectSend != nil {
		if err := c.rejectSend(tx); err != nil {
			return nil, err
		}
	}
	if _, mined := c.receipts[tx.Hash()]; mined {
		return nil, errors.New("already known")
	}
	next := c.nonces[from]
	if tx.Nonce() < next && !c.replaces(from, tx) {
		return nil, fmt.Errorf("nonce too low: next nonce %d, tx nonce %d", next, tx.Nonce())
	}
	if tx.Nonce() >= next {
		c.nonces[from] = tx.Nonce() + 1
	}
	c.sent = append(c.sent, tx)
	return tx.Hash(), nil
}

// replaces reports whether tx replaces a transaction of the same sender and nonce that is not mined.
func (c *FakeChain) replaces(from common.Address, tx *types.Transaction) bool {
	for _, prev := range c.sent {
		if prev.Nonce() != tx.Nonce() {
			continue
		}
		sender, err := types.Sender(types.LatestSignerForChainID(c.chainID), prev)
		if err != nil || sender != from {
			continue
		}
		if _, mined := c.receipts[prev.Hash()]; mined {
			return false
		}
		return true
	}
	return false
}

func (c *FakeChain) sendNode(params []json.RawMessage) (any, error) {
	if len(params) == 0 {
		return nil, errors.New("missing transaction")
	}
	var arg map[string]json.RawMessage
	if err := json.Unmarshal(params[0], &arg); err != nil {
		return nil, err
	}
	if c.rejectSend != nil {
		if err := c.rejectSend(nil); err != nil {
			return nil, err
		}
	}
	var from common.Address
	if raw, ok := arg["from"]; ok {
		if err := json.Unmarshal(raw, &from); err != nil {
			return nil, err
		}
	}
	nonce := c.nonces[from]
	if raw, ok := arg["nonce"]; ok {
		var n hexutil.Uint64
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, err
		}
		if uint64(n) < nonce {
			return nil, fmt.Errorf("nonce too low: next nonce %d, tx nonce %d", nonce, uint64(n))
		}
		nonce = uint64(n)
	}
	c.nonces[from] = nonce + 1
	c.nodeSent = append(c.nodeSent, arg)
	return crypto.Keccak256Hash(params[0]), nil
}
