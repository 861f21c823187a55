package provider

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/require"

	"github.com/mantlenetworkio/ethrpc/op-provider/jsonrpc"
	"github.com/mantlenetworkio/ethrpc/op-provider/testutils"
	"github.com/mantlenetworkio/ethrpc/op-service/testlog"
)

func newTestProvider(t *testing.T) (*Provider, *testutils.FakeChain) {
	chain := testutils.NewFakeChain(901)
	return New(chain, testlog.Logger(t, log.LevelDebug)), chain
}

func TestProviderReads(t *testing.T) {
	p, chain := newTestProvider(t)
	ctx := context.Background()
	addr := common.HexToAddress("0x1234")
	chain.SetBalance(addr, big.NewInt(5000))
	chain.SetNonce(addr, 7)

	id, err := p.ChainID(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(901), id.Uint64())

	num, err := p.BlockNumber(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(100), num)

	bal, err := p.BalanceAt(ctx, addr, nil)
	require.NoError(t, err)
	require.Equal(t, int64(5000), bal.Int64())

	nonce, err := p.NonceAt(ctx, addr, PendingBlock)
	require.NoError(t, err)
	require.Equal(t, uint64(7), nonce)

	head, err := p.HeaderByNumber(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(100), head.Number.Uint64())
	require.Equal(t, int64(10_000_000_000), head.BaseFee.Int64())

	tip, err := p.SuggestGasTipCap(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1_000_000_000), tip.Int64())
}

func TestProviderBlockArgs(t *testing.T) {
	var got []string
	p, chain := newTestProvider(t)
	chain.Handle("eth_getTransactionCount", func(params []json.RawMessage) (any, error) {
		var tag string
		require.NoError(t, json.Unmarshal(params[1], &tag))
		got = append(got, tag)
		return hexutil.Uint64(0), nil
	})
	ctx := context.Background()
	for _, n := range []*big.Int{nil, big.NewInt(0x20), PendingBlock, big.NewInt(int64(rpc.SafeBlockNumber))} {
		_, err := p.NonceAt(ctx, common.Address{}, n)
		require.NoError(t, err)
	}
	require.Equal(t, []string{"latest", "0x20", "pending", "safe"}, got)
}

func TestTransactionReceiptNotFound(t *testing.T) {
	p, chain := newTestProvider(t)
	hash := common.HexToHash("0xabcd")

	_, err := p.TransactionReceipt(context.Background(), hash)
	require.ErrorIs(t, err, ethereum.NotFound)

	block := chain.Mine(hash)
	receipt, err := p.TransactionReceipt(context.Background(), hash)
	require.NoError(t, err)
	require.Equal(t, block, receipt.BlockNumber.Uint64())
	require.Equal(t, hash, receipt.TxHash)
}

func TestCallContextErrors(t *testing.T) {
	p, chain := newTestProvider(t)
	chain.Handle("eth_call", func(params []json.RawMessage) (any, error) {
		return nil, &jsonrpc.Error{Code: 3, Message: "execution reverted", Data: json.RawMessage(`"0x08c379a0"`)}
	})
	chain.Handle("test_badResult", func(params []json.RawMessage) (any, error) {
		return "not a number", nil
	})

	_, err := p.Call(context.Background(), &TxRequest{}, nil)
	var rpcErr *jsonrpc.Error
	require.ErrorAs(t, err, &rpcErr)
	require.Equal(t, 3, rpcErr.Code)
	require.Equal(t, "0x08c379a0", rpcErr.ErrorData())

	var n hexutil.Uint64
	err = p.CallContext(context.Background(), &n, "test_badResult")
	var decErr *jsonrpc.DecodeError
	require.ErrorAs(t, err, &decErr)
	require.Equal(t, `"not a number"`, decErr.Raw)

	err = p.CallContext(context.Background(), nil, "eth_nope")
	code, ok := jsonrpc.ErrorCode(err)
	require.True(t, ok)
	require.Equal(t, -32601, code)
}

func TestBatchCallContext(t *testing.T) {
	p, _ := newTestProvider(t)
	var (
		id   hexutil.Big
		num  hexutil.Uint64
		junk hexutil.Uint64
	)
	batch := []rpc.BatchElem{
		{Method: "eth_chainId", Result: &id},
		{Method: "eth_nope", Result: &junk},
		{Method: "eth_blockNumber", Result: &num},
	}
	require.NoError(t, p.BatchCallContext(context.Background(), batch))
	require.NoError(t, batch[0].Error)
	require.Equal(t, uint64(901), (*big.Int)(&id).Uint64())
	require.Error(t, batch[1].Error)
	require.NoError(t, batch[2].Error)
	require.Equal(t, uint64(100), uint64(num))
}

func TestFillTransaction(t *testing.T) {
	p, chain := newTestProvider(t)
	ctx := context.Background()
	to := common.HexToAddress("0xbeef")

	t.Run("dynamic fee", func(t *testing.T) {
		tx := &TxRequest{To: &to}
		require.NoError(t, p.FillTransaction(ctx, tx))
		require.Equal(t, int64(1_000_000_000), tx.GasTipCap.Int64())
		require.Equal(t, int64(21_000_000_000), tx.GasFeeCap.Int64())
		require.Nil(t, tx.GasPrice)
		require.Equal(t, uint64(21000), tx.Gas)
	})
	t.Run("legacy chain", func(t *testing.T) {
		chain.SetBaseFee(nil)
		defer chain.SetBaseFee(big.NewInt(10_000_000_000))
		tx := &TxRequest{To: &to, Gas: 50000}
		require.NoError(t, p.FillTransaction(ctx, tx))
		require.Equal(t, int64(20_000_000_000), tx.GasPrice.Int64())
		require.False(t, tx.IsDynamicFee())
		require.Equal(t, uint64(50000), tx.Gas)
	})
	t.Run("keeps given fees", func(t *testing.T) {
		tx := &TxRequest{To: &to, GasPrice: big.NewInt(3)}
		require.NoError(t, p.FillTransaction(ctx, tx))
		require.Equal(t, int64(3), tx.GasPrice.Int64())
	})
	t.Run("estimate fails", func(t *testing.T) {
		chain.Handle("eth_estimateGas", func(params []json.RawMessage) (any, error) {
			return nil, errors.New("gas required exceeds allowance")
		})
		tx := &TxRequest{To: &to}
		err := p.FillTransaction(ctx, tx)
		require.ErrorContains(t, err, "failed to estimate gas")
		require.ErrorContains(t, err, "gas required exceeds allowance")
	})
}

func TestSendTransactionByNode(t *testing.T) {
	p, chain := newTestProvider(t)
	from := common.HexToAddress("0xaaaa")
	to := common.HexToAddress("0xbbbb")
	_, err := p.SendTransaction(context.Background(), &TxRequest{From: &from, To: &to, Value: big.NewInt(9)})
	require.NoError(t, err)

	sent := chain.NodeSent()
	require.Len(t, sent, 1)
	require.JSONEq(t, `"0x9"`, string(sent[0]["value"]))
	require.Equal(t, uint64(1), chain.Nonce(from))
}

func TestSubscribeUnsupported(t *testing.T) {
	p := New(simplexOnly{}, testlog.Logger(t, log.LevelDebug))
	_, _, err := p.Subscribe(context.Background(), "newHeads")
	require.ErrorIs(t, err, jsonrpc.ErrNotificationsUnsupported)
}

// simplexOnly is a transport without notification support.
type simplexOnly struct{}

func (simplexOnly) NextID() jsonrpc.ID { return 1 }

func (simplexOnly) Send(ctx context.Context, req *jsonrpc.Request) (json.RawMessage, error) {
	return nil, errors.New("unused")
}

func (simplexOnly) SendBatch(ctx context.Context, reqs []*jsonrpc.Request) ([]*jsonrpc.Response, error) {
	return nil, errors.New("unused")
}

func (simplexOnly) Close() error { return nil }
