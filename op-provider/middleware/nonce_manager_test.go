package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/require"

	"github.com/mantlenetworkio/ethrpc/op-provider/provider"
	"github.com/mantlenetworkio/ethrpc/op-service/testlog"
)

func TestNonceSequenceTake(t *testing.T) {
	t.Run("sequential nonces with no gaps", func(t *testing.T) {
		s := nonceSequence{next: 5}

		require.Equal(t, uint64(5), s.take())
		require.Equal(t, uint64(6), s.take())
		require.Equal(t, uint64(7), s.take())
	})

	t.Run("gaps first before incrementing", func(t *testing.T) {
		s := nonceSequence{next: 10}

		s.release(7)
		s.release(3)
		s.release(5)

		require.Equal(t, uint64(3), s.take())
		require.Equal(t, uint64(5), s.take())
		require.Equal(t, uint64(7), s.take())
		require.Equal(t, uint64(10), s.take())
		require.Equal(t, uint64(11), s.take())
	})
}

func TestNonceSequenceRelease(t *testing.T) {
	t.Run("keeps gaps sorted", func(t *testing.T) {
		s := nonceSequence{next: 100}
		for _, n := range []uint64{50, 30, 70, 40, 60} {
			s.release(n)
		}
		require.Equal(t, []uint64{30, 40, 50, 60, 70}, s.gaps)
	})

	t.Run("duplicate release is a no-op", func(t *testing.T) {
		s := nonceSequence{next: 100}
		s.release(50)
		s.release(50)

		require.Equal(t, uint64(50), s.take())
		require.Equal(t, uint64(100), s.take())
	})

	t.Run("future nonce is a no-op", func(t *testing.T) {
		s := nonceSequence{next: 20}
		s.release(21)
		s.release(20)

		require.Equal(t, uint64(20), s.take())
		require.Equal(t, uint64(21), s.take())
		require.Equal(t, uint64(22), s.take())
	})
}

func nodeNonces(t *testing.T, sent []map[string]json.RawMessage) []string {
	out := make([]string, len(sent))
	for i, arg := range sent {
		require.NoError(t, json.Unmarshal(arg["nonce"], &out[i]))
	}
	return out
}

func TestNonceManagerAssigns(t *testing.T) {
	p, chain := newTestProvider(t, 901)
	addr := common.HexToAddress("0xaaaa")
	chain.SetNonce(addr, 7)
	nm := NewNonceManager(p, addr, testlog.Logger(t, log.LevelDebug))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := nm.SendTransaction(ctx, &provider.TxRequest{})
		require.NoError(t, err)
	}
	require.Equal(t, []string{"0x7", "0x8", "0x9"}, nodeNonces(t, chain.NodeSent()))
	require.Equal(t, 1, chain.Calls("eth_getTransactionCount"))

	var from common.Address
	require.NoError(t, json.Unmarshal(chain.NodeSent()[0]["from"], &from))
	require.Equal(t, addr, from)

	tx := &provider.TxRequest{}
	require.NoError(t, nm.FillTransaction(ctx, tx))
	require.Equal(t, uint64(10), *tx.Nonce)
}

func TestNonceManagerPassesThrough(t *testing.T) {
	p, chain := newTestProvider(t, 901)
	addr := common.HexToAddress("0xaaaa")
	other := common.HexToAddress("0xbbbb")
	nm := NewNonceManager(p, addr, testlog.Logger(t, log.LevelDebug))
	ctx := context.Background()

	given := &provider.TxRequest{From: &addr}
	given.SetNonce(42)
	_, err := nm.SendTransaction(ctx, given)
	require.NoError(t, err)

	_, err = nm.SendTransaction(ctx, &provider.TxRequest{From: &other})
	require.NoError(t, err)

	require.Zero(t, chain.Calls("eth_getTransactionCount"))
	sent := chain.NodeSent()
	require.Len(t, sent, 2)
	require.JSONEq(t, `"0x2a"`, string(sent[0]["nonce"]))
	require.NotContains(t, sent[1], "nonce")
}

func TestNonceManagerReusesFailedNonce(t *testing.T) {
	p, chain := newTestProvider(t, 901)
	addr := common.HexToAddress("0xaaaa")
	nm := NewNonceManager(p, addr, testlog.Logger(t, log.LevelDebug))
	ctx := context.Background()

	_, err := nm.SendTransaction(ctx, &provider.TxRequest{})
	require.NoError(t, err)

	chain.RejectSend(func(*types.Transaction) error {
		return errors.New("insufficient funds for gas * price + value")
	})
	_, err = nm.SendTransaction(ctx, &provider.TxRequest{})
	require.ErrorContains(t, err, "insufficient funds")
	require.Equal(t, []string{NonceManagerLayer}, Layers(err))

	chain.RejectSend(nil)
	_, err = nm.SendTransaction(ctx, &provider.TxRequest{})
	require.NoError(t, err)
	require.Equal(t, []string{"0x0", "0x1"}, nodeNonces(t, chain.NodeSent()))
}

func TestNonceManagerResyncsWhenBehind(t *testing.T) {
	p, chain := newTestProvider(t, 901)
	addr := common.HexToAddress("0xaaaa")
	nm := NewNonceManager(p, addr, testlog.Logger(t, log.LevelDebug))
	ctx := context.Background()

	_, err := nm.SendTransaction(ctx, &provider.TxRequest{})
	require.NoError(t, err)

	// sent by someone else
	chain.SetNonce(addr, 5)

	_, err = nm.SendTransaction(ctx, &provider.TxRequest{})
	require.NoError(t, err)
	_, err = nm.SendTransaction(ctx, &provider.TxRequest{})
	require.NoError(t, err)
	require.Equal(t, []string{"0x0", "0x5", "0x6"}, nodeNonces(t, chain.NodeSent()))
}

func TestNonceManagerReset(t *testing.T) {
	p, chain := newTestProvider(t, 901)
	addr := common.HexToAddress("0xaaaa")
	nm := NewNonceManager(p, addr, testlog.Logger(t, log.LevelDebug))
	ctx := context.Background()

	n, err := nm.Next(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	chain.SetNonce(addr, 9)
	nm.Reset()
	n, err = nm.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(9), n)

	nm.Release(9)
	n, err = nm.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(9), n)
	require.Equal(t, 2, chain.Calls("eth_getTransactionCount"))
}
