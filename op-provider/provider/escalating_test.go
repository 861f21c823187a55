package provider

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/require"

	"github.com/mantlenetworkio/ethrpc/op-provider/testutils"
	"github.com/mantlenetworkio/ethrpc/op-service/testlog"
)

// signedEscalations signs n replacements of the same transfer, at gas prices 1..n gwei.
func signedEscalations(t *testing.T, chain *testutils.FakeChain, n int) [][]byte {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := types.LatestSignerForChainID(chain.ChainID())
	to := common.HexToAddress("0xdead")
	out := make([][]byte, n)
	for i := range out {
		tx, err := types.SignNewTx(key, signer, &types.LegacyTx{
			Nonce:    0,
			GasPrice: new(big.Int).Mul(big.NewInt(int64(i+1)), big.NewInt(1_000_000_000)),
			Gas:      21000,
			To:       &to,
			Value:    big.NewInt(1),
		})
		require.NoError(t, err)
		out[i], err = tx.MarshalBinary()
		require.NoError(t, err)
	}
	return out
}

func newTestEscalation(t *testing.T, p *Provider, txs [][]byte) *EscalatingPending {
	e, err := NewEscalatingPending(p, txs, testlog.Logger(t, log.LevelDebug))
	require.NoError(t, err)
	return e.WithPollInterval(2 * time.Millisecond).WithBroadcastInterval(20 * time.Millisecond)
}

func TestEscalatingReturnsFirstMined(t *testing.T) {
	p, chain := newTestProvider(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	e := newTestEscalation(t, p, signedEscalations(t, chain, 5))
	done := make(chan waitResult, 1)
	go func() {
		receipt, err := e.Wait(ctx)
		done <- waitResult{receipt, err}
	}()

	require.Eventually(t, func() bool { return len(chain.Sent()) >= 2 }, 5*time.Second, time.Millisecond)
	sent := chain.Sent()
	require.Less(t, sent[0].GasPrice().Uint64(), sent[1].GasPrice().Uint64(), "cheapest goes first")
	chain.Mine(sent[1].Hash())

	res := <-done
	require.NoError(t, res.err)
	require.Equal(t, sent[1].Hash(), res.receipt.TxHash)
	require.LessOrEqual(t, len(chain.Sent()), 5)
}

func TestEscalatingNonceTooLow(t *testing.T) {
	p, chain := newTestProvider(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	txs := signedEscalations(t, chain, 4)
	first := new(types.Transaction)
	require.NoError(t, first.UnmarshalBinary(txs[0]))
	chain.RejectSend(func(tx *types.Transaction) error {
		if tx.Hash() != first.Hash() {
			return errors.New("nonce too low")
		}
		return nil
	})

	e := newTestEscalation(t, p, txs)
	done := make(chan waitResult, 1)
	go func() {
		receipt, err := e.Wait(ctx)
		done <- waitResult{receipt, err}
	}()
	// every replacement gets rejected, the escalation keeps checking
	require.Never(t, func() bool { return len(done) > 0 }, 100*time.Millisecond, 5*time.Millisecond)
	require.GreaterOrEqual(t, chain.Calls("eth_sendRawTransaction"), 2)

	chain.Mine(first.Hash())
	res := <-done
	require.NoError(t, res.err)
	require.Equal(t, first.Hash(), res.receipt.TxHash)
}

func TestEscalatingNonceUsedElsewhere(t *testing.T) {
	p, chain := newTestProvider(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	chain.RejectSend(func(tx *types.Transaction) error {
		return errors.New("nonce too low")
	})

	e := newTestEscalation(t, p, signedEscalations(t, chain, 2))
	_, err := e.Wait(ctx)
	require.ErrorIs(t, err, ErrNonceAlreadyUsed)
	require.NoError(t, ctx.Err(), "returned before the deadline")
	require.Equal(t, 2, chain.Calls("eth_sendRawTransaction"))
}

func TestEscalatingBroadcastError(t *testing.T) {
	p, chain := newTestProvider(t)
	chain.RejectSend(func(tx *types.Transaction) error {
		return errors.New("insufficient funds for gas * price + value")
	})
	e := newTestEscalation(t, p, signedEscalations(t, chain, 2))
	_, err := e.Wait(context.Background())
	require.ErrorContains(t, err, "insufficient funds")
}

func TestEscalatingNeedsTransactions(t *testing.T) {
	p, _ := newTestProvider(t)
	_, err := NewEscalatingPending(p, nil, testlog.Logger(t, log.LevelDebug))
	require.ErrorIs(t, err, ErrNoTransactions)
}
