package middleware

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/params"
	"github.com/stretchr/testify/require"

	"github.com/mantlenetworkio/ethrpc/op-provider/metrics"
	"github.com/mantlenetworkio/ethrpc/op-provider/provider"
	"github.com/mantlenetworkio/ethrpc/op-provider/testutils"
	"github.com/mantlenetworkio/ethrpc/op-service/testlog"
)

func gwei(f float64) *big.Int {
	v, _ := new(big.Float).Mul(big.NewFloat(f), big.NewFloat(params.GWei)).Int(nil)
	return v
}

func requireBig(t *testing.T, want *big.Int, got *big.Int, msgAndArgs ...any) {
	t.Helper()
	require.Equal(t, want.String(), got.String(), msgAndArgs...)
}

func TestGeometricEscalator(t *testing.T) {
	type step struct {
		elapsed time.Duration
		price   int64
	}
	tests := []struct {
		name      string
		escalator GeometricEscalator
		initial   int64
		steps     []step
	}{
		{
			name:      "uncapped",
			escalator: GeometricEscalator{Coefficient: 1.125, Every: 10 * time.Second},
			initial:   100,
			steps: []step{
				{0, 100}, {time.Second, 100}, {10 * time.Second, 113}, {15 * time.Second, 113},
				{20 * time.Second, 127}, {30 * time.Second, 143}, {50 * time.Second, 181}, {100 * time.Second, 325},
			},
		},
		{
			name:      "capped",
			escalator: GeometricEscalator{Coefficient: 1.125, Every: 60 * time.Second, Max: big.NewInt(2500)},
			initial:   1000,
			steps: []step{
				{0, 1000}, {59 * time.Second, 1000}, {60 * time.Second, 1125}, {119 * time.Second, 1125},
				{120 * time.Second, 1266}, {1200 * time.Second, 2500}, {3000 * time.Second, 2500},
				{1_000_000 * time.Second, 2500},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, s := range tt.steps {
				got := tt.escalator.GasPrice(big.NewInt(tt.initial), s.elapsed)
				require.Equal(t, s.price, got.Int64(), "after %v", s.elapsed)
			}
		})
	}
}

func TestGeometricEscalatorGwei(t *testing.T) {
	e := GeometricEscalator{Coefficient: 1.25, Every: 10 * time.Second}
	initial := gwei(100)
	requireBig(t, gwei(100), e.GasPrice(initial, 0))
	requireBig(t, gwei(100), e.GasPrice(initial, time.Second))
	requireBig(t, gwei(125), e.GasPrice(initial, 10*time.Second))
	requireBig(t, gwei(125), e.GasPrice(initial, 12*time.Second))
	requireBig(t, gwei(195.3125), e.GasPrice(initial, 30*time.Second))
	requireBig(t, big.NewInt(381_469_726_563), e.GasPrice(initial, 60*time.Second))
}

func TestLinearEscalator(t *testing.T) {
	e := LinearEscalator{Increase: big.NewInt(100), Every: 60 * time.Second}
	for elapsed, want := range map[time.Duration]int64{
		0:                     1000,
		59 * time.Second:      1000,
		60 * time.Second:      1100,
		119 * time.Second:     1100,
		120 * time.Second:     1200,
		1200 * time.Second:    3000,
		-10 * time.Second:     1000,
		1_000_000 * time.Hour: 1000 + 100*60_000_000,
	} {
		require.Equal(t, want, e.GasPrice(big.NewInt(1000), elapsed).Int64(), "after %v", elapsed)
	}

	e.Max = big.NewInt(2500)
	for elapsed, want := range map[time.Duration]int64{
		120 * time.Second:       1200,
		1200 * time.Second:      2500,
		3000 * time.Second:      2500,
		1_000_000 * time.Second: 2500,
	} {
		require.Equal(t, want, e.GasPrice(big.NewInt(1000), elapsed).Int64(), "after %v", elapsed)
	}
}

type escalatorSetup struct {
	chain *testutils.FakeChain
	esc   *GasEscalator
	clock time.Time
}

func (s *escalatorSetup) advance(d time.Duration) {
	s.clock = s.clock.Add(d)
}

func newTestEscalator(t *testing.T) *escalatorSetup {
	return newTestEscalatorWithMetrics(t, metrics.NoopMetrics)
}

func newTestEscalatorWithMetrics(t *testing.T, m metrics.Metricer) *escalatorSetup {
	p, chain := newTestProvider(t, 901)
	logger := testlog.Logger(t, log.LevelDebug)
	signing := NewSigning(p, newTestSigner(t), logger)
	s := &escalatorSetup{chain: chain, clock: time.Unix(1_700_000_000, 0)}
	// the poller never fires during a test, rounds are run by hand
	s.esc = NewGasEscalator(signing, LinearEscalator{Increase: gwei(1), Every: time.Minute}, time.Hour, logger, m)
	s.esc.now = func() time.Time { return s.clock }
	t.Cleanup(func() { require.NoError(t, s.esc.Close()) })
	return s
}

func TestGasEscalatorReplacesUntilMined(t *testing.T) {
	s := newTestEscalator(t)
	ctx := context.Background()
	to := common.HexToAddress("0xbeef")

	hash, err := s.esc.SendTransaction(ctx, &provider.TxRequest{To: &to})
	require.NoError(t, err)
	require.Equal(t, 1, s.esc.Pending())
	first := s.chain.Sent()[0]
	require.Equal(t, hash, first.Hash())
	require.Equal(t, uint8(types.LegacyTxType), first.Type())
	requireBig(t, gwei(20), first.GasPrice())

	s.advance(30 * time.Second)
	require.NoError(t, s.esc.Escalate(ctx))
	require.Len(t, s.chain.Sent(), 1, "price did not change yet")

	s.advance(30 * time.Second)
	require.NoError(t, s.esc.Escalate(ctx))
	sent := s.chain.Sent()
	require.Len(t, sent, 2)
	requireBig(t, gwei(21), sent[1].GasPrice())
	require.Equal(t, first.Nonce(), sent[1].Nonce())

	s.advance(2 * time.Minute)
	require.NoError(t, s.esc.Escalate(ctx))
	sent = s.chain.Sent()
	require.Len(t, sent, 3)
	requireBig(t, gwei(23), sent[2].GasPrice(), "escalated from the first price")

	s.chain.Mine(sent[2].Hash())
	require.NoError(t, s.esc.Escalate(ctx))
	require.Zero(t, s.esc.Pending())
}

func TestGasEscalatorNilMetrics(t *testing.T) {
	s := newTestEscalatorWithMetrics(t, nil)
	ctx := context.Background()
	to := common.HexToAddress("0xbeef")

	_, err := s.esc.SendTransaction(ctx, &provider.TxRequest{To: &to})
	require.NoError(t, err)
	s.advance(time.Minute)
	require.NoError(t, s.esc.Escalate(ctx))
	require.Len(t, s.chain.Sent(), 2, "replacement recorded without a metricer")
}

func TestGasEscalatorStopsOnNonceTooLow(t *testing.T) {
	s := newTestEscalator(t)
	ctx := context.Background()
	to := common.HexToAddress("0xbeef")

	_, err := s.esc.SendTransaction(ctx, &provider.TxRequest{To: &to})
	require.NoError(t, err)
	s.chain.RejectSend(func(*types.Transaction) error {
		return errors.New("nonce too low")
	})
	s.advance(time.Minute)
	require.NoError(t, s.esc.Escalate(ctx))
	require.Zero(t, s.esc.Pending())
}

func TestGasEscalatorKeepsTrackingOnSendError(t *testing.T) {
	s := newTestEscalator(t)
	ctx := context.Background()
	to := common.HexToAddress("0xbeef")

	_, err := s.esc.SendTransaction(ctx, &provider.TxRequest{To: &to})
	require.NoError(t, err)
	s.chain.RejectSend(func(*types.Transaction) error {
		return errors.New("txpool is full")
	})
	s.advance(time.Minute)
	require.ErrorContains(t, s.esc.Escalate(ctx), "txpool is full")
	require.Equal(t, 1, s.esc.Pending())

	s.chain.RejectSend(nil)
	require.NoError(t, s.esc.Escalate(ctx))
	require.Len(t, s.chain.Sent(), 2)
}

func TestGasEscalatorRejectsDynamicFee(t *testing.T) {
	s := newTestEscalator(t)
	to := common.HexToAddress("0xbeef")
	_, err := s.esc.SendTransaction(context.Background(), &provider.TxRequest{To: &to, GasTipCap: gwei(1)})
	require.ErrorIs(t, err, ErrDynamicFeeEscalation)
	require.Equal(t, []string{GasEscalatorLayer}, Layers(err))
	require.Empty(t, s.chain.Sent())
}
