package middleware

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/mantlenetworkio/ethrpc/op-provider/metrics"
	"github.com/mantlenetworkio/ethrpc/op-provider/provider"
	"github.com/mantlenetworkio/ethrpc/op-service/tasks"
)

const GasEscalatorLayer = "gas escalator"

var (
	ErrDynamicFeeEscalation = errors.New("only legacy transactions can be escalated")
	ErrUnknownSender        = errors.New("transaction has no sender to escalate for")
)

// Escalator computes the gas price of a transaction that has been pending for some time.
type Escalator interface {
	GasPrice(initial *big.Int, elapsed time.Duration) *big.Int
}

// GeometricEscalator multiplies the price by Coefficient for every full Every period.
type GeometricEscalator struct {
	Coefficient float64
	Every       time.Duration
	// Max caps the price when set.
	Max *big.Int
}

func (g GeometricEscalator) GasPrice(initial *big.Int, elapsed time.Duration) *big.Int {
	periods := periodsElapsed(elapsed, g.Every)
	factor := new(big.Float).SetPrec(256).SetFloat64(1)
	coeff := new(big.Float).SetPrec(256).SetFloat64(g.Coefficient)
	for i := uint64(0); i < periods; i++ {
		factor.Mul(factor, coeff)
		if g.Max != nil && exceeds(initial, factor, g.Max) {
			return new(big.Int).Set(g.Max)
		}
	}
	price := new(big.Float).SetPrec(256).SetInt(initial)
	price.Mul(price, factor)
	return capped(ceil(price), g.Max)
}

// LinearEscalator adds Increase for every full Every period.
type LinearEscalator struct {
	Increase *big.Int
	Every    time.Duration
	// Max caps the price when set.
	Max *big.Int
}

func (l LinearEscalator) GasPrice(initial *big.Int, elapsed time.Duration) *big.Int {
	periods := new(big.Int).SetUint64(periodsElapsed(elapsed, l.Every))
	price := new(big.Int).Mul(l.Increase, periods)
	price.Add(price, initial)
	return capped(price, l.Max)
}

func periodsElapsed(elapsed time.Duration, every time.Duration) uint64 {
	if every <= 0 || elapsed <= 0 {
		return 0
	}
	return uint64(elapsed / every)
}

func exceeds(initial *big.Int, factor *big.Float, max *big.Int) bool {
	price := new(big.Float).SetPrec(256).SetInt(initial)
	price.Mul(price, factor)
	return price.Cmp(new(big.Float).SetInt(max)) >= 0
}

func ceil(f *big.Float) *big.Int {
	i, acc := f.Int(nil)
	if acc == big.Below {
		i.Add(i, big.NewInt(1))
	}
	return i
}

func capped(price *big.Int, max *big.Int) *big.Int {
	if max != nil && price.Cmp(max) > 0 {
		return new(big.Int).Set(max)
	}
	return price
}

type escalation struct {
	hash    common.Hash
	tx      *provider.TxRequest
	initial *big.Int
	sent    time.Time
}

// GasEscalator re-sends the legacy transactions it sent at a higher gas price until they are mined.
// Replacements keep the nonce of the first send. A background poller checks every Every period.
type GasEscalator struct {
	provider.Client
	log       log.Logger
	m         metrics.Metricer
	escalator Escalator
	poller    *tasks.Poller
	now       func() time.Time

	mu      sync.Mutex
	pending []*escalation
}

func NewGasEscalator(inner provider.Client, escalator Escalator, every time.Duration, logger log.Logger, m metrics.Metricer) *GasEscalator {
	if m == nil {
		m = metrics.NoopMetrics
	}
	g := &GasEscalator{
		Client:    inner,
		log:       logger,
		m:         m,
		escalator: escalator,
		now:       time.Now,
	}
	g.poller = tasks.NewPoller(func(ctx context.Context) {
		if err := g.Escalate(ctx); err != nil {
			g.log.Warn("Gas escalation round failed", "err", err)
		}
	}, every)
	g.poller.Start()
	return g
}

func WithGasEscalator(escalator Escalator, every time.Duration, logger log.Logger, m metrics.Metricer) Layer {
	return func(inner provider.Client) provider.Client {
		return NewGasEscalator(inner, escalator, every, logger, m)
	}
}

// Pending returns the number of transactions still tracked.
func (g *GasEscalator) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}

// SendTransaction fills tx completely, including the nonce, sends it and starts tracking it.
func (g *GasEscalator) SendTransaction(ctx context.Context, tx *provider.TxRequest) (common.Hash, error) {
	if tx.IsDynamicFee() {
		return common.Hash{}, wrap(GasEscalatorLayer, ErrDynamicFeeEscalation)
	}
	tx = tx.Copy()
	if tx.GasPrice == nil {
		price, err := g.Client.SuggestGasPrice(ctx)
		if err != nil {
			return common.Hash{}, wrap(GasEscalatorLayer, err)
		}
		tx.GasPrice = price
	}
	if err := g.Client.FillTransaction(ctx, tx); err != nil {
		return common.Hash{}, wrap(GasEscalatorLayer, err)
	}
	if tx.Nonce == nil {
		if tx.From == nil {
			return common.Hash{}, wrap(GasEscalatorLayer, ErrUnknownSender)
		}
		nonce, err := g.Client.NonceAt(ctx, *tx.From, provider.PendingBlock)
		if err != nil {
			return common.Hash{}, wrap(GasEscalatorLayer, err)
		}
		tx.SetNonce(nonce)
	}
	hash, err := g.Client.SendTransaction(ctx, tx)
	if err != nil {
		return common.Hash{}, err
	}
	g.mu.Lock()
	g.pending = append(g.pending, &escalation{
		hash:    hash,
		tx:      tx,
		initial: new(big.Int).Set(tx.GasPrice),
		sent:    g.now(),
	})
	g.mu.Unlock()
	return hash, nil
}

// Escalate runs one round: mined transactions are dropped, the others are re-sent
// if their escalated price went up.
func (g *GasEscalator) Escalate(ctx context.Context) error {
	g.mu.Lock()
	round := g.pending
	g.pending = nil
	g.mu.Unlock()

	var (
		keep    []*escalation
		lastErr error
	)
	for i, e := range round {
		if ctx.Err() != nil {
			keep = append(keep, round[i:]...)
			lastErr = ctx.Err()
			break
		}
		_, err := g.Client.TransactionReceipt(ctx, e.hash)
		if err == nil {
			g.log.Debug("Escalated transaction mined", "tx", e.hash)
			continue
		}
		if !errors.Is(err, ethereum.NotFound) {
			g.log.Warn("Failed to check receipt", "tx", e.hash, "err", err)
			keep = append(keep, e)
			lastErr = err
			continue
		}
		price := g.escalator.GasPrice(e.initial, g.now().Sub(e.sent))
		if price.Cmp(e.tx.GasPrice) <= 0 {
			keep = append(keep, e)
			continue
		}
		replacement := e.tx.Copy()
		replacement.GasPrice = price
		hash, err := g.Client.SendTransaction(ctx, replacement)
		switch {
		case provider.IsNonceTooLow(err):
			g.log.Info("Stopped escalating, nonce already used", "tx", e.hash, "nonce", *e.tx.Nonce)
		case err != nil:
			g.log.Warn("Failed to send replacement", "tx", e.hash, "price", price, "err", err)
			keep = append(keep, e)
			lastErr = err
		default:
			g.log.Info("Escalated gas price", "old_tx", e.hash, "new_tx", hash, "price", price)
			g.m.RecordEscalation(GasEscalatorLayer)
			keep = append(keep, &escalation{hash: hash, tx: replacement, initial: e.initial, sent: e.sent})
		}
	}

	g.mu.Lock()
	g.pending = append(keep, g.pending...)
	g.mu.Unlock()
	return lastErr
}

// Close stops the background escalation and closes the inner client.
func (g *GasEscalator) Close() error {
	g.poller.Stop()
	return g.Client.Close()
}
