package gasoracle

import (
	"context"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/errgroup"
)

// Median queries all oracles in parallel and returns the median of the values it got.
// Failing oracles are skipped.
type Median struct {
	log     log.Logger
	oracles []GasOracle
}

var _ GasOracle = (*Median)(nil)

func NewMedian(logger log.Logger, oracles ...GasOracle) *Median {
	return &Median{log: logger, oracles: oracles}
}

func (m *Median) Add(oracle GasOracle) {
	m.oracles = append(m.oracles, oracle)
}

// query runs fn against every oracle and returns the successful results.
func query[T any](ctx context.Context, m *Median, fn func(ctx context.Context, o GasOracle) (T, error)) []T {
	results := make([]*T, len(m.oracles))
	var g errgroup.Group
	for i, o := range m.oracles {
		g.Go(func() error {
			v, err := fn(ctx, o)
			if err != nil {
				m.log.Warn("Failed to fetch gas price", "oracle", i, "err", err)
				return nil
			}
			results[i] = &v
			return nil
		})
	}
	_ = g.Wait()
	out := make([]T, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}

func median(values []*big.Int) *big.Int {
	sort.Slice(values, func(i, j int) bool { return values[i].Cmp(values[j]) < 0 })
	return values[len(values)/2]
}

func (m *Median) FetchPrice(ctx context.Context) (*big.Int, error) {
	values := query(ctx, m, func(ctx context.Context, o GasOracle) (*big.Int, error) {
		return o.FetchPrice(ctx)
	})
	if len(values) == 0 {
		return nil, ErrNoValues
	}
	return median(values), nil
}

type feePair struct {
	feeCap *big.Int
	tip    *big.Int
}

// EstimateEIP1559Fees takes the median of fee caps and tips separately.
func (m *Median) EstimateEIP1559Fees(ctx context.Context) (*big.Int, *big.Int, error) {
	pairs := query(ctx, m, func(ctx context.Context, o GasOracle) (feePair, error) {
		feeCap, tip, err := o.EstimateEIP1559Fees(ctx)
		return feePair{feeCap, tip}, err
	})
	if len(pairs) == 0 {
		return nil, nil, ErrNoValues
	}
	feeCaps := make([]*big.Int, len(pairs))
	tips := make([]*big.Int, len(pairs))
	for i, p := range pairs {
		feeCaps[i], tips[i] = p.feeCap, p.tip
	}
	return median(feeCaps), median(tips), nil
}
