package gasoracle

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	priceKey   = "price"
	eip1559Key = "eip1559"
)

type cachedFees struct {
	price  *big.Int
	feeCap *big.Int
	tip    *big.Int
}

// Cached reuses the values of the inner oracle for the validity window.
type Cached struct {
	inner  GasOracle
	mu     sync.Mutex
	values *expirable.LRU[string, cachedFees]
}

var _ GasOracle = (*Cached)(nil)

func NewCached(inner GasOracle, validity time.Duration) *Cached {
	return &Cached{
		inner:  inner,
		values: expirable.NewLRU[string, cachedFees](2, nil, validity),
	}
}

// get holds the lock while fetching, so concurrent callers share one fetch.
func (c *Cached) get(key string, fetch func() (cachedFees, error)) (cachedFees, error) {
	if v, ok := c.values.Get(key); ok {
		return v, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.values.Get(key); ok {
		return v, nil
	}
	v, err := fetch()
	if err != nil {
		return cachedFees{}, err
	}
	c.values.Add(key, v)
	return v, nil
}

func (c *Cached) FetchPrice(ctx context.Context) (*big.Int, error) {
	v, err := c.get(priceKey, func() (cachedFees, error) {
		price, err := c.inner.FetchPrice(ctx)
		return cachedFees{price: price}, err
	})
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(v.price), nil
}

func (c *Cached) EstimateEIP1559Fees(ctx context.Context) (*big.Int, *big.Int, error) {
	v, err := c.get(eip1559Key, func() (cachedFees, error) {
		feeCap, tip, err := c.inner.EstimateEIP1559Fees(ctx)
		return cachedFees{feeCap: feeCap, tip: tip}, err
	})
	if err != nil {
		return nil, nil, err
	}
	return new(big.Int).Set(v.feeCap), new(big.Int).Set(v.tip), nil
}
