package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"

	"github.com/mantlenetworkio/ethrpc/op-provider/cache"
	"github.com/mantlenetworkio/ethrpc/op-provider/jsonrpc"
	"github.com/mantlenetworkio/ethrpc/op-provider/metrics"
	"github.com/mantlenetworkio/ethrpc/op-provider/provider"
)

const CacheLayer = "cache"

// cacheable maps the methods with immutable replies to a check of whether a reply can be stored.
var cacheable = map[string]func(reply json.RawMessage) bool{
	"eth_chainId":               notNull,
	"eth_getBlockByHash":        notNull,
	"eth_getTransactionReceipt": notNull,
	"eth_getTransactionByHash":  mined,
}

func notNull(reply json.RawMessage) bool {
	return len(reply) > 0 && !bytes.Equal(reply, []byte("null"))
}

func mined(reply json.RawMessage) bool {
	if !notNull(reply) {
		return false
	}
	var tx struct {
		BlockHash *common.Hash `json:"blockHash"`
	}
	return json.Unmarshal(reply, &tx) == nil && tx.BlockHash != nil
}

// Caching answers calls with immutable results from a cache.
type Caching struct {
	provider.Client
	log   log.Logger
	m     metrics.Metricer
	cache cache.Cache
}

func NewCaching(inner provider.Client, c cache.Cache, logger log.Logger, m metrics.Metricer) *Caching {
	if m == nil {
		m = metrics.NoopMetrics
	}
	return &Caching{
		Client: inner,
		log:    logger,
		m:      m,
		cache:  c,
	}
}

func WithCache(c cache.Cache, logger log.Logger, m metrics.Metricer) Layer {
	return func(inner provider.Client) provider.Client {
		return NewCaching(inner, c, logger, m)
	}
}

func (c *Caching) CallContext(ctx context.Context, result any, method string, args ...any) error {
	store, ok := cacheable[method]
	if !ok {
		return c.Client.CallContext(ctx, result, method, args...)
	}
	params, err := json.Marshal(args)
	if err != nil {
		return wrap(CacheLayer, err)
	}
	if reply, found, err := c.cache.Get(ctx, method, params); err != nil {
		c.log.Warn("Failed to read cache", "method", method, "err", err)
	} else if found {
		c.m.RecordCache(method, true)
		return decodeInto(result, reply)
	}
	c.m.RecordCache(method, false)

	var reply json.RawMessage
	if err := c.Client.CallContext(ctx, &reply, method, args...); err != nil {
		return err
	}
	if store(reply) {
		if err := c.cache.Put(ctx, method, params, reply); err != nil {
			c.log.Warn("Failed to write cache", "method", method, "err", err)
		}
	}
	return decodeInto(result, reply)
}

func decodeInto(result any, reply json.RawMessage) error {
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(reply, result); err != nil {
		return &jsonrpc.DecodeError{Raw: string(reply), Err: err}
	}
	return nil
}

func (c *Caching) ChainID(ctx context.Context) (*big.Int, error) {
	var id hexutil.Big
	if err := c.CallContext(ctx, &id, "eth_chainId"); err != nil {
		return nil, err
	}
	return (*big.Int)(&id), nil
}

func (c *Caching) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	var r *types.Receipt
	err := c.CallContext(ctx, &r, "eth_getTransactionReceipt", hash)
	if err == nil && r == nil {
		return nil, ethereum.NotFound
	}
	return r, err
}

// Close closes the cache and the inner client.
func (c *Caching) Close() error {
	cerr := c.cache.Close()
	if err := c.Client.Close(); err != nil {
		return err
	}
	return wrap(CacheLayer, cerr)
}
