package transport

import (
	"context"
	"encoding/json"

	"golang.org/x/time/rate"

	"github.com/mantlenetworkio/ethrpc/op-provider/jsonrpc"
)

// RateLimited waits on a token bucket before every send. A batch costs one token per request.
// A non-positive rate disables limiting.
type RateLimited struct {
	inner   Transport
	limiter *rate.Limiter
	ids     Counter
}

var _ Duplex = (*RateLimited)(nil)

func NewRateLimited(inner Transport, perSecond float64, burst int) *RateLimited {
	if burst < 1 {
		burst = 1
	}
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	return &RateLimited{inner: inner, limiter: rate.NewLimiter(limit, burst)}
}

func (r *RateLimited) NextID() jsonrpc.ID {
	return r.ids.Next()
}

func (r *RateLimited) wait(ctx context.Context, n int) error {
	for ; n > 0; n -= r.limiter.Burst() {
		take := min(n, r.limiter.Burst())
		if err := r.limiter.WaitN(ctx, take); err != nil {
			return err
		}
	}
	return nil
}

func (r *RateLimited) Send(ctx context.Context, req *jsonrpc.Request) (json.RawMessage, error) {
	if err := r.wait(ctx, 1); err != nil {
		return nil, err
	}
	return r.inner.Send(ctx, Restamp(r.inner, req))
}

func (r *RateLimited) SendBatch(ctx context.Context, reqs []*jsonrpc.Request) ([]*jsonrpc.Response, error) {
	if err := r.wait(ctx, len(reqs)); err != nil {
		return nil, err
	}
	resps, err := r.inner.SendBatch(ctx, RestampBatch(r.inner, reqs))
	if err != nil {
		return nil, err
	}
	return RestoreIDs(reqs, resps), nil
}

func (r *RateLimited) Subscribe(ctx context.Context, req *jsonrpc.Request) (jsonrpc.SubscriptionID, <-chan json.RawMessage, error) {
	if err := r.wait(ctx, 1); err != nil {
		return jsonrpc.SubscriptionID{}, nil, err
	}
	return Subscribe(ctx, r.inner, req)
}

func (r *RateLimited) Unsubscribe(ctx context.Context, id jsonrpc.SubscriptionID) error {
	return Unsubscribe(ctx, r.inner, id)
}

func (r *RateLimited) Close() error {
	return r.inner.Close()
}
