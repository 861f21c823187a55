package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/mantlenetworkio/ethrpc/op-provider/jsonrpc"
	"github.com/mantlenetworkio/ethrpc/op-provider/metrics"
	"github.com/mantlenetworkio/ethrpc/op-service/retry"
)

// RetryPolicy decides whether a failed request is worth sending again.
// Timeouts are not passed to it: they have their own budget.
type RetryPolicy interface {
	ShouldRetry(err error) bool
}

type RetryPolicyFunc func(err error) bool

func (f RetryPolicyFunc) ShouldRetry(err error) bool {
	return f(err)
}

const (
	codeRateLimited         = 429
	codeLimitExceeded       = -32005
	codeServerBusy          = -32016
	rateLimitedMsgFragment  = "rate limit"
	tooManyRequestsFragment = "too many requests"
)

// DefaultRetryPolicy retries rate limiting and connection level failures.
var DefaultRetryPolicy RetryPolicy = RetryPolicyFunc(isRetryable)

func isRetryable(err error) bool {
	var httpErr *jsonrpc.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusTooManyRequests ||
			httpErr.StatusCode == http.StatusBadGateway ||
			httpErr.StatusCode == http.StatusServiceUnavailable
	}
	var rpcErr *jsonrpc.Error
	if errors.As(err, &rpcErr) {
		switch rpcErr.Code {
		case codeRateLimited, codeLimitExceeded, codeServerBusy:
			return true
		}
		msg := strings.ToLower(rpcErr.Message)
		return strings.Contains(msg, rateLimitedMsgFragment) || strings.Contains(msg, tooManyRequestsFragment)
	}
	var transportErr *jsonrpc.TransportError
	return errors.As(err, &transportErr)
}

type RetryConfig struct {
	MaxRetries        int
	MaxTimeoutRetries int
	Backoff           retry.Strategy
	// AttemptTimeout bounds every attempt. Zero leaves only the caller's deadline.
	AttemptTimeout time.Duration
	Policy         RetryPolicy
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        10,
		MaxTimeoutRetries: 3,
		Backoff:           retry.Geometric(500*time.Millisecond, 2, 10*time.Second),
		Policy:            DefaultRetryPolicy,
	}
}

// RetryExhaustedError is returned once a retry budget is spent. It wraps the last failure.
type RetryExhaustedError struct {
	Attempts int
	Err      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.Err
}

// Retry re-sends failed requests to the inner transport.
type Retry struct {
	log   log.Logger
	m     metrics.Metricer
	name  string
	inner Transport
	cfg   RetryConfig
	ids   Counter
}

var _ Duplex = (*Retry)(nil)

func NewRetry(inner Transport, cfg RetryConfig, logger log.Logger, m metrics.Metricer) *Retry {
	if m == nil {
		m = metrics.NoopMetrics
	}
	if cfg.Policy == nil {
		cfg.Policy = DefaultRetryPolicy
	}
	if cfg.Backoff == nil {
		cfg.Backoff = DefaultRetryConfig().Backoff
	}
	return &Retry{
		log:   logger.New("transport", "retry"),
		m:     m,
		name:  "retry",
		inner: inner,
		cfg:   cfg,
	}
}

func (r *Retry) NextID() jsonrpc.ID {
	return r.ids.Next()
}

func (r *Retry) Inner() Transport {
	return r.inner
}

// do runs attempt until it succeeds, fails for good, or a budget runs out.
func do[T any](ctx context.Context, r *Retry, method string, attempt func(ctx context.Context) (T, error)) (T, error) {
	var (
		empty          T
		retries        int
		timeoutRetries int
		attempts       int
	)
	for {
		attempts++
		attemptCtx, cancel := ctx, context.CancelFunc(func() {})
		if r.cfg.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, r.cfg.AttemptTimeout)
		}
		res, err := attempt(attemptCtx)
		cancel()
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil {
			// the caller gave up, not the attempt
			return empty, err
		}
		var delay time.Duration
		switch {
		case jsonrpc.IsTimeout(err):
			if timeoutRetries >= r.cfg.MaxTimeoutRetries {
				return empty, &RetryExhaustedError{Attempts: attempts, Err: err}
			}
			delay = r.cfg.Backoff.Duration(timeoutRetries)
			timeoutRetries++
			r.m.RecordRetry(r.name, method, true)
		case r.cfg.Policy.ShouldRetry(err):
			if retries >= r.cfg.MaxRetries {
				return empty, &RetryExhaustedError{Attempts: attempts, Err: err}
			}
			delay = r.cfg.Backoff.Duration(retries)
			retries++
			r.m.RecordRetry(r.name, method, false)
		default:
			return empty, err
		}
		r.log.Debug("Retrying request", "method", method, "attempt", attempts, "delay", delay, "err", err)
		if err := retry.Wait(ctx, delay); err != nil {
			return empty, err
		}
	}
}

func (r *Retry) Send(ctx context.Context, req *jsonrpc.Request) (json.RawMessage, error) {
	return do(ctx, r, req.Method, func(ctx context.Context) (json.RawMessage, error) {
		return r.inner.Send(ctx, Restamp(r.inner, req))
	})
}

func (r *Retry) SendBatch(ctx context.Context, reqs []*jsonrpc.Request) ([]*jsonrpc.Response, error) {
	if len(reqs) == 0 {
		return nil, nil
	}
	return do(ctx, r, "batch", func(ctx context.Context) ([]*jsonrpc.Response, error) {
		resps, err := r.inner.SendBatch(ctx, RestampBatch(r.inner, reqs))
		if err != nil {
			return nil, err
		}
		return RestoreIDs(reqs, resps), nil
	})
}

// Subscriptions are not retried: a failed subscribe is reported to the caller.
func (r *Retry) Subscribe(ctx context.Context, req *jsonrpc.Request) (jsonrpc.SubscriptionID, <-chan json.RawMessage, error) {
	return Subscribe(ctx, r.inner, req)
}

func (r *Retry) Unsubscribe(ctx context.Context, id jsonrpc.SubscriptionID) error {
	return Unsubscribe(ctx, r.inner, id)
}

func (r *Retry) Close() error {
	return r.inner.Close()
}
