package service

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/log"
	"github.com/hashicorp/go-multierror"

	"github.com/mantlenetworkio/ethrpc/op-provider/cache"
	"github.com/mantlenetworkio/ethrpc/op-provider/metrics"
	"github.com/mantlenetworkio/ethrpc/op-provider/middleware"
	"github.com/mantlenetworkio/ethrpc/op-provider/provider"
	"github.com/mantlenetworkio/ethrpc/op-provider/quorum"
	"github.com/mantlenetworkio/ethrpc/op-provider/transport"
	"github.com/mantlenetworkio/ethrpc/op-service/retry"
)

// NewTransport dials every configured endpoint and combines them: several read endpoints form a
// quorum, a write endpoint splits reads from writes.
func NewTransport(ctx context.Context, cfg *CLIConfig, logger log.Logger, m metrics.Metricer) (transport.Transport, error) {
	entries := make([]BackendEntry, 0, len(cfg.Endpoints))
	for _, e := range cfg.Endpoints {
		entries = append(entries, BackendEntry{URL: e, Weight: 1})
	}
	qcfg := quorum.Config{Rule: cfg.QuorumRule, NormalizeLatest: cfg.NormalizeLatest}
	if cfg.BackendsFile != "" {
		f, err := LoadBackendsFile(cfg.BackendsFile)
		if err != nil {
			return nil, err
		}
		entries = append(entries, f.Backends...)
		if f.Rule != nil {
			qcfg.Rule = *f.Rule
		}
		qcfg.NormalizeLatest = qcfg.NormalizeLatest || f.NormalizeLatest
	}

	var dialed []transport.Transport
	closeAll := func(cause error) error {
		result := multierror.Append(nil, cause)
		for _, t := range dialed {
			if err := t.Close(); err != nil {
				result = multierror.Append(result, err)
			}
		}
		return result.ErrorOrNil()
	}

	backends := make([]quorum.Backend, 0, len(entries))
	for _, e := range entries {
		t, err := dialEndpoint(ctx, e.URL, cfg, logger, m)
		if err != nil {
			return nil, closeAll(fmt.Errorf("failed to dial %s: %w", e.URL, err))
		}
		dialed = append(dialed, t)
		backends = append(backends, quorum.Backend{Name: e.Name, Transport: t, Weight: e.Weight})
	}

	var read transport.Transport
	if len(backends) == 1 {
		read = backends[0].Transport
	} else {
		q, err := quorum.New(backends, qcfg, logger, m)
		if err != nil {
			return nil, closeAll(err)
		}
		logger.Info("Using quorum", "backends", len(backends), "rule", qcfg.Rule, "required_weight", q.RequiredWeight())
		read = q
	}

	if cfg.WriteEndpoint == "" {
		return read, nil
	}
	write, err := dialEndpoint(ctx, cfg.WriteEndpoint, cfg, logger, m)
	if err != nil {
		return nil, closeAll(fmt.Errorf("failed to dial write endpoint: %w", err))
	}
	return transport.NewRwSplit(read, write), nil
}

func dialEndpoint(ctx context.Context, endpoint string, cfg *CLIConfig, logger log.Logger, m metrics.Metricer) (transport.Transport, error) {
	socket := transport.DefaultSocketConfig("")
	socket.MaxReconnects = cfg.MaxReconnects
	t, err := transport.Dial(ctx, endpoint, transport.DialConfig{
		HTTP:   transport.HTTPConfig{Timeout: cfg.HTTPTimeout},
		Socket: socket,
	}, logger, m)
	if err != nil {
		return nil, err
	}
	if cfg.Retry.MaxRetries > 0 || cfg.Retry.MaxTimeoutRetries > 0 {
		t = transport.NewRetry(t, transport.RetryConfig{
			MaxRetries:        cfg.Retry.MaxRetries,
			MaxTimeoutRetries: cfg.Retry.MaxTimeoutRetries,
			Backoff:           retry.Geometric(cfg.Retry.InitialBackoff, 2, cfg.Retry.MaxBackoff),
			AttemptTimeout:    cfg.Retry.AttemptTimeout,
		}, logger, m)
	}
	if cfg.RateLimit > 0 {
		t = transport.NewRateLimited(t, cfg.RateLimit, cfg.RateBurst)
	}
	return t, nil
}

// NewCache opens the configured reply cache. It returns nil when caching is disabled.
func NewCache(cfg *CLIConfig) (cache.Cache, error) {
	switch {
	case cfg.CachePath != "":
		return cache.OpenLevelDB(cfg.CachePath)
	case cfg.CacheSize > 0:
		return cache.NewMemory(cfg.CacheSize)
	default:
		return nil, nil
	}
}

// NewClient builds the full client: transport stack, provider and the read middleware.
func NewClient(ctx context.Context, cfg *CLIConfig, logger log.Logger, m metrics.Metricer) (provider.Client, error) {
	if m == nil {
		m = metrics.NoopMetrics
	}
	t, err := NewTransport(ctx, cfg, logger, m)
	if err != nil {
		return nil, err
	}
	p := provider.New(t, logger).WithPollInterval(cfg.PollInterval)

	var layers []middleware.Layer
	c, err := NewCache(cfg)
	if err != nil {
		return nil, multierror.Append(err, p.Close())
	}
	if c != nil {
		layers = append(layers, middleware.WithCache(c, logger, m))
	}
	if cfg.TimeLag > 0 {
		layers = append(layers, middleware.WithTimeLag(cfg.TimeLag))
	}
	return middleware.Chain(p, layers...), nil
}
