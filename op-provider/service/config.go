package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/mantlenetworkio/ethrpc/op-provider/flags"
	"github.com/mantlenetworkio/ethrpc/op-provider/quorum"
	oplog "github.com/mantlenetworkio/ethrpc/op-service/log"
	opmetrics "github.com/mantlenetworkio/ethrpc/op-service/metrics"
)

var (
	ErrNoEndpoints   = errors.New("no endpoint configured, set --rpc or --backends-file")
	ErrCacheConflict = errors.New("--cache.path and --cache.size are mutually exclusive")
)

type RetryConfig struct {
	MaxRetries        int
	MaxTimeoutRetries int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	AttemptTimeout    time.Duration
}

// CLIConfig is everything needed to build a client stack.
type CLIConfig struct {
	Endpoints     []string
	WriteEndpoint string
	// BackendsFile adds weighted backends, and may set the quorum rule.
	BackendsFile    string
	QuorumRule      quorum.Rule
	NormalizeLatest bool

	Retry         RetryConfig
	RateLimit     float64
	RateBurst     int
	MaxReconnects int
	HTTPTimeout   time.Duration

	CachePath string
	CacheSize int
	TimeLag   uint64

	PollInterval time.Duration

	LogConfig     oplog.CLIConfig
	MetricsConfig opmetrics.CLIConfig
}

func (c *CLIConfig) Check() error {
	if len(c.Endpoints) == 0 && c.BackendsFile == "" {
		return ErrNoEndpoints
	}
	for i, e := range c.Endpoints {
		if e == "" {
			return fmt.Errorf("endpoint %d is empty", i)
		}
	}
	if c.Retry.MaxRetries < 0 || c.Retry.MaxTimeoutRetries < 0 {
		return errors.New("retry counts must not be negative")
	}
	if c.Retry.InitialBackoff < 0 || c.Retry.MaxBackoff < c.Retry.InitialBackoff {
		return fmt.Errorf("invalid retry backoff range %v to %v", c.Retry.InitialBackoff, c.Retry.MaxBackoff)
	}
	if c.Retry.AttemptTimeout < 0 {
		return errors.New("retry attempt timeout must not be negative")
	}
	if c.RateLimit < 0 {
		return errors.New("rate limit must not be negative")
	}
	if c.RateLimit > 0 && c.RateBurst < 1 {
		return errors.New("rate limit burst must be at least 1")
	}
	if c.MaxReconnects < 0 {
		return errors.New("max reconnects must not be negative")
	}
	if c.CachePath != "" && c.CacheSize > 0 {
		return ErrCacheConflict
	}
	if c.CacheSize < 0 {
		return errors.New("cache size must not be negative")
	}
	if c.PollInterval <= 0 {
		return errors.New("poll interval must be positive")
	}
	if err := c.MetricsConfig.Check(); err != nil {
		return err
	}
	return nil
}

// ReadCLIConfig reads and checks the configuration.
func ReadCLIConfig(ctx *cli.Context) (*CLIConfig, error) {
	logCfg, err := oplog.ReadCLIConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("invalid log config: %w", err)
	}
	rule := quorum.Majority()
	if r, ok := ctx.Generic(flags.QuorumRuleFlag.Name).(*quorum.Rule); ok && r != nil {
		rule = *r
	}
	cfg := &CLIConfig{
		Endpoints:       ctx.StringSlice(flags.RPCFlag.Name),
		WriteEndpoint:   ctx.String(flags.WriteRPCFlag.Name),
		BackendsFile:    ctx.String(flags.BackendsFileFlag.Name),
		QuorumRule:      rule,
		NormalizeLatest: ctx.Bool(flags.QuorumNormalizeLatestFlag.Name),
		Retry: RetryConfig{
			MaxRetries:        ctx.Int(flags.RetryMaxFlag.Name),
			MaxTimeoutRetries: ctx.Int(flags.RetryMaxTimeoutsFlag.Name),
			InitialBackoff:    ctx.Duration(flags.RetryInitialBackoffFlag.Name),
			MaxBackoff:        ctx.Duration(flags.RetryMaxBackoffFlag.Name),
			AttemptTimeout:    ctx.Duration(flags.RetryAttemptTimeoutFlag.Name),
		},
		RateLimit:     ctx.Float64(flags.RateLimitFlag.Name),
		RateBurst:     ctx.Int(flags.RateBurstFlag.Name),
		MaxReconnects: ctx.Int(flags.MaxReconnectsFlag.Name),
		HTTPTimeout:   ctx.Duration(flags.HTTPTimeoutFlag.Name),
		CachePath:     ctx.String(flags.CachePathFlag.Name),
		CacheSize:     ctx.Int(flags.CacheSizeFlag.Name),
		TimeLag:       ctx.Uint64(flags.TimeLagFlag.Name),
		PollInterval:  ctx.Duration(flags.PollIntervalFlag.Name),
		LogConfig:     logCfg,
		MetricsConfig: opmetrics.ReadCLIConfig(ctx),
	}
	if err := cfg.Check(); err != nil {
		return nil, err
	}
	return cfg, nil
}
