package flags

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/mantlenetworkio/ethrpc/op-provider/quorum"
	opservice "github.com/mantlenetworkio/ethrpc/op-service"
	oplog "github.com/mantlenetworkio/ethrpc/op-service/log"
	opmetrics "github.com/mantlenetworkio/ethrpc/op-service/metrics"
)

const EnvVarPrefix = "OP_PROVIDER"

func prefixEnvVars(name string) []string {
	return opservice.PrefixEnvVar(EnvVarPrefix, name)
}

var (
	RPCFlag = &cli.StringSliceFlag{
		Name:    "rpc",
		Usage:   "Endpoint(s) to read from: http(s)://, ws(s):// or an IPC socket path. Several endpoints form a quorum",
		EnvVars: prefixEnvVars("RPC"),
	}
	WriteRPCFlag = &cli.StringFlag{
		Name:    "write-rpc",
		Usage:   "Endpoint that receives eth_sendTransaction and eth_sendRawTransaction, all other calls go to --rpc",
		EnvVars: prefixEnvVars("WRITE_RPC"),
	}
	BackendsFileFlag = &cli.StringFlag{
		Name:    "backends-file",
		Usage:   "TOML file listing weighted quorum backends and the quorum rule",
		EnvVars: prefixEnvVars("BACKENDS_FILE"),
	}
	QuorumRuleFlag = &cli.GenericFlag{
		Name:    "quorum.rule",
		Usage:   "Agreement needed between backends: majority, all, percentage:<p>, count:<n> or weight:<w>",
		Value:   func() *quorum.Rule { r := quorum.Majority(); return &r }(),
		EnvVars: prefixEnvVars("QUORUM_RULE"),
	}
	QuorumNormalizeLatestFlag = &cli.BoolFlag{
		Name:    "quorum.normalize-latest",
		Usage:   "Pin the \"latest\" block parameter of state reads to the lowest head reported by the backends",
		EnvVars: prefixEnvVars("QUORUM_NORMALIZE_LATEST"),
	}
	RetryMaxFlag = &cli.IntFlag{
		Name:    "retry.max",
		Usage:   "Retries of rate limited and failed requests. 0 disables retrying",
		Value:   10,
		EnvVars: prefixEnvVars("RETRY_MAX"),
	}
	RetryMaxTimeoutsFlag = &cli.IntFlag{
		Name:    "retry.max-timeouts",
		Usage:   "Retries of timed out requests",
		Value:   3,
		EnvVars: prefixEnvVars("RETRY_MAX_TIMEOUTS"),
	}
	RetryInitialBackoffFlag = &cli.DurationFlag{
		Name:    "retry.initial-backoff",
		Usage:   "Wait before the first retry. The wait doubles for every further retry",
		Value:   500 * time.Millisecond,
		EnvVars: prefixEnvVars("RETRY_INITIAL_BACKOFF"),
	}
	RetryMaxBackoffFlag = &cli.DurationFlag{
		Name:    "retry.max-backoff",
		Usage:   "Upper bound of the wait between retries",
		Value:   10 * time.Second,
		EnvVars: prefixEnvVars("RETRY_MAX_BACKOFF"),
	}
	RetryAttemptTimeoutFlag = &cli.DurationFlag{
		Name:    "retry.attempt-timeout",
		Usage:   "Timeout of a single attempt. 0 leaves only the overall deadline",
		EnvVars: prefixEnvVars("RETRY_ATTEMPT_TIMEOUT"),
	}
	RateLimitFlag = &cli.Float64Flag{
		Name:    "rate-limit",
		Usage:   "Requests per second sent to each endpoint. 0 disables rate limiting",
		EnvVars: prefixEnvVars("RATE_LIMIT"),
	}
	RateBurstFlag = &cli.IntFlag{
		Name:    "rate-limit.burst",
		Usage:   "Requests that may be sent at once before the rate limit applies",
		Value:   1,
		EnvVars: prefixEnvVars("RATE_LIMIT_BURST"),
	}
	MaxReconnectsFlag = &cli.IntFlag{
		Name:    "max-reconnects",
		Usage:   "Dials attempted after a WebSocket or IPC connection drops",
		Value:   5,
		EnvVars: prefixEnvVars("MAX_RECONNECTS"),
	}
	HTTPTimeoutFlag = &cli.DurationFlag{
		Name:    "http.timeout",
		Usage:   "Timeout of a single HTTP request",
		Value:   30 * time.Second,
		EnvVars: prefixEnvVars("HTTP_TIMEOUT"),
	}
	CachePathFlag = &cli.StringFlag{
		Name:    "cache.path",
		Usage:   "LevelDB directory caching replies of immutable calls across runs",
		EnvVars: prefixEnvVars("CACHE_PATH"),
	}
	CacheSizeFlag = &cli.IntFlag{
		Name:    "cache.size",
		Usage:   "Entries of the in-memory reply cache, used when --cache.path is not set. 0 disables it",
		EnvVars: prefixEnvVars("CACHE_SIZE"),
	}
	TimeLagFlag = &cli.Uint64Flag{
		Name:    "time-lag",
		Usage:   "Blocks to stay behind the chain tip when reading the latest block",
		EnvVars: prefixEnvVars("TIME_LAG"),
	}
	PollIntervalFlag = &cli.DurationFlag{
		Name:    "poll-interval",
		Usage:   "Interval between receipt checks while waiting for transactions",
		Value:   7 * time.Second,
		EnvVars: prefixEnvVars("POLL_INTERVAL"),
	}
)

var requiredFlags = []cli.Flag{}

var optionalFlags = []cli.Flag{
	RPCFlag,
	WriteRPCFlag,
	BackendsFileFlag,
	QuorumRuleFlag,
	QuorumNormalizeLatestFlag,
	RetryMaxFlag,
	RetryMaxTimeoutsFlag,
	RetryInitialBackoffFlag,
	RetryMaxBackoffFlag,
	RetryAttemptTimeoutFlag,
	RateLimitFlag,
	RateBurstFlag,
	MaxReconnectsFlag,
	HTTPTimeoutFlag,
	CachePathFlag,
	CacheSizeFlag,
	TimeLagFlag,
	PollIntervalFlag,
}

func init() {
	optionalFlags = append(optionalFlags, oplog.CLIFlags(EnvVarPrefix)...)
	optionalFlags = append(optionalFlags, opmetrics.CLIFlags(EnvVarPrefix)...)

	Flags = append(requiredFlags, optionalFlags...)
}

// Flags contains the list of configuration options available to the binary.
var Flags []cli.Flag

func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		if !ctx.IsSet(f.Names()[0]) {
			return fmt.Errorf("flag %s is required", f.Names()[0])
		}
	}
	return nil
}
