package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/mantlenetworkio/ethrpc/op-provider/quorum"
	oplog "github.com/mantlenetworkio/ethrpc/op-service/log"
	opmetrics "github.com/mantlenetworkio/ethrpc/op-service/metrics"
	"github.com/mantlenetworkio/ethrpc/op-service/testlog"
)

func validConfig() *CLIConfig {
	return &CLIConfig{
		Endpoints:  []string{"http://localhost:8545"},
		QuorumRule: quorum.Majority(),
		Retry: RetryConfig{
			MaxRetries:        3,
			MaxTimeoutRetries: 1,
			InitialBackoff:    10 * time.Millisecond,
			MaxBackoff:        time.Second,
		},
		RateBurst:     1,
		MaxReconnects: 5,
		PollInterval:  time.Second,
		LogConfig:     oplog.DefaultCLIConfig(),
		MetricsConfig: opmetrics.DefaultCLIConfig(),
	}
}

func TestConfigCheck(t *testing.T) {
	require.NoError(t, validConfig().Check())

	tests := []struct {
		name   string
		modify func(cfg *CLIConfig)
		err    string
	}{
		{"no endpoints", func(cfg *CLIConfig) { cfg.Endpoints = nil }, ErrNoEndpoints.Error()},
		{"empty endpoint", func(cfg *CLIConfig) { cfg.Endpoints = []string{""} }, "is empty"},
		{"negative retries", func(cfg *CLIConfig) { cfg.Retry.MaxRetries = -1 }, "negative"},
		{"inverted backoff", func(cfg *CLIConfig) { cfg.Retry.MaxBackoff = time.Millisecond }, "backoff"},
		{"burst without tokens", func(cfg *CLIConfig) { cfg.RateLimit = 5; cfg.RateBurst = 0 }, "burst"},
		{"two caches", func(cfg *CLIConfig) { cfg.CachePath = "/tmp/x"; cfg.CacheSize = 10 }, ErrCacheConflict.Error()},
		{"zero poll interval", func(cfg *CLIConfig) { cfg.PollInterval = 0 }, "poll interval"},
		{"bad metrics port", func(cfg *CLIConfig) {
			cfg.MetricsConfig.Enabled = true
			cfg.MetricsConfig.ListenPort = 70000
		}, opmetrics.ErrInvalidPort.Error()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(cfg)
			require.ErrorContains(t, cfg.Check(), tt.err)
		})
	}

	t.Run("backends file replaces endpoints", func(t *testing.T) {
		cfg := validConfig()
		cfg.Endpoints = nil
		cfg.BackendsFile = "backends.toml"
		require.NoError(t, cfg.Check())
	})
}

func writeFile(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "backends.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadBackendsFile(t *testing.T) {
	path := writeFile(t, `
rule = "weight:3"
normalize_latest = true

[[backend]]
name = "a"
url = "wss://node-a"
weight = 2

[[backend]]
url = "/tmp/geth.ipc"
`)
	f, err := LoadBackendsFile(path)
	require.NoError(t, err)
	require.NotNil(t, f.Rule)
	require.Equal(t, quorum.Weight(3), *f.Rule)
	require.True(t, f.NormalizeLatest)
	want := []BackendEntry{
		{Name: "a", URL: "wss://node-a", Weight: 2},
		{URL: "/tmp/geth.ipc", Weight: 1},
	}
	if diff := cmp.Diff(want, f.Backends); diff != "" {
		t.Fatalf("backends mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadBackendsFileErrors(t *testing.T) {
	for name, content := range map[string]string{
		"no backends":  `rule = "all"`,
		"missing url":  "[[backend]]\nweight = 1\n",
		"unknown key":  "[[backend]]\nurl = \"http://a\"\nwieght = 1\n",
		"bad rule":     "rule = \"sometimes\"\n[[backend]]\nurl = \"http://a\"\n",
		"invalid toml": "[[backend",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := LoadBackendsFile(writeFile(t, content))
			require.Error(t, err)
		})
	}
	_, err := LoadBackendsFile(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

// chainIDServer answers eth_chainId, and counts the requests it served.
func chainIDServer(t *testing.T, chainID string, served *atomic.Int32) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		served.Add(1)
		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if req.Method == "eth_chainId" {
			resp["result"] = chainID
		} else {
			resp["error"] = map[string]any{"code": -32601, "message": "method not found"}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewClientSingleEndpoint(t *testing.T) {
	var served atomic.Int32
	srv := chainIDServer(t, "0x385", &served)
	cfg := validConfig()
	cfg.Endpoints = []string{srv.URL}
	cfg.CacheSize = 8

	client, err := NewClient(context.Background(), cfg, testlog.Logger(t, log.LevelDebug), nil)
	require.NoError(t, err)
	defer client.Close()

	for i := 0; i < 3; i++ {
		id, err := client.ChainID(context.Background())
		require.NoError(t, err)
		require.Equal(t, uint64(901), id.Uint64())
	}
	require.Equal(t, int32(1), served.Load(), "chain id is cached")
}

func TestNewClientQuorum(t *testing.T) {
	var served atomic.Int32
	a := chainIDServer(t, "0x385", &served)
	b := chainIDServer(t, "0x385", &served)
	c := chainIDServer(t, "0x1", &served)

	cfg := validConfig()
	cfg.Endpoints = []string{a.URL}
	cfg.BackendsFile = writeFile(t, `
rule = "weight:2"
[[backend]]
url = "`+b.URL+`"
[[backend]]
url = "`+c.URL+`"
`)
	client, err := NewClient(context.Background(), cfg, testlog.Logger(t, log.LevelDebug), nil)
	require.NoError(t, err)
	defer client.Close()

	id, err := client.ChainID(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(901), id.Uint64())
}

func TestNewClientDialError(t *testing.T) {
	cfg := validConfig()
	cfg.Endpoints = []string{"ftp://nowhere"}
	_, err := NewClient(context.Background(), cfg, testlog.Logger(t, log.LevelDebug), nil)
	require.ErrorContains(t, err, "unsupported endpoint scheme")
}
