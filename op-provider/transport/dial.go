package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/ethereum/go-ethereum/log"

	"github.com/mantlenetworkio/ethrpc/op-provider/metrics"
)

var ErrEmptyEndpoint = errors.New("empty endpoint")

type DialConfig struct {
	HTTP      HTTPConfig
	WebSocket WebSocketConfig
	Socket    SocketConfig
}

// Dial connects to an endpoint, picking the transport from its form:
// http(s):// is HTTP, ws(s):// is WebSocket, anything else is a unix socket path.
func Dial(ctx context.Context, endpoint string, cfg DialConfig, logger log.Logger, m metrics.Metricer) (Transport, error) {
	if endpoint == "" {
		return nil, ErrEmptyEndpoint
	}
	u, err := url.Parse(endpoint)
	scheme := ""
	if err == nil {
		scheme = strings.ToLower(u.Scheme)
	}
	switch scheme {
	case "http", "https":
		if cfg.HTTP.Name == "" {
			cfg.HTTP.Name = u.Host
		}
		return NewHTTP(endpoint, cfg.HTTP, logger, m), nil
	case "ws", "wss":
		if cfg.Socket.Name == "" {
			cfg.Socket.Name = u.Host
		}
		return DialWebSocket(ctx, endpoint, cfg.WebSocket, cfg.Socket, logger, m)
	case "", "unix", "file":
		path := endpoint
		if scheme != "" {
			path = u.Path
		}
		if cfg.Socket.Name == "" {
			cfg.Socket.Name = "ipc"
		}
		return DialIPC(ctx, path, cfg.Socket, logger, m)
	default:
		return nil, fmt.Errorf("unsupported endpoint scheme %q", scheme)
	}
}
