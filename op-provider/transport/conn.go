package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// frameConn is one physical connection carrying a stream of JSON values.
// Reads happen on a single goroutine; writes are serialized by the caller.
type frameConn interface {
	WriteFrame(ctx context.Context, data []byte) error
	ReadFrame() ([]byte, error)
	Close() error
}

type dialFunc func(ctx context.Context) (frameConn, error)

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) WriteFrame(ctx context.Context, data []byte) error {
	deadline, _ := ctx.Deadline()
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) ReadFrame() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

// WebSocketConfig configures the WebSocket dialer.
type WebSocketConfig struct {
	Headers          http.Header
	HandshakeTimeout time.Duration
	// ReadLimit caps the size of one inbound message, in bytes. Zero keeps the gorilla default.
	ReadLimit int64
}

func dialWebSocket(url string, cfg WebSocketConfig) dialFunc {
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 6 * time.Second
	}
	return func(ctx context.Context) (frameConn, error) {
		dialer := &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
			Proxy:            http.ProxyFromEnvironment,
		}
		conn, resp, err := dialer.DialContext(ctx, url, cfg.Headers)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			if resp != nil {
				return nil, fmt.Errorf("failed to dial %s (status %s): %w", url, resp.Status, err)
			}
			return nil, fmt.Errorf("failed to dial %s: %w", url, err)
		}
		if cfg.ReadLimit > 0 {
			conn.SetReadLimit(cfg.ReadLimit)
		}
		return &wsConn{conn: conn}, nil
	}
}

// ipcConn frames a stream socket by decoding consecutive JSON values.
type ipcConn struct {
	conn net.Conn
	dec  *json.Decoder
}

func newIPCConn(conn net.Conn) *ipcConn {
	return &ipcConn{conn: conn, dec: json.NewDecoder(conn)}
}

func (c *ipcConn) WriteFrame(ctx context.Context, data []byte) error {
	deadline, _ := ctx.Deadline()
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	_, err := c.conn.Write(data)
	return err
}

func (c *ipcConn) ReadFrame() ([]byte, error) {
	var raw json.RawMessage
	if err := c.dec.Decode(&raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (c *ipcConn) Close() error {
	return c.conn.Close()
}

func dialIPC(path string) dialFunc {
	return func(ctx context.Context) (frameConn, error) {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "unix", path)
		if err != nil {
			return nil, fmt.Errorf("failed to dial %s: %w", path, err)
		}
		return newIPCConn(conn), nil
	}
}
