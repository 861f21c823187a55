package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/require"

	"github.com/mantlenetworkio/ethrpc/op-provider/jsonrpc"
	"github.com/mantlenetworkio/ethrpc/op-service/retry"
	"github.com/mantlenetworkio/ethrpc/op-service/testlog"
)

// fakeNode is a scriptable JSON-RPC node serving WebSocket and unix socket clients.
//
// Methods:
//   - eth_blockNumber answers 0x10
//   - eth_subscribe hands out a fresh id; with "instant" as first param a notification follows the reply
//   - eth_unsubscribe answers true
//   - test_hang never answers
//   - test_error answers with a -32000 error
//   - test_afterReconnect only answers on a connection that is not the first
//   - test_skip is left out of batch replies
//   - batch replies come back in reverse order
type fakeNode struct {
	t *testing.T

	mu       sync.Mutex
	conns    map[*nodeConn]struct{}
	subConns map[string]*nodeConn
	subIDs   []string
	gen      int
	refuse   bool
	methods  []string
}

type nodeConn struct {
	gen   int
	mu    sync.Mutex
	write func([]byte) error
	close func()
}

func (c *nodeConn) send(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.write(data)
}

type nodeRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

type nodeResponse struct {
	Version string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *jsonrpc.Error  `json:"error,omitempty"`
}

func newFakeNode(t *testing.T) *fakeNode {
	return &fakeNode{
		t:        t,
		conns:    make(map[*nodeConn]struct{}),
		subConns: make(map[string]*nodeConn),
	}
}

func (n *fakeNode) attach(write func([]byte) error, closeFn func()) *nodeConn {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.gen++
	c := &nodeConn{gen: n.gen, write: write, close: closeFn}
	n.conns[c] = struct{}{}
	return c
}

func (n *fakeNode) detach(c *nodeConn) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.conns, c)
}

func (n *fakeNode) refusing() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.refuse
}

func (n *fakeNode) setRefuse(v bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.refuse = v
}

func (n *fakeNode) connections() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.gen
}

// dropAll closes every open connection from the node side.
func (n *fakeNode) dropAll() {
	n.mu.Lock()
	conns := make([]*nodeConn, 0, len(n.conns))
	for c := range n.conns {
		conns = append(conns, c)
	}
	n.mu.Unlock()
	for _, c := range conns {
		c.close()
	}
}

func (n *fakeNode) subscriptions() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.subIDs...)
}

func (n *fakeNode) received(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, m := range n.methods {
		if m == method {
			count++
		}
	}
	return count
}

func (n *fakeNode) notify(subID string, payload any) {
	n.mu.Lock()
	c, ok := n.subConns[subID]
	n.mu.Unlock()
	require.True(n.t, ok, "unknown subscription %s", subID)
	c.send(map[string]any{
		"jsonrpc": "2.0",
		"method":  "eth_subscription",
		"params": map[string]any{
			"subscription": subID,
			"result":       payload,
		},
	})
}

func (n *fakeNode) handleFrame(c *nodeConn, data []byte) {
	if jsonrpc.IsBatch(data) {
		var reqs []nodeRequest
		if err := json.Unmarshal(data, &reqs); err != nil {
			n.t.Errorf("bad batch: %v", err)
			return
		}
		var resps []*nodeResponse
		for i := len(reqs) - 1; i >= 0; i-- {
			if reqs[i].Method == "test_skip" {
				n.record(reqs[i].Method)
				continue
			}
			if resp, _ := n.handle(c, &reqs[i]); resp != nil {
				resps = append(resps, resp)
			}
		}
		c.send(resps)
		return
	}
	var req nodeRequest
	if err := json.Unmarshal(data, &req); err != nil {
		n.t.Errorf("bad request: %v", err)
		return
	}
	resp, after := n.handle(c, &req)
	if resp != nil {
		c.send(resp)
	}
	if after != nil {
		after()
	}
}

func (n *fakeNode) record(method string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.methods = append(n.methods, method)
}

func (n *fakeNode) handle(c *nodeConn, req *nodeRequest) (*nodeResponse, func()) {
	n.record(req.Method)
	resp := &nodeResponse{Version: "2.0", ID: req.ID}
	switch req.Method {
	case "eth_blockNumber":
		resp.Result = "0x10"
	case "eth_subscribe":
		n.mu.Lock()
		id := fmt.Sprintf("0x%x", 0xabc0+len(n.subIDs))
		n.subIDs = append(n.subIDs, id)
		n.subConns[id] = c
		n.mu.Unlock()
		resp.Result = id
		if len(req.Params) > 0 && string(req.Params[0]) == `"instant"` {
			return resp, func() { n.notify(id, "0x1") }
		}
	case "eth_unsubscribe":
		resp.Result = true
	case "test_hang":
		return nil, nil
	case "test_error":
		resp.Error = &jsonrpc.Error{Code: -32000, Message: "execution reverted", Data: json.RawMessage(`"0xdead"`)}
	case "test_afterReconnect":
		if c.gen == 1 {
			return nil, nil
		}
		resp.Result = "0x2a"
	default:
		resp.Error = &jsonrpc.Error{Code: -32601, Message: "method not found"}
	}
	return resp, nil
}

func (n *fakeNode) serveWS(w http.ResponseWriter, r *http.Request) {
	if n.refusing() {
		http.Error(w, "node down", http.StatusServiceUnavailable)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		n.t.Logf("Failed to accept WebSocket connection: %v", err)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := n.attach(func(data []byte) error {
		return conn.Write(ctx, websocket.MessageText, data)
	}, func() {
		_ = conn.CloseNow()
	})
	defer n.detach(c)
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		n.handleFrame(c, data)
	}
}

func (n *fakeNode) serveIPC(conn net.Conn) {
	c := n.attach(func(data []byte) error {
		_, err := conn.Write(data)
		return err
	}, func() {
		_ = conn.Close()
	})
	defer n.detach(c)
	dec := json.NewDecoder(conn)
	for {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return
		}
		n.handleFrame(c, raw)
	}
}

// startWS serves the node over WebSocket and returns its ws:// url.
func (n *fakeNode) startWS() string {
	srv := httptest.NewServer(http.HandlerFunc(n.serveWS))
	n.t.Cleanup(func() {
		n.dropAll()
		srv.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startIPC serves the node on a unix socket and returns its path.
func (n *fakeNode) startIPC() string {
	path := filepath.Join(n.t.TempDir(), "node.ipc")
	ln, err := net.Listen("unix", path)
	require.NoError(n.t, err)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			if n.refusing() {
				_ = conn.Close()
				continue
			}
			go n.serveIPC(conn)
		}
	}()
	n.t.Cleanup(func() {
		_ = ln.Close()
		n.dropAll()
	})
	return path
}

func testSocketConfig() SocketConfig {
	return SocketConfig{
		Name:             "test",
		MaxReconnects:    5,
		ReconnectBackoff: retry.Fixed(20 * time.Millisecond),
		QueueCap:         100,
	}
}

func dialTestWS(t *testing.T, n *fakeNode) *Socket {
	url := n.startWS()
	s, err := DialWebSocket(context.Background(), url, WebSocketConfig{}, testSocketConfig(), testlog.Logger(t, log.LevelDebug), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustRequest(t *testing.T, tr Transport, method string, args ...any) *jsonrpc.Request {
	req, err := jsonrpc.NewRequest(tr.NextID(), method, args...)
	require.NoError(t, err)
	return req
}
