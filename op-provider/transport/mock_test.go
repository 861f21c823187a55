package transport

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/mantlenetworkio/ethrpc/op-provider/jsonrpc"
)

// mockTransport records every call and answers from a handler.
type mockTransport struct {
	ids     Counter
	mu      sync.Mutex
	calls   []*jsonrpc.Request
	batches [][]*jsonrpc.Request
	closed  int
	handle  func(req *jsonrpc.Request) (json.RawMessage, error)
}

func (m *mockTransport) NextID() jsonrpc.ID {
	return m.ids.Next()
}

func (m *mockTransport) Send(ctx context.Context, req *jsonrpc.Request) (json.RawMessage, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	m.mu.Unlock()
	if m.handle == nil {
		return json.RawMessage(`null`), nil
	}
	return m.handle(req)
}

func (m *mockTransport) SendBatch(ctx context.Context, reqs []*jsonrpc.Request) ([]*jsonrpc.Response, error) {
	m.mu.Lock()
	m.batches = append(m.batches, reqs)
	m.mu.Unlock()
	out := make([]*jsonrpc.Response, len(reqs))
	for i, req := range reqs {
		res, err := m.Send(ctx, req)
		resp := &jsonrpc.Response{ID: req.ID, Result: res}
		if rpcErr, ok := err.(*jsonrpc.Error); ok {
			resp.Result, resp.Error = nil, rpcErr
		} else if err != nil {
			return nil, err
		}
		out[i] = resp
	}
	return out, nil
}

func (m *mockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
	return nil
}

func (m *mockTransport) methods() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	for i, c := range m.calls {
		out[i] = c.Method
	}
	return out
}

func (m *mockTransport) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
