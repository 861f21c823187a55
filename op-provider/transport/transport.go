// Package transport implements the JSON-RPC transports (HTTP, WebSocket, IPC)
// and the decorators that compose them (retry, read/write split, rate limiting).
package transport

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"

	"github.com/mantlenetworkio/ethrpc/op-provider/jsonrpc"
)

// Transport sends raw JSON-RPC requests.
// A well-formed error reply from the node is returned as *jsonrpc.Error.
type Transport interface {
	// NextID advances the id counter. Ids are unique among the outstanding requests of one transport.
	NextID() jsonrpc.ID
	Send(ctx context.Context, req *jsonrpc.Request) (json.RawMessage, error)
	// SendBatch returns one response per request, in request order.
	// Per-request errors are carried in the responses, not in the returned error.
	SendBatch(ctx context.Context, reqs []*jsonrpc.Request) ([]*jsonrpc.Response, error)
	Close() error
}

// Duplex is a transport over a persistent connection that also delivers notifications.
type Duplex interface {
	Transport
	// Subscribe sends the subscribe request. The returned channel yields the notification
	// payloads, and is closed once the subscription ends.
	Subscribe(ctx context.Context, req *jsonrpc.Request) (jsonrpc.SubscriptionID, <-chan json.RawMessage, error)
	// Unsubscribe ends the subscription. Unknown ids are a no-op.
	Unsubscribe(ctx context.Context, id jsonrpc.SubscriptionID) error
}

// Counter hands out request ids, starting at 1.
type Counter struct {
	n atomic.Uint64
}

func (c *Counter) Next() jsonrpc.ID {
	return jsonrpc.ID(c.n.Add(1))
}

// Restamp copies the request under an id allocated by t.
func Restamp(t Transport, req *jsonrpc.Request) *jsonrpc.Request {
	return req.WithID(t.NextID())
}

// RestampBatch copies the requests under ids allocated by t.
func RestampBatch(t Transport, reqs []*jsonrpc.Request) []*jsonrpc.Request {
	out := make([]*jsonrpc.Request, len(reqs))
	for i, req := range reqs {
		out[i] = Restamp(t, req)
	}
	return out
}

// RestoreIDs maps ordered responses of a restamped batch back to the ids of the original requests.
func RestoreIDs(orig []*jsonrpc.Request, resps []*jsonrpc.Response) []*jsonrpc.Response {
	out := make([]*jsonrpc.Response, len(resps))
	for i, resp := range resps {
		cpy := *resp
		if i < len(orig) {
			cpy.ID = orig[i].ID
		}
		out[i] = &cpy
	}
	return out
}

// Subscribe forwards a subscribe request to t, under an id allocated by t.
func Subscribe(ctx context.Context, t Transport, req *jsonrpc.Request) (jsonrpc.SubscriptionID, <-chan json.RawMessage, error) {
	d, ok := t.(Duplex)
	if !ok {
		return jsonrpc.SubscriptionID{}, nil, jsonrpc.ErrNotificationsUnsupported
	}
	return d.Subscribe(ctx, Restamp(t, req))
}

func Unsubscribe(ctx context.Context, t Transport, id jsonrpc.SubscriptionID) error {
	d, ok := t.(Duplex)
	if !ok {
		return jsonrpc.ErrNotificationsUnsupported
	}
	return d.Unsubscribe(ctx, id)
}

// unsubscribeMethod derives the unsubscribe method from the subscribe method,
// e.g. eth_subscribe becomes eth_unsubscribe.
func unsubscribeMethod(subscribe string) string {
	if ns, ok := strings.CutSuffix(subscribe, "_subscribe"); ok {
		return ns + "_unsubscribe"
	}
	return "eth_unsubscribe"
}
