package transport

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/hashicorp/go-multierror"

	"github.com/mantlenetworkio/ethrpc/op-provider/jsonrpc"
)

// IsWriteMethod reports whether the method broadcasts a state change.
func IsWriteMethod(method string) bool {
	switch method {
	case "eth_sendTransaction", "eth_sendRawTransaction":
		return true
	default:
		return false
	}
}

// RwSplit routes writes to one transport and everything else to another.
type RwSplit struct {
	read  Transport
	write Transport
	ids   Counter
}

var _ Duplex = (*RwSplit)(nil)

func NewRwSplit(read, write Transport) *RwSplit {
	return &RwSplit{read: read, write: write}
}

func (rw *RwSplit) Read() Transport {
	return rw.read
}

func (rw *RwSplit) Write() Transport {
	return rw.write
}

// Transpose swaps the roles of the two transports.
func (rw *RwSplit) Transpose() *RwSplit {
	return &RwSplit{read: rw.write, write: rw.read}
}

func (rw *RwSplit) route(method string) Transport {
	if IsWriteMethod(method) {
		return rw.write
	}
	return rw.read
}

func (rw *RwSplit) NextID() jsonrpc.ID {
	return rw.ids.Next()
}

func (rw *RwSplit) Send(ctx context.Context, req *jsonrpc.Request) (json.RawMessage, error) {
	t := rw.route(req.Method)
	return t.Send(ctx, Restamp(t, req))
}

// SendBatch sends the whole batch to the write transport if any member is a write.
func (rw *RwSplit) SendBatch(ctx context.Context, reqs []*jsonrpc.Request) ([]*jsonrpc.Response, error) {
	t := rw.read
	for _, req := range reqs {
		if IsWriteMethod(req.Method) {
			t = rw.write
			break
		}
	}
	resps, err := t.SendBatch(ctx, RestampBatch(t, reqs))
	if err != nil {
		return nil, err
	}
	return RestoreIDs(reqs, resps), nil
}

func (rw *RwSplit) Subscribe(ctx context.Context, req *jsonrpc.Request) (jsonrpc.SubscriptionID, <-chan json.RawMessage, error) {
	return Subscribe(ctx, rw.read, req)
}

func (rw *RwSplit) Unsubscribe(ctx context.Context, id jsonrpc.SubscriptionID) error {
	return Unsubscribe(ctx, rw.read, id)
}

func (rw *RwSplit) Close() error {
	var result *multierror.Error
	if err := rw.read.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := rw.write.Close(); err != nil && !errors.Is(err, jsonrpc.ErrClosed) {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}
