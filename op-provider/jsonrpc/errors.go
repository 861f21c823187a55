package jsonrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrClosed is returned for calls on a transport that was closed, or gave up reconnecting.
	ErrClosed = errors.New("transport closed")

	// ErrNotificationsUnsupported is returned when subscribing over a simplex transport.
	ErrNotificationsUnsupported = errors.New("notifications not supported")

	// ErrIncompleteBatch matches every *IncompleteBatchError.
	ErrIncompleteBatch = errors.New("incomplete batch")
)

// Error is a well-formed error object returned by the node.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	if len(e.Data) > 0 && string(e.Data) != "null" {
		return fmt.Sprintf("%s (code %d): %s", e.Message, e.Code, e.Data)
	}
	return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
}

func (e *Error) ErrorCode() int {
	return e.Code
}

func (e *Error) ErrorData() any {
	if len(e.Data) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(e.Data, &v); err != nil {
		return string(e.Data)
	}
	return v
}

// TransportError is a connection level failure: refused, I/O error, closed by the remote.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// DecodeError reports a payload that is not valid JSON or not of the expected shape.
type DecodeError struct {
	Raw string
	Err error
}

const maxRawInError = 256

func (e *DecodeError) Error() string {
	raw := e.Raw
	if len(raw) > maxRawInError {
		raw = raw[:maxRawInError] + "..."
	}
	return fmt.Sprintf("failed to decode %q: %v", raw, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// HTTPError is returned by HTTP transports for non-2xx replies.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       []byte
}

func (e *HTTPError) Error() string {
	if len(e.Body) == 0 {
		return e.Status
	}
	return fmt.Sprintf("%v: %s", e.Status, e.Body)
}

// IncompleteBatchError is returned when a batch reply does not carry one response per request.
type IncompleteBatchError struct {
	Expected int
	Got      int
}

func (e *IncompleteBatchError) Error() string {
	return fmt.Sprintf("incomplete batch: sent %d requests, received %d responses", e.Expected, e.Got)
}

func (e *IncompleteBatchError) Is(target error) bool {
	return target == ErrIncompleteBatch
}

// IsTimeout reports whether err is a deadline expiry rather than a rejection.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// ErrorCode extracts the JSON-RPC error code from anywhere in the chain.
func ErrorCode(err error) (int, bool) {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr.Code, true
	}
	return 0, false
}
