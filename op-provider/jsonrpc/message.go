// Package jsonrpc holds the JSON-RPC 2.0 wire types shared by every transport,
// and the error taxonomy surfaced to callers.
package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

const (
	Version = "2.0"

	// SubscriptionMethod is the method of eth-style subscription pushes.
	SubscriptionMethod = "eth_subscription"
)

// ID is a request id, unique per transport among outstanding requests.
type ID uint64

func (id ID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Request is an outgoing JSON-RPC call. Params is always a JSON array.
type Request struct {
	Version string          `json:"jsonrpc"`
	ID      ID              `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// NewRequest encodes the args as positional params.
func NewRequest(id ID, method string, args ...any) (*Request, error) {
	params := json.RawMessage("[]")
	if len(args) > 0 {
		var err error
		params, err = json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("failed to encode params of %s: %w", method, err)
		}
	}
	return &Request{Version: Version, ID: id, Method: method, Params: params}, nil
}

// WithID returns a shallow copy of the request carrying another id.
func (r *Request) WithID(id ID) *Request {
	cpy := *r
	cpy.ID = id
	return &cpy
}

// ParamList splits the params array into its elements.
func (r *Request) ParamList() ([]json.RawMessage, error) {
	var out []json.RawMessage
	if len(r.Params) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(r.Params, &out); err != nil {
		return nil, &DecodeError{Raw: string(r.Params), Err: err}
	}
	return out, nil
}

// Response is the reply to a single request: exactly one of Result or Error is set.
type Response struct {
	ID     ID
	Result json.RawMessage
	Error  *Error
}

// Err returns the JSON-RPC error as a plain error, or nil on success.
func (r *Response) Err() error {
	if r.Error != nil {
		return r.Error
	}
	return nil
}

// Notification is a subscription push.
type Notification struct {
	Subscription SubscriptionID
	Result       json.RawMessage
}

// Inbound is one decoded element of an inbound frame.
// Exactly one of Response and Notification is set.
type Inbound struct {
	Response     *Response
	Notification *Notification
}

// message is the union of everything that can arrive on the wire.
type message struct {
	Version string          `json:"jsonrpc,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

type subscriptionParams struct {
	Subscription SubscriptionID  `json:"subscription"`
	Result       json.RawMessage `json:"result"`
}

func (msg *message) isNotification() bool {
	return len(msg.ID) == 0 && msg.Method != ""
}

func (msg *message) isResponse() bool {
	return len(msg.ID) > 0 && msg.Method == "" && msg.Params == nil && (msg.Result != nil || msg.Error != nil)
}

func (msg *message) toInbound() (Inbound, error) {
	switch {
	case msg.isResponse():
		id, err := parseID(msg.ID)
		if err != nil {
			return Inbound{}, err
		}
		resp := &Response{ID: id, Error: msg.Error}
		if msg.Error == nil {
			resp.Result = msg.Result
		}
		return Inbound{Response: resp}, nil
	case msg.isNotification():
		var params subscriptionParams
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			return Inbound{}, fmt.Errorf("invalid notification params: %w", err)
		}
		return Inbound{Notification: &Notification{Subscription: params.Subscription, Result: params.Result}}, nil
	default:
		return Inbound{}, fmt.Errorf("not a response or notification")
	}
}

// parseID accepts numeric ids, and decimal strings as some servers echo ids as strings.
func parseID(raw json.RawMessage) (ID, error) {
	var n uint64
	if err := json.Unmarshal(raw, &n); err == nil {
		return ID(n), nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("invalid id %s", raw)
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return ID(n), nil
}

// IsBatch reports whether the raw frame is a JSON array.
func IsBatch(raw []byte) bool {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '['
}

// Decode parses an inbound frame, a single message or a batch array.
// Malformed input yields a *DecodeError carrying the raw text.
func Decode(raw []byte) ([]Inbound, bool, error) {
	batch := IsBatch(raw)
	var msgs []*message
	if batch {
		if err := json.Unmarshal(raw, &msgs); err != nil {
			return nil, true, &DecodeError{Raw: string(raw), Err: err}
		}
	} else {
		var msg message
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, false, &DecodeError{Raw: string(raw), Err: err}
		}
		msgs = []*message{&msg}
	}
	out := make([]Inbound, 0, len(msgs))
	for _, msg := range msgs {
		if msg == nil {
			return nil, batch, &DecodeError{Raw: string(raw), Err: fmt.Errorf("null message")}
		}
		in, err := msg.toInbound()
		if err != nil {
			return nil, batch, &DecodeError{Raw: string(raw), Err: err}
		}
		out = append(out, in)
	}
	return out, batch, nil
}

// DecodeResponse parses the reply to a single request.
func DecodeResponse(raw []byte) (*Response, error) {
	in, batch, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	if batch || len(in) != 1 || in[0].Response == nil {
		return nil, &DecodeError{Raw: string(raw), Err: fmt.Errorf("expected a single response")}
	}
	return in[0].Response, nil
}

// DecodeBatch parses the reply to a batch and returns the responses in wire order.
func DecodeBatch(raw []byte) ([]*Response, error) {
	in, batch, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	if !batch {
		// a server rejecting the whole batch answers with a single error object
		if len(in) == 1 && in[0].Response != nil && in[0].Response.Error != nil {
			return nil, in[0].Response.Error
		}
		return nil, &DecodeError{Raw: string(raw), Err: fmt.Errorf("expected a batch response")}
	}
	out := make([]*Response, 0, len(in))
	for _, item := range in {
		if item.Response == nil {
			return nil, &DecodeError{Raw: string(raw), Err: fmt.Errorf("unexpected notification in batch")}
		}
		out = append(out, item.Response)
	}
	return out, nil
}
