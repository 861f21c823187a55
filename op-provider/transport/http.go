package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/go-resty/resty/v2"

	"github.com/mantlenetworkio/ethrpc/op-provider/jsonrpc"
	"github.com/mantlenetworkio/ethrpc/op-provider/metrics"
)

type HTTPConfig struct {
	// Name labels logs and metrics.
	Name     string
	Headers  http.Header
	Username string
	Password string
	// Timeout bounds each POST, on top of the caller's context. Zero disables it.
	Timeout time.Duration
}

// HTTP is a simplex transport: every request is one POST.
type HTTP struct {
	log    log.Logger
	m      metrics.Metricer
	name   string
	url    string
	client *resty.Client
	ids    Counter
}

var _ Transport = (*HTTP)(nil)

func NewHTTP(url string, cfg HTTPConfig, logger log.Logger, m metrics.Metricer) *HTTP {
	if m == nil {
		m = metrics.NoopMetrics
	}
	name := cfg.Name
	if name == "" {
		name = "http"
	}
	client := resty.New().
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	for key, values := range cfg.Headers {
		for _, v := range values {
			client.Header.Add(key, v)
		}
	}
	if cfg.Username != "" || cfg.Password != "" {
		client.SetBasicAuth(cfg.Username, cfg.Password)
	}
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}
	return &HTTP{
		log:    logger.New("transport", name),
		m:      m,
		name:   name,
		url:    url,
		client: client,
	}
}

func (h *HTTP) NextID() jsonrpc.ID {
	return h.ids.Next()
}

func (h *HTTP) post(ctx context.Context, body []byte) ([]byte, error) {
	resp, err := h.client.R().
		SetContext(ctx).
		SetBody(body).
		Post(h.url)
	if err != nil {
		return nil, &jsonrpc.TransportError{Op: "post", Err: err}
	}
	if resp.IsError() || resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		return nil, &jsonrpc.HTTPError{
			StatusCode: resp.StatusCode(),
			Status:     resp.Status(),
			Body:       resp.Body(),
		}
	}
	return resp.Body(), nil
}

func (h *HTTP) Send(ctx context.Context, req *jsonrpc.Request) (json.RawMessage, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request %s: %w", req.Method, err)
	}
	done := h.m.RecordRPCClientRequest(h.name, req.Method, len(req.Params))
	result, err := h.send(ctx, req, body)
	done(len(result), err)
	return result, err
}

func (h *HTTP) send(ctx context.Context, req *jsonrpc.Request, body []byte) (json.RawMessage, error) {
	raw, err := h.post(ctx, body)
	if err != nil {
		return nil, err
	}
	resp, err := jsonrpc.DecodeResponse(raw)
	if err != nil {
		return nil, err
	}
	if resp.ID != req.ID {
		return nil, &jsonrpc.DecodeError{Raw: string(raw), Err: fmt.Errorf("response id %d does not match request id %d", resp.ID, req.ID)}
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Result, nil
}

func (h *HTTP) SendBatch(ctx context.Context, reqs []*jsonrpc.Request) ([]*jsonrpc.Response, error) {
	if len(reqs) == 0 {
		return nil, nil
	}
	body, err := json.Marshal(reqs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode batch: %w", err)
	}
	h.m.RecordRPCClientBatch(h.name, len(reqs))
	raw, err := h.post(ctx, body)
	if err != nil {
		return nil, err
	}
	resps, err := jsonrpc.DecodeBatch(raw)
	if err != nil {
		return nil, err
	}
	return jsonrpc.Reorder(jsonrpc.IDs(reqs), resps)
}

func (h *HTTP) Close() error {
	h.client.GetClient().CloseIdleConnections()
	return nil
}
