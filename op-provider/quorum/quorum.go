// Package quorum fans requests out to several weighted backends and only trusts
// a result once enough weight agrees on the exact same bytes.
package quorum

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/log"
	"github.com/hashicorp/go-multierror"

	"github.com/mantlenetworkio/ethrpc/op-provider/jsonrpc"
	"github.com/mantlenetworkio/ethrpc/op-provider/metrics"
	"github.com/mantlenetworkio/ethrpc/op-provider/transport"
	"github.com/mantlenetworkio/ethrpc/op-service/locks"
)

var ErrNoBackends = errors.New("quorum needs at least one backend")

type Backend struct {
	Name      string
	Transport transport.Transport
	// Weight must be positive.
	Weight uint64
}

type Config struct {
	Rule Rule
	// NormalizeLatest pins a trailing "latest" block parameter to the lowest head of all backends,
	// so that backends a block apart can still agree.
	NormalizeLatest bool
}

// Transport is a quorum of weighted backends.
type Transport struct {
	log      log.Logger
	m        metrics.Metricer
	backends []Backend
	rule     Rule
	required uint64
	cfg      Config
	ids      transport.Counter

	subIDs  transport.Counter
	streams locks.RWMap[jsonrpc.SubscriptionID, *Stream]
}

var _ transport.Duplex = (*Transport)(nil)

func New(backends []Backend, cfg Config, logger log.Logger, m metrics.Metricer) (*Transport, error) {
	if len(backends) == 0 {
		return nil, ErrNoBackends
	}
	if m == nil {
		m = metrics.NoopMetrics
	}
	weights := make([]uint64, len(backends))
	for i, b := range backends {
		if b.Weight == 0 {
			return nil, fmt.Errorf("backend %d (%s) has zero weight", i, b.Name)
		}
		if b.Transport == nil {
			return nil, fmt.Errorf("backend %d (%s) has no transport", i, b.Name)
		}
		if b.Name == "" {
			backends[i].Name = fmt.Sprintf("backend-%d", i)
		}
		weights[i] = b.Weight
	}
	required := cfg.Rule.RequiredWeight(weights)
	var total uint64
	for _, w := range weights {
		total += w
	}
	if required > total {
		return nil, fmt.Errorf("rule %s requires weight %d but backends only total %d", cfg.Rule, required, total)
	}
	return &Transport{
		log:      logger.New("transport", "quorum"),
		m:        m,
		backends: backends,
		rule:     cfg.Rule,
		required: required,
		cfg:      cfg,
	}, nil
}

func (q *Transport) Rule() Rule {
	return q.rule
}

// RequiredWeight is the weight one value needs to win.
func (q *Transport) RequiredWeight() uint64 {
	return q.required
}

func (q *Transport) Backends() []Backend {
	return q.backends
}

func (q *Transport) NextID() jsonrpc.ID {
	return q.ids.Next()
}

type ballot struct {
	idx   int
	key   []byte
	value any
	err   error
}

// vote asks every backend and returns the first value whose agreeing weight reaches the quorum.
// Backends still working at that point are cancelled.
func vote[T any](ctx context.Context, q *Transport, method string, ask func(ctx context.Context, b Backend) ([]byte, T, error)) (T, error) {
	var empty T
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ballots := make(chan ballot, len(q.backends))
	for i, b := range q.backends {
		go func(i int, b Backend) {
			key, value, err := ask(ctx, b)
			ballots <- ballot{idx: i, key: key, value: value, err: err}
		}(i, b)
	}

	tally := make(map[string]*Vote)
	var (
		order      []string
		errs       *multierror.Error
		incomplete int
	)
	for range q.backends {
		var bal ballot
		select {
		case bal = <-ballots:
		case <-ctx.Done():
			return empty, ctx.Err()
		}
		b := q.backends[bal.idx]
		if bal.err != nil {
			q.log.Debug("Backend failed", "backend", b.Name, "method", method, "err", bal.err)
			if errors.Is(bal.err, jsonrpc.ErrIncompleteBatch) {
				incomplete++
			}
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", b.Name, bal.err))
			continue
		}
		key := string(bal.key)
		v, ok := tally[key]
		if !ok {
			v = &Vote{Value: json.RawMessage(bal.key)}
			tally[key] = v
			order = append(order, key)
		}
		v.Weight += b.Weight
		if v.Weight >= q.required {
			q.m.RecordQuorum(method, metrics.QuorumSuccess)
			return bal.value.(T), nil
		}
	}

	qErr := &Error{Kind: NoAgreement, Method: method, Required: q.required, Errs: errs.ErrorOrNil()}
	if incomplete == len(q.backends) {
		qErr.Kind = IncompleteBatch
		q.m.RecordQuorum(method, metrics.QuorumIncompleteBatch)
	} else {
		q.m.RecordQuorum(method, metrics.QuorumNoAgreement)
	}
	for _, key := range order {
		qErr.Values = append(qErr.Values, *tally[key])
	}
	sort.SliceStable(qErr.Values, func(i, j int) bool {
		return qErr.Values[i].Weight > qErr.Values[j].Weight
	})
	return empty, qErr
}

func (q *Transport) Send(ctx context.Context, req *jsonrpc.Request) (json.RawMessage, error) {
	if q.cfg.NormalizeLatest {
		req = q.normalize(ctx, req)
	}
	return vote(ctx, q, req.Method, func(ctx context.Context, b Backend) ([]byte, json.RawMessage, error) {
		res, err := b.Transport.Send(ctx, transport.Restamp(b.Transport, req))
		return res, res, err
	})
}

// batchKey is the comparable form of a batch reply.
type batchKey struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  *jsonrpc.Error  `json:"error,omitempty"`
}

func (q *Transport) SendBatch(ctx context.Context, reqs []*jsonrpc.Request) ([]*jsonrpc.Response, error) {
	if len(reqs) == 0 {
		return nil, nil
	}
	if q.cfg.NormalizeLatest {
		normalized := make([]*jsonrpc.Request, len(reqs))
		for i, req := range reqs {
			normalized[i] = q.normalize(ctx, req)
		}
		reqs = normalized
	}
	return vote(ctx, q, "batch", func(ctx context.Context, b Backend) ([]byte, []*jsonrpc.Response, error) {
		resps, err := b.Transport.SendBatch(ctx, transport.RestampBatch(b.Transport, reqs))
		if err != nil {
			return nil, nil, err
		}
		if len(resps) != len(reqs) {
			return nil, nil, &jsonrpc.IncompleteBatchError{Expected: len(reqs), Got: len(resps)}
		}
		resps = transport.RestoreIDs(reqs, resps)
		keys := make([]batchKey, len(resps))
		for i, r := range resps {
			keys[i] = batchKey{Result: r.Result, Error: r.Error}
		}
		key, err := json.Marshal(keys)
		if err != nil {
			return nil, nil, err
		}
		return key, resps, nil
	})
}

// Subscribe subscribes on every backend, and streams the notifications that reach a quorum.
// The returned id is local to this transport.
func (q *Transport) Subscribe(ctx context.Context, req *jsonrpc.Request) (jsonrpc.SubscriptionID, <-chan json.RawMessage, error) {
	inputs := make([]WeightedChannel, 0, len(q.backends))
	var undo []func()
	for _, b := range q.backends {
		id, ch, err := transport.Subscribe(ctx, b.Transport, req)
		if err != nil {
			for _, u := range undo {
				u()
			}
			return jsonrpc.SubscriptionID{}, nil, fmt.Errorf("failed to subscribe on %s: %w", b.Name, err)
		}
		tr := b.Transport
		undo = append(undo, func() {
			if err := transport.Unsubscribe(context.Background(), tr, id); err != nil {
				q.log.Warn("Failed to unsubscribe backend", "err", err)
			}
		})
		inputs = append(inputs, WeightedChannel{C: ch, Weight: b.Weight})
	}
	stream := NewStream(q.required, inputs)
	stream.onClose = undo
	id := jsonrpc.SubscriptionIDFromUint64(uint64(q.subIDs.Next()))
	q.streams.Set(id, stream)
	return id, stream.C(), nil
}

func (q *Transport) Unsubscribe(ctx context.Context, id jsonrpc.SubscriptionID) error {
	stream, ok := q.streams.LoadAndDelete(id)
	if !ok {
		return nil
	}
	stream.Close()
	return nil
}

func (q *Transport) Close() error {
	for _, s := range q.streams.Drain() {
		s.Close()
	}
	var result *multierror.Error
	for _, b := range q.backends {
		if err := b.Transport.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", b.Name, err))
		}
	}
	return result.ErrorOrNil()
}
