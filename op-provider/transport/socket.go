package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/mantlenetworkio/ethrpc/op-provider/jsonrpc"
	"github.com/mantlenetworkio/ethrpc/op-provider/metrics"
	"github.com/mantlenetworkio/ethrpc/op-service/locks"
	"github.com/mantlenetworkio/ethrpc/op-service/retry"
)

const (
	DefaultMaxReconnects = 5
	DefaultQueueCap      = 20_000

	abandonTimeout = 10 * time.Second
)

type SocketConfig struct {
	// Name labels logs and metrics.
	Name string
	// MaxReconnects is the number of dials attempted after the connection drops. Zero disables reconnecting.
	MaxReconnects    int
	ReconnectBackoff retry.Strategy
	// QueueCap bounds the notifications buffered per subscription. Past it the oldest are dropped.
	QueueCap int
}

func DefaultSocketConfig(name string) SocketConfig {
	return SocketConfig{
		Name:             name,
		MaxReconnects:    DefaultMaxReconnects,
		ReconnectBackoff: retry.Exponential(),
		QueueCap:         DefaultQueueCap,
	}
}

type result struct {
	resp *jsonrpc.Response
	err  error
}

type pendingBatch struct {
	ids []jsonrpc.ID
}

type pendingRequest struct {
	method string
	// raw is the encoded single request, kept to re-issue it after a reconnect.
	raw  []byte
	done chan result
	// batch is set when the request was sent as part of a batch frame.
	batch *pendingBatch
	// sub is set for subscribe requests: the reply registers it.
	sub *subscription
	// resubscribe marks a subscribe request re-issued after a reconnect.
	resubscribe bool
}

// Socket is a duplex transport over a persistent connection (WebSocket or IPC).
// A single reader goroutine owns the read half and correlates responses and notifications.
type Socket struct {
	log  log.Logger
	m    metrics.Metricer
	cfg  SocketConfig
	dial dialFunc

	ids Counter

	pending locks.RWMap[jsonrpc.ID, *pendingRequest]
	// subs is keyed by the id handed to the caller, aliases by the id currently used by the node.
	subs    locks.RWMap[jsonrpc.SubscriptionID, *subscription]
	aliases locks.RWMap[jsonrpc.SubscriptionID, *subscription]

	writeMu sync.Mutex
	conn    frameConn // nil while reconnecting

	ctx       context.Context
	cancel    context.CancelFunc
	closed    chan struct{}
	closeOnce sync.Once
	done      chan struct{}
}

var _ Duplex = (*Socket)(nil)

func newSocket(ctx context.Context, dial dialFunc, cfg SocketConfig, logger log.Logger, m metrics.Metricer) (*Socket, error) {
	if m == nil {
		m = metrics.NoopMetrics
	}
	if cfg.ReconnectBackoff == nil {
		cfg.ReconnectBackoff = retry.Exponential()
	}
	if cfg.QueueCap <= 0 {
		cfg.QueueCap = DefaultQueueCap
	}
	conn, err := dial(ctx)
	if err != nil {
		return nil, &jsonrpc.TransportError{Op: "dial", Err: err}
	}
	sctx, cancel := context.WithCancel(context.Background())
	s := &Socket{
		log:    logger.New("transport", cfg.Name),
		m:      m,
		cfg:    cfg,
		dial:   dial,
		conn:   conn,
		ctx:    sctx,
		cancel: cancel,
		closed: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.readLoop(conn)
	return s, nil
}

// DialWebSocket connects to a ws:// or wss:// endpoint.
func DialWebSocket(ctx context.Context, url string, wsCfg WebSocketConfig, cfg SocketConfig, logger log.Logger, m metrics.Metricer) (*Socket, error) {
	if cfg.Name == "" {
		cfg.Name = "ws"
	}
	return newSocket(ctx, dialWebSocket(url, wsCfg), cfg, logger, m)
}

// DialIPC connects to a unix socket.
func DialIPC(ctx context.Context, path string, cfg SocketConfig, logger log.Logger, m metrics.Metricer) (*Socket, error) {
	if cfg.Name == "" {
		cfg.Name = "ipc"
	}
	return newSocket(ctx, dialIPC(path), cfg, logger, m)
}

func (s *Socket) NextID() jsonrpc.ID {
	return s.ids.Next()
}

// write sends one frame. While reconnecting it is a no-op: every pending request
// is re-sent once the new connection is up.
func (s *Socket) write(ctx context.Context, frame []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	select {
	case <-s.closed:
		return jsonrpc.ErrClosed
	default:
	}
	if s.conn == nil {
		return nil
	}
	if err := s.conn.WriteFrame(ctx, frame); err != nil {
		// the reader fails on the closed connection and takes care of reconnecting
		s.log.Warn("Write failed, dropping connection", "err", err)
		_ = s.conn.Close()
		return ctx.Err()
	}
	return nil
}

func (s *Socket) register(id jsonrpc.ID, p *pendingRequest) error {
	if !s.pending.SetIfMissing(id, p) {
		return fmt.Errorf("request id %d is already outstanding", id)
	}
	return nil
}

func (s *Socket) roundTrip(ctx context.Context, req *jsonrpc.Request, sub *subscription) (*jsonrpc.Response, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request %s: %w", req.Method, err)
	}
	p := &pendingRequest{method: req.Method, raw: raw, done: make(chan result, 1), sub: sub}
	if err := s.register(req.ID, p); err != nil {
		return nil, err
	}
	if err := s.write(ctx, raw); err != nil {
		s.pending.Delete(req.ID)
		return nil, err
	}
	select {
	case r := <-p.done:
		return r.resp, r.err
	case <-ctx.Done():
		if _, ok := s.pending.LoadAndDelete(req.ID); ok || sub == nil {
			// a late reply finds no entry and is dropped
			return nil, ctx.Err()
		}
		// the reader claimed the reply first and may have registered the subscription
		if r := <-p.done; r.err == nil && r.resp.Error == nil {
			s.abandon(sub)
		}
		return nil, ctx.Err()
	}
}

// abandon unsubscribes a subscription whose caller gave up before getting its id.
func (s *Socket) abandon(sub *subscription) {
	ctx, cancel := context.WithTimeout(s.ctx, abandonTimeout)
	defer cancel()
	if err := s.Unsubscribe(ctx, sub.id); err != nil {
		s.log.Warn("Failed to unsubscribe abandoned subscription", "sub", sub.id, "err", err)
	}
}

func (s *Socket) Send(ctx context.Context, req *jsonrpc.Request) (json.RawMessage, error) {
	done := s.m.RecordRPCClientRequest(s.cfg.Name, req.Method, len(req.Params))
	resp, err := s.roundTrip(ctx, req, nil)
	if err == nil && resp.Error != nil {
		err = resp.Error
	}
	if err != nil {
		done(0, err)
		return nil, err
	}
	done(len(resp.Result), nil)
	return resp.Result, nil
}

func (s *Socket) SendBatch(ctx context.Context, reqs []*jsonrpc.Request) ([]*jsonrpc.Response, error) {
	if len(reqs) == 0 {
		return nil, nil
	}
	s.m.RecordRPCClientBatch(s.cfg.Name, len(reqs))
	batch := &pendingBatch{ids: jsonrpc.IDs(reqs)}
	entries := make([]*pendingRequest, 0, len(reqs))
	forget := func() {
		for _, id := range batch.ids {
			s.pending.Delete(id)
		}
	}
	for _, req := range reqs {
		raw, err := json.Marshal(req)
		if err != nil {
			forget()
			return nil, fmt.Errorf("failed to encode request %s: %w", req.Method, err)
		}
		p := &pendingRequest{method: req.Method, raw: raw, done: make(chan result, 1), batch: batch}
		if err := s.register(req.ID, p); err != nil {
			forget()
			return nil, err
		}
		entries = append(entries, p)
	}
	frame, err := json.Marshal(reqs)
	if err != nil {
		forget()
		return nil, fmt.Errorf("failed to encode batch: %w", err)
	}
	if err := s.write(ctx, frame); err != nil {
		forget()
		return nil, err
	}
	out := make([]*jsonrpc.Response, len(entries))
	for i, p := range entries {
		select {
		case r := <-p.done:
			if r.err != nil {
				forget()
				return nil, r.err
			}
			out[i] = r.resp
		case <-ctx.Done():
			forget()
			return nil, ctx.Err()
		}
	}
	return out, nil
}

func (s *Socket) Subscribe(ctx context.Context, req *jsonrpc.Request) (jsonrpc.SubscriptionID, <-chan json.RawMessage, error) {
	sub := newSubscription(req, s.cfg.QueueCap, s.log, func() {
		s.m.RecordDroppedNotification(s.cfg.Name, "queue_full")
	})
	resp, err := s.roundTrip(ctx, req, sub)
	if err != nil {
		return jsonrpc.SubscriptionID{}, nil, err
	}
	if resp.Error != nil {
		return jsonrpc.SubscriptionID{}, nil, resp.Error
	}
	return sub.id, sub.out, nil
}

func (s *Socket) Unsubscribe(ctx context.Context, id jsonrpc.SubscriptionID) error {
	sub, ok := s.subs.LoadAndDelete(id)
	if !ok {
		return nil
	}
	serverID := sub.serverID()
	s.aliases.Delete(serverID)
	sub.stop()
	s.m.RecordSubscriptions(s.cfg.Name, s.subs.Len())

	req, err := jsonrpc.NewRequest(s.NextID(), unsubscribeMethod(sub.req.Method), serverID)
	if err != nil {
		return err
	}
	if _, err := s.Send(ctx, req); err != nil {
		if errors.Is(err, jsonrpc.ErrClosed) {
			return nil
		}
		return fmt.Errorf("failed to unsubscribe %s: %w", id, err)
	}
	return nil
}

// Close shuts the connection down. Outstanding requests fail with jsonrpc.ErrClosed
// and subscription channels are closed.
func (s *Socket) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		s.cancel()
		s.writeMu.Lock()
		if s.conn != nil {
			err = s.conn.Close()
		}
		s.writeMu.Unlock()
	})
	<-s.done
	return err
}

func (s *Socket) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *Socket) readLoop(conn frameConn) {
	defer close(s.done)
	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			if s.isClosed() {
				s.terminate(jsonrpc.ErrClosed)
				return
			}
			s.log.Warn("Connection lost", "err", err)
			conn, err = s.reconnect(err)
			if err != nil {
				if s.isClosed() {
					s.terminate(jsonrpc.ErrClosed)
				} else {
					s.log.Error("Giving up on connection", "err", err)
					s.terminate(&jsonrpc.TransportError{Op: "reconnect", Err: err})
				}
				return
			}
			continue
		}
		s.dispatch(frame)
	}
}

func (s *Socket) reconnect(cause error) (frameConn, error) {
	s.writeMu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.writeMu.Unlock()

	if s.cfg.MaxReconnects <= 0 {
		return nil, cause
	}
	conn, err := retry.Do(s.ctx, s.cfg.MaxReconnects, s.cfg.ReconnectBackoff, func() (frameConn, error) {
		conn, err := s.dial(s.ctx)
		s.m.RecordReconnect(s.cfg.Name, err)
		if err != nil {
			s.log.Warn("Reconnect failed", "err", err)
		}
		return conn, err
	})
	if err != nil {
		return nil, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.isClosed() {
		_ = conn.Close()
		return nil, jsonrpc.ErrClosed
	}
	s.conn = conn

	// Node-side subscription ids are per connection: every live subscription is
	// issued again, and its new id aliased to the one the caller holds.
	subs := s.subs.Values()
	for _, sub := range subs {
		req := sub.req.WithID(s.NextID())
		raw, err := json.Marshal(req)
		if err != nil {
			s.log.Error("Failed to encode resubscribe request", "sub", sub.id, "err", err)
			continue
		}
		p := &pendingRequest{method: req.Method, raw: raw, done: make(chan result, 1), sub: sub, resubscribe: true}
		s.pending.Set(req.ID, p)
	}
	var resent int
	for _, p := range s.pending.Values() {
		if err := conn.WriteFrame(s.ctx, p.raw); err != nil {
			s.log.Warn("Failed to re-send request after reconnect", "method", p.method, "err", err)
			_ = conn.Close()
			break
		}
		resent++
	}
	s.log.Info("Reconnected", "subscriptions", len(subs), "resent", resent)
	return conn, nil
}

// terminate fails everything outstanding and marks the socket closed.
func (s *Socket) terminate(err error) {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.cancel()
	})
	s.writeMu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.writeMu.Unlock()
	for _, p := range s.pending.Drain() {
		p.done <- result{err: err}
	}
	s.aliases.Drain()
	for _, sub := range s.subs.Drain() {
		sub.stop()
	}
	s.m.RecordSubscriptions(s.cfg.Name, 0)
}

func (s *Socket) dispatch(frame []byte) {
	msgs, batch, err := jsonrpc.Decode(frame)
	if err != nil {
		s.log.Warn("Dropping undecodable frame", "err", err)
		return
	}
	var touched map[*pendingBatch]struct{}
	for _, msg := range msgs {
		switch {
		case msg.Response != nil:
			p := s.complete(msg.Response)
			if batch && p != nil && p.batch != nil {
				if touched == nil {
					touched = make(map[*pendingBatch]struct{})
				}
				touched[p.batch] = struct{}{}
			}
		case msg.Notification != nil:
			s.notify(msg.Notification)
		}
	}
	// a batch reply must carry every member of the batch
	for b := range touched {
		var missing []jsonrpc.ID
		for _, id := range b.ids {
			if s.pending.Has(id) {
				missing = append(missing, id)
			}
		}
		if len(missing) == 0 {
			continue
		}
		incomplete := &jsonrpc.IncompleteBatchError{Expected: len(b.ids), Got: len(b.ids) - len(missing)}
		for _, id := range missing {
			if p, ok := s.pending.LoadAndDelete(id); ok {
				p.done <- result{err: incomplete}
			}
		}
	}
}

func (s *Socket) complete(resp *jsonrpc.Response) *pendingRequest {
	p, ok := s.pending.LoadAndDelete(resp.ID)
	if !ok {
		s.log.Debug("Dropping response for unknown request", "id", resp.ID)
		return nil
	}
	if p.sub == nil || resp.Error != nil {
		if p.resubscribe {
			s.log.Error("Resubscribe rejected, ending subscription", "sub", p.sub.id, "err", resp.Error)
			s.dropSubscription(p.sub)
		}
		p.done <- result{resp: resp}
		return p
	}
	var serverID jsonrpc.SubscriptionID
	if err := json.Unmarshal(resp.Result, &serverID); err != nil {
		decErr := &jsonrpc.DecodeError{Raw: string(resp.Result), Err: err}
		if p.resubscribe {
			s.log.Error("Invalid resubscribe reply, ending subscription", "sub", p.sub.id, "err", decErr)
			s.dropSubscription(p.sub)
		}
		p.done <- result{err: decErr}
		return p
	}
	sub := p.sub
	if p.resubscribe {
		if _, live := s.subs.Get(sub.id); !live {
			// unsubscribed while reconnecting
			return p
		}
		s.aliases.Delete(sub.serverID())
		sub.setServerID(serverID)
		s.aliases.Set(serverID, sub)
		s.log.Debug("Resubscribed", "sub", sub.id, "server_id", serverID)
	} else {
		sub.id = serverID
		sub.setServerID(serverID)
		s.subs.Set(serverID, sub)
		s.aliases.Set(serverID, sub)
		go sub.forward()
		s.m.RecordSubscriptions(s.cfg.Name, s.subs.Len())
	}
	p.done <- result{resp: resp}
	return p
}

func (s *Socket) dropSubscription(sub *subscription) {
	s.subs.Delete(sub.id)
	s.aliases.Delete(sub.serverID())
	sub.stop()
	s.m.RecordSubscriptions(s.cfg.Name, s.subs.Len())
}

func (s *Socket) notify(n *jsonrpc.Notification) {
	sub, ok := s.aliases.Get(n.Subscription)
	if !ok {
		s.log.Debug("Dropping notification for unknown subscription", "sub", n.Subscription)
		s.m.RecordDroppedNotification(s.cfg.Name, "unknown")
		return
	}
	s.m.RecordRPCClientNotification(s.cfg.Name, jsonrpc.SubscriptionMethod)
	sub.push(n.Result)
}
