package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/mantlenetworkio/ethrpc/op-provider/jsonrpc"
)

const unsubscribeTimeout = 10 * time.Second

// Subscription is a typed stream of notifications.
// It holds on to the client only to unsubscribe when closed.
type Subscription[T any] struct {
	log    log.Logger
	client Client
	id     jsonrpc.SubscriptionID
	ch     <-chan json.RawMessage

	once sync.Once
}

// Subscribe sends eth_subscribe with args, e.g. "newHeads", and decodes every notification as T.
func Subscribe[T any](ctx context.Context, client Client, logger log.Logger, args ...any) (*Subscription[T], error) {
	id, ch, err := client.Subscribe(ctx, args...)
	if err != nil {
		return nil, err
	}
	return &Subscription[T]{
		log:    logger.New("subscription", id),
		client: client,
		id:     id,
		ch:     ch,
	}, nil
}

func (s *Subscription[T]) ID() jsonrpc.SubscriptionID {
	return s.id
}

// Next blocks for the next notification. A payload that does not decode as T returns a
// *jsonrpc.DecodeError, and the stream continues with the next one.
// io.EOF is returned once the stream has ended.
func (s *Subscription[T]) Next(ctx context.Context) (T, error) {
	var item T
	select {
	case raw, ok := <-s.ch:
		if !ok {
			return item, io.EOF
		}
		if err := json.Unmarshal(raw, &item); err != nil {
			return item, &jsonrpc.DecodeError{Raw: string(raw), Err: err}
		}
		return item, nil
	case <-ctx.Done():
		return item, ctx.Err()
	}
}

// Close unsubscribes. Failures are logged, not returned, and repeated calls do nothing.
func (s *Subscription[T]) Close() {
	s.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), unsubscribeTimeout)
		defer cancel()
		if err := s.client.Unsubscribe(ctx, s.id); err != nil && !errors.Is(err, jsonrpc.ErrClosed) {
			s.log.Warn("Failed to unsubscribe", "err", err)
		}
	})
}

// Guard returns Close, to be deferred where the stream should end with the enclosing function.
func (s *Subscription[T]) Guard() func() {
	return s.Close
}
