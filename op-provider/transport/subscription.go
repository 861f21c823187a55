package transport

import (
	"encoding/json"
	"sync"

	"github.com/ethereum/go-ethereum/log"

	"github.com/mantlenetworkio/ethrpc/op-provider/jsonrpc"
)

// subscription buffers the notifications of one subscription between the reader
// loop, which must never block, and the consumer of out.
type subscription struct {
	log log.Logger
	req *jsonrpc.Request
	// id is the id handed to the caller, fixed once the subscribe reply is processed.
	id jsonrpc.SubscriptionID

	mu      sync.Mutex
	current jsonrpc.SubscriptionID
	queue   []json.RawMessage
	cap     int
	stopped bool
	onDrop  func()

	signal chan struct{}
	quit   chan struct{}
	out    chan json.RawMessage
	once   sync.Once
}

func newSubscription(req *jsonrpc.Request, queueCap int, logger log.Logger, onDrop func()) *subscription {
	return &subscription{
		log:    logger,
		req:    req,
		cap:    queueCap,
		onDrop: onDrop,
		signal: make(chan struct{}, 1),
		quit:   make(chan struct{}),
		out:    make(chan json.RawMessage),
	}
}

func (sub *subscription) serverID() jsonrpc.SubscriptionID {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return sub.current
}

func (sub *subscription) setServerID(id jsonrpc.SubscriptionID) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	sub.current = id
}

func (sub *subscription) push(msg json.RawMessage) {
	sub.mu.Lock()
	if sub.stopped {
		sub.mu.Unlock()
		return
	}
	dropped := false
	if len(sub.queue) >= sub.cap {
		sub.queue[0] = nil
		sub.queue = sub.queue[1:]
		dropped = true
	}
	sub.queue = append(sub.queue, msg)
	sub.mu.Unlock()
	if dropped {
		sub.log.Warn("Subscription queue full, dropped oldest notification", "sub", sub.id, "cap", sub.cap)
		sub.onDrop()
	}
	select {
	case sub.signal <- struct{}{}:
	default:
	}
}

func (sub *subscription) pop() (json.RawMessage, bool) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if len(sub.queue) == 0 {
		return nil, false
	}
	msg := sub.queue[0]
	sub.queue[0] = nil
	sub.queue = sub.queue[1:]
	return msg, true
}

// forward delivers queued notifications in order until the subscription stops.
func (sub *subscription) forward() {
	defer close(sub.out)
	for {
		msg, ok := sub.pop()
		if !ok {
			select {
			case <-sub.signal:
				continue
			case <-sub.quit:
				return
			}
		}
		select {
		case sub.out <- msg:
		case <-sub.quit:
			return
		}
	}
}

func (sub *subscription) stop() {
	sub.once.Do(func() {
		sub.mu.Lock()
		sub.stopped = true
		sub.queue = nil
		sub.mu.Unlock()
		close(sub.quit)
	})
}
