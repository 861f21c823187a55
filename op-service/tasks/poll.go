package tasks

import (
	"context"
	"sync"
	"time"
)

// Poller runs a function on repeat at a set interval.
// Warning: ticks can be missed, if the function execution is slow.
type Poller struct {
	fn func(ctx context.Context)

	interval time.Duration

	ticker *time.Ticker // nil if not running

	mu     sync.Mutex
	ctx    context.Context // non-nil when running
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPoller creates a Poller. The function receives a context that is canceled on Stop.
func NewPoller(fn func(ctx context.Context), interval time.Duration) *Poller {
	return &Poller{
		fn:       fn,
		interval: interval,
	}
}

// Start starts polling in a background routine.
// Duplicate start calls are ignored. Only one routine runs.
func (pd *Poller) Start() {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	if pd.ctx != nil {
		return // already running
	}

	pd.ctx, pd.cancel = context.WithCancel(context.Background())
	pd.ticker = time.NewTicker(pd.interval)

	ctx, ticker := pd.ctx, pd.ticker
	pd.wg.Add(1)
	go func() {
		defer pd.wg.Done()
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				pd.fn(ctx)
			case <-ctx.Done():
				return // quitting
			}
		}
	}()
}

// Stop stops the polling and waits for an in-flight tick to finish.
// Duplicate calls are ignored.
func (pd *Poller) Stop() {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	if pd.ctx == nil {
		return // not running, nothing to stop
	}
	pd.cancel()
	pd.wg.Wait()
	pd.ctx = nil
	pd.cancel = nil
	pd.ticker = nil
}

// SetInterval changes the polling interval.
func (pd *Poller) SetInterval(interval time.Duration) {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	pd.interval = interval
	// if we're currently running, change the interval of the active ticker
	if pd.ticker != nil {
		pd.ticker.Reset(interval)
	}
}
