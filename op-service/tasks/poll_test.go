package tasks

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const eventualTimeout = 10 * time.Second

func TestPoller(t *testing.T) {
	counter := new(atomic.Int64)
	poller := NewPoller(func(ctx context.Context) {
		counter.Add(1)
	}, 10*time.Millisecond)

	poller.Start()
	poller.Start() // duplicate start is ignored

	require.Eventually(t, func() bool {
		return counter.Load() >= 3
	}, eventualTimeout, time.Millisecond*5)

	poller.Stop()
	stopped := counter.Load()
	require.Never(t, func() bool {
		return counter.Load() > stopped
	}, 100*time.Millisecond, time.Millisecond*10)
	poller.Stop() // duplicate stop is ignored

	poller.SetInterval(5 * time.Millisecond)
	poller.Start()
	require.Eventually(t, func() bool {
		return counter.Load() > stopped
	}, eventualTimeout, time.Millisecond*5)
	poller.Stop()
}
