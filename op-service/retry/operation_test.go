package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDo(t *testing.T) {
	strategy := Fixed(10 * time.Millisecond)
	dummyErr := errors.New("explode")

	start := time.Now()
	var i int
	_, err := Do(context.Background(), 2, strategy, func() (int, error) {
		if i == 1 {
			return 0, nil
		}
		i++
		return 0, dummyErr
	})
	require.NoError(t, err)
	require.True(t, time.Since(start) > 10*time.Millisecond)

	start = time.Now()
	// add one because the first attempt counts
	_, err = Do(context.Background(), 3, strategy, func() (int, error) {
		return 0, dummyErr
	})
	require.Equal(t, dummyErr, err.(*ErrFailedPermanently).LastErr)
	require.ErrorIs(t, err, dummyErr)
	require.True(t, time.Since(start) > 20*time.Millisecond)
}

func TestDoZeroAttempts(t *testing.T) {
	_, err := Do(context.Background(), 0, Fixed(0), func() (int, error) {
		return 0, nil
	})
	require.Error(t, err)
}

func TestDoCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := Do0(ctx, 5, Fixed(time.Hour), func() error {
		calls++
		return errors.New("nope")
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, calls)
}

func TestGeometric(t *testing.T) {
	s := Geometric(100*time.Millisecond, 2, time.Second)
	require.Equal(t, 100*time.Millisecond, s.Duration(0))
	require.Equal(t, 200*time.Millisecond, s.Duration(1))
	require.Equal(t, 400*time.Millisecond, s.Duration(2))
	require.Equal(t, 800*time.Millisecond, s.Duration(3))
	require.Equal(t, time.Second, s.Duration(4))
	require.Equal(t, time.Second, s.Duration(1000))
}

func TestExponential(t *testing.T) {
	s := &ExponentialStrategy{Min: 3 * time.Second, Max: 10 * time.Second}
	require.Equal(t, 3*time.Second, s.Duration(-1))
	require.Equal(t, 4*time.Second, s.Duration(0))
	require.Equal(t, 5*time.Second, s.Duration(1))
	require.Equal(t, 7*time.Second, s.Duration(2))
	require.Equal(t, 10*time.Second, s.Duration(3))
}
