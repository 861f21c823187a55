package quorum

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStream(t *testing.T) {
	a := make(chan json.RawMessage, 10)
	b := make(chan json.RawMessage, 10)
	c := make(chan json.RawMessage, 10)
	s := NewStream(2, []WeightedChannel{{C: a, Weight: 1}, {C: b, Weight: 1}, {C: c, Weight: 1}})
	defer s.Close()

	a <- json.RawMessage(`"block1"`)
	b <- json.RawMessage(`"other"`)
	c <- json.RawMessage(`"block1"`)
	require.Equal(t, `"block1"`, string(next(t, s)))

	// the third vote for an emitted payload does not emit it again
	b <- json.RawMessage(`"block1"`)
	a <- json.RawMessage(`"block2"`)
	b <- json.RawMessage(`"block2"`)
	require.Equal(t, `"block2"`, string(next(t, s)))

	close(a)
	close(b)
	close(c)
	select {
	case _, ok := <-s.C():
		require.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not end with its inputs")
	}
}

func TestStreamClose(t *testing.T) {
	a := make(chan json.RawMessage)
	closed := false
	s := NewStream(1, []WeightedChannel{{C: a, Weight: 1}})
	s.onClose = []func(){func() { closed = true; close(a) }}
	s.Close()
	s.Close()
	require.True(t, closed)
	_, ok := <-s.C()
	require.False(t, ok)
}

func TestTallyForgetsOldest(t *testing.T) {
	tl := newTally(2, 2)
	require.False(t, tl.add(weighted{value: json.RawMessage("1"), weight: 1}))
	require.False(t, tl.add(weighted{value: json.RawMessage("2"), weight: 1}))
	require.False(t, tl.add(weighted{value: json.RawMessage("3"), weight: 1}))
	// "1" was forgotten, so its second vote starts over
	require.False(t, tl.add(weighted{value: json.RawMessage("1"), weight: 1}))
	require.True(t, tl.add(weighted{value: json.RawMessage("3"), weight: 1}))
}

func next(t *testing.T, s *Stream) json.RawMessage {
	t.Helper()
	select {
	case v, ok := <-s.C():
		require.True(t, ok)
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for quorum notification")
		return nil
	}
}
