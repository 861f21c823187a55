package quorum

import (
	"encoding/json"
	"sync"
)

// maxTracked bounds the number of distinct notifications remembered by a Stream.
const maxTracked = 4096

type WeightedChannel struct {
	C      <-chan json.RawMessage
	Weight uint64
}

type weighted struct {
	value  json.RawMessage
	weight uint64
}

// Stream merges the notification channels of several backends and yields a payload
// once the weight of the backends that sent it reaches the quorum. Each payload is
// yielded at most once.
type Stream struct {
	required uint64
	out      chan json.RawMessage
	quit     chan struct{}
	once     sync.Once
	onClose  []func()
}

func NewStream(required uint64, inputs []WeightedChannel) *Stream {
	s := &Stream{
		required: required,
		out:      make(chan json.RawMessage),
		quit:     make(chan struct{}),
	}
	go s.run(inputs)
	return s
}

// C yields the agreed payloads. It is closed when every input is closed, or on Close.
func (s *Stream) C() <-chan json.RawMessage {
	return s.out
}

func (s *Stream) Close() {
	s.once.Do(func() {
		close(s.quit)
		for _, f := range s.onClose {
			f()
		}
	})
}

func (s *Stream) run(inputs []WeightedChannel) {
	defer close(s.out)
	merged := make(chan weighted)
	var wg sync.WaitGroup
	for _, in := range inputs {
		wg.Add(1)
		go func(in WeightedChannel) {
			defer wg.Done()
			for v := range in.C {
				select {
				case merged <- weighted{value: v, weight: in.Weight}:
				case <-s.quit:
					return
				}
			}
		}(in)
	}
	go func() {
		wg.Wait()
		close(merged)
	}()

	t := newTally(s.required, maxTracked)
	for {
		select {
		case w, ok := <-merged:
			if !ok {
				return
			}
			if !t.add(w) {
				continue
			}
			select {
			case s.out <- w.value:
			case <-s.quit:
				return
			}
		case <-s.quit:
			return
		}
	}
}

type tallyEntry struct {
	weight  uint64
	emitted bool
}

// tally accumulates weight per distinct payload, forgetting the oldest payloads past its limit.
type tally struct {
	required uint64
	limit    int
	entries  map[string]*tallyEntry
	order    []string
}

func newTally(required uint64, limit int) *tally {
	return &tally{required: required, limit: limit, entries: make(map[string]*tallyEntry)}
}

// add records a vote and reports whether the payload just reached the quorum.
func (t *tally) add(w weighted) bool {
	key := string(w.value)
	e, ok := t.entries[key]
	if !ok {
		e = &tallyEntry{}
		t.entries[key] = e
		t.order = append(t.order, key)
		if len(t.order) > t.limit {
			delete(t.entries, t.order[0])
			t.order = t.order[1:]
		}
	}
	e.weight += w.weight
	if e.emitted || e.weight < t.required {
		return false
	}
	e.emitted = true
	return true
}
