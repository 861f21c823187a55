package locks

import (
	"sync"
)

// RWMap is a map guarded by a single read-write lock.
// Every method holds the lock only for the duration of the map operation itself,
// callbacks passed to Range run under the read lock and must not call back into the map.
// The zero value is ready for use.
type RWMap[K comparable, V any] struct {
	inner map[K]V
	mu    sync.RWMutex
}

func (m *RWMap[K, V]) Has(key K) (ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok = m.inner[key]
	return
}

func (m *RWMap[K, V]) Get(key K) (value V, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok = m.inner[key]
	return
}

func (m *RWMap[K, V]) Set(key K, value V) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inner == nil {
		m.inner = make(map[K]V)
	}
	m.inner[key] = value
}

// SetIfMissing stores v under key unless the key is already present.
func (m *RWMap[K, V]) SetIfMissing(key K, v V) (changed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inner == nil {
		m.inner = make(map[K]V)
	}
	if _, ok := m.inner[key]; ok {
		return false
	}
	m.inner[key] = v
	return true
}

// LoadAndDelete removes the entry and returns what was stored.
// Of several concurrent callers for the same key, exactly one observes ok == true.
func (m *RWMap[K, V]) LoadAndDelete(key K) (value V, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok = m.inner[key]
	if ok {
		delete(m.inner, key)
	}
	return
}

func (m *RWMap[K, V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.inner)
}

func (m *RWMap[K, V]) Delete(key K) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inner, key)
}

// Range calls f sequentially for each key and value present in the map.
// If f returns false, range stops the iteration.
func (m *RWMap[K, V]) Range(f func(key K, value V) bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for k, v := range m.inner {
		if !f(k, v) {
			break
		}
	}
}

// Values returns an unsorted list of values of the map.
func (m *RWMap[K, V]) Values() (out []V) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out = make([]V, 0, len(m.inner))
	for _, v := range m.inner {
		out = append(out, v)
	}
	return out
}

// Drain empties the map and returns everything it held.
func (m *RWMap[K, V]) Drain() map[K]V {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.inner
	m.inner = nil
	if out == nil {
		out = make(map[K]V)
	}
	return out
}
