package cache

import (
	"context"
	"encoding/json"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Memory keeps the most recently used replies in memory.
type Memory struct {
	entries *lru.Cache[string, json.RawMessage]
}

var _ Cache = (*Memory)(nil)

func NewMemory(size int) (*Memory, error) {
	entries, err := lru.New[string, json.RawMessage](size)
	if err != nil {
		return nil, err
	}
	return &Memory{entries: entries}, nil
}

func (m *Memory) Get(_ context.Context, method string, params json.RawMessage) (json.RawMessage, bool, error) {
	v, ok := m.entries.Get(Key(method, params))
	return v, ok, nil
}

func (m *Memory) Put(_ context.Context, method string, params json.RawMessage, value json.RawMessage) error {
	m.entries.Add(Key(method, params), append(json.RawMessage(nil), value...))
	return nil
}

func (m *Memory) Len() int {
	return m.entries.Len()
}

func (m *Memory) Close() error {
	m.entries.Purge()
	return nil
}
