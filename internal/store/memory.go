package store

import (
	"context"
	"sync"
)

// Memory is an in-process [KV] used by tests and ephemeral runs. Safe for
// concurrent use.
type Memory struct {
	mu   sync.Mutex
	data map[string][]byte
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

// Get returns the blob stored under key, or (nil, nil) if absent.
func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.data[key]
	if !ok {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	return cp, nil
}

// Set stores value under key.
func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	m.data[key] = cp
	return nil
}

// Remove deletes the given keys. Missing keys are ignored.
func (m *Memory) Remove(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.data, key)
	}
	return nil
}
