package cache

import (
	"context"
	"sync"
	"time"
)

// NodeCountKey holds the number of CAP nodes seen by the last listing.
const NodeCountKey = "cap.nodes.count"

// Cache is an upsert-with-expiry key/value store.
type Cache interface {
	Upsert(ctx context.Context, key string, value int64, ttl time.Duration) error
}

type entry struct {
	value     int64
	expiresAt time.Time
}

// Memory is an in-process Cache. Expired entries are dropped on read.
type Memory struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

// NewMemory creates an empty in-process cache.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// Upsert stores value under key, replacing any existing entry.
func (m *Memory) Upsert(_ context.Context, key string, value int64, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = entry{value: value, expiresAt: m.now().Add(ttl)}
	return nil
}

// Get returns the live value for key.
func (m *Memory) Get(_ context.Context, key string) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return 0, false, nil
	}
	if !m.now().Before(e.expiresAt) {
		delete(m.entries, key)
		return 0, false, nil
	}
	return e.value, true, nil
}
