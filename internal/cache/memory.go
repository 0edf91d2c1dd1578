package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryCache keeps entries in a map guarded by a RWMutex. Expired entries are
// dropped when read or by Sweep.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]Entry
	now     func() time.Time
}

// NewMemory constructs an empty MemoryCache.
func NewMemory() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]Entry),
		now:     time.Now,
	}
}

// Get returns a copy of the cached codes.
func (m *MemoryCache) Get(_ context.Context, digest string) ([]string, bool, error) {
	m.mu.RLock()
	e, ok := m.entries[digest]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if e.expired(m.now()) {
		m.mu.Lock()
		if cur, ok := m.entries[digest]; ok && cur.expired(m.now()) {
			delete(m.entries, digest)
		}
		m.mu.Unlock()
		return nil, false, nil
	}
	return append([]string(nil), e.Codes...), true, nil
}

// Set inserts or replaces an entry. A zero ttl never expires.
func (m *MemoryCache) Set(_ context.Context, digest string, codes []string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[digest] = Entry{
		Digest:    digest,
		Codes:     append([]string(nil), codes...),
		CreatedAt: m.now().UTC(),
		TTL:       ttl,
	}
	return nil
}

// Sweep removes expired entries and returns how many were dropped.
func (m *MemoryCache) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	n := 0
	for k, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, k)
			n++
		}
	}
	return n
}

// Len reports the number of stored entries, expired ones included.
func (m *MemoryCache) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
