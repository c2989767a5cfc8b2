package cache

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Store used by tests and local runs. Expired
// entries are evicted lazily on access.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Get returns the value for key if present and not expired.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if m.expired(entry) {
		delete(m.entries, key)
		return nil, false, nil
	}
	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, true, nil
}

// SetWithTTL stores value under key; ttl <= 0 means no expiry.
func (m *Memory) SetWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = m.now().Add(ttl)
	}
	m.entries[key] = entry
	return nil
}

// DeleteKeys removes keys and reports how many live entries were removed.
func (m *Memory) DeleteKeys(_ context.Context, keys ...string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	deleted := 0
	for _, key := range keys {
		entry, ok := m.entries[key]
		if !ok {
			continue
		}
		delete(m.entries, key)
		if !m.expired(entry) {
			deleted++
		}
	}
	return deleted, nil
}

// HealthCheck always reports healthy for the in-process store.
func (m *Memory) HealthCheck(context.Context) Health {
	return Health{Healthy: true}
}

// Stats counts live entries and their payload bytes.
func (m *Memory) Stats(context.Context) (Stats, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var stats Stats
	for _, entry := range m.entries {
		if m.expired(entry) {
			continue
		}
		stats.KeyCount++
		stats.UsedMemoryBytes += int64(len(entry.value))
	}
	return stats, true
}

// Close is a no-op for the in-process store.
func (m *Memory) Close() error {
	return nil
}

// SetNow overrides the time source, letting tests control expiry.
func (m *Memory) SetNow(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *Memory) expired(entry memoryEntry) bool {
	return !entry.expiresAt.IsZero() && !m.now().Before(entry.expiresAt)
}
