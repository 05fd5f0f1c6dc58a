package cache

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryCache is an in-process Cache with lazy expiry plus a periodic
// sweep. Suitable for single-node deployments.
type MemoryCache struct {
	mu         sync.RWMutex
	entries    map[string]memoryEntry
	defaultTTL time.Duration
	stop       chan struct{}
	closeOnce  sync.Once
}

// NewMemoryCache creates a memory cache. A non-positive defaultTTL
// falls back to 5 minutes.
func NewMemoryCache(defaultTTL time.Duration) *MemoryCache {
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}

	m := &MemoryCache{
		entries:    make(map[string]memoryEntry),
		defaultTTL: defaultTTL,
		stop:       make(chan struct{}),
	}
	go m.sweepLoop()

	return m
}

func (m *MemoryCache) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok || time.Now().After(entry.expiresAt) {
		return "", ErrCacheMiss
	}
	return entry.value, nil
}

func (m *MemoryCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = m.defaultTTL
	}

	m.mu.Lock()
	m.entries[key] = memoryEntry{
		value:     value,
		expiresAt: time.Now().Add(ttl),
	}
	m.mu.Unlock()

	return nil
}

func (m *MemoryCache) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	for _, key := range keys {
		delete(m.entries, key)
	}
	m.mu.Unlock()

	return nil
}

func (m *MemoryCache) Close() error {
	m.closeOnce.Do(func() { close(m.stop) })
	return nil
}

// Len returns the number of live (non-expired) entries.
func (m *MemoryCache) Len() int {
	now := time.Now()

	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, entry := range m.entries {
		if now.Before(entry.expiresAt) {
			n++
		}
	}
	return n
}

func (m *MemoryCache) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			now := time.Now()
			m.mu.Lock()
			for key, entry := range m.entries {
				if now.After(entry.expiresAt) {
					delete(m.entries, key)
				}
			}
			m.mu.Unlock()
		}
	}
}
