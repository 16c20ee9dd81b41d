package cache

import (
	"context"
	"path"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	defaultMemorySize = 100
	defaultTTL        = time.Hour
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryCache is a bounded LRU with per-entry expiry. Least recently used
// entries are evicted once the size limit is reached.
type MemoryCache struct {
	items      *lru.Cache[string, memoryEntry]
	size       int
	defaultTTL time.Duration
	closed     atomic.Bool
	counters   counters
}

// NewMemoryCache builds a memory cache. A zero ttl passed to Set uses
// defaultTTL; a negative one stores the value without expiry.
func NewMemoryCache(size int, defaultTTL time.Duration) (*MemoryCache, error) {
	if size <= 0 {
		size = defaultMemorySize
	}
	items, err := lru.New[string, memoryEntry](size)
	if err != nil {
		return nil, err
	}
	return &MemoryCache{
		items:      items,
		size:       size,
		defaultTTL: defaultTTL,
	}, nil
}

func (m *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}

	entry, ok := m.items.Get(key)
	if !ok {
		m.counters.misses.Add(1)
		return nil, ErrMiss
	}
	if entry.expired(time.Now()) {
		m.items.Remove(key)
		m.counters.misses.Add(1)
		return nil, ErrMiss
	}

	m.counters.hits.Add(1)
	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, nil
}

func (m *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if m.closed.Load() {
		return ErrClosed
	}

	if ttl == 0 {
		ttl = m.defaultTTL
	}

	entry := memoryEntry{value: make([]byte, len(value))}
	copy(entry.value, value)
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}

	m.items.Add(key, entry)
	m.counters.sets.Add(1)
	return nil
}

func (m *MemoryCache) Delete(_ context.Context, key string) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if m.items.Remove(key) {
		m.counters.deletes.Add(1)
	}
	return nil
}

func (m *MemoryCache) Exists(_ context.Context, key string) (bool, error) {
	if m.closed.Load() {
		return false, ErrClosed
	}
	entry, ok := m.items.Peek(key)
	if !ok {
		return false, nil
	}
	return !entry.expired(time.Now()), nil
}

func (m *MemoryCache) InvalidatePattern(_ context.Context, pattern string) (int, error) {
	if m.closed.Load() {
		return 0, ErrClosed
	}
	if _, err := path.Match(pattern, ""); err != nil {
		return 0, err
	}

	removed := 0
	for _, key := range m.items.Keys() {
		if ok, _ := path.Match(pattern, key); ok {
			if m.items.Remove(key) {
				removed++
			}
		}
	}
	m.counters.deletes.Add(int64(removed))
	return removed, nil
}

func (m *MemoryCache) Clear(_ context.Context) error {
	if m.closed.Load() {
		return ErrClosed
	}
	m.items.Purge()
	return nil
}

func (m *MemoryCache) Ping(_ context.Context) error {
	if m.closed.Load() {
		return ErrClosed
	}
	return nil
}

// RemoveExpired drops every expired entry and returns how many were removed.
func (m *MemoryCache) RemoveExpired() int {
	now := time.Now()
	removed := 0
	for _, key := range m.items.Keys() {
		if entry, ok := m.items.Peek(key); ok && entry.expired(now) {
			if m.items.Remove(key) {
				removed++
			}
		}
	}
	return removed
}

func (m *MemoryCache) Len() int {
	return m.items.Len()
}

func (m *MemoryCache) Stats() Stats {
	s := m.counters.snapshot("memory")
	s.MemoryEntries = m.items.Len()
	s.MemoryCapacity = m.size
	return s
}

func (m *MemoryCache) Close() error {
	m.closed.Store(true)
	m.items.Purge()
	return nil
}
