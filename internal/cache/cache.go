package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

var (
	// ErrMiss is returned by Get when the key is absent or expired.
	ErrMiss = errors.New("cache miss")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("cache closed")
)

// Cache is the contract shared by every cache tier.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	// InvalidatePattern removes keys matching a glob pattern and reports how
	// many were removed.
	InvalidatePattern(ctx context.Context, pattern string) (int, error)
	Clear(ctx context.Context) error
	Ping(ctx context.Context) error
	Stats() Stats
	Close() error
}

// Stats is a point-in-time view of cache counters.
type Stats struct {
	Backend        string  `json:"backend"`
	Hits           int64   `json:"hits"`
	Misses         int64   `json:"misses"`
	Sets           int64   `json:"sets"`
	Deletes        int64   `json:"deletes"`
	Errors         int64   `json:"errors"`
	FallbackCount  int64   `json:"fallback_count"`
	HitRatio       float64 `json:"hit_ratio"`
	Degraded       bool    `json:"degraded"`
	MemoryEntries  int     `json:"memory_entries"`
	MemoryCapacity int     `json:"memory_capacity"`
}

type counters struct {
	hits      atomic.Int64
	misses    atomic.Int64
	sets      atomic.Int64
	deletes   atomic.Int64
	errors    atomic.Int64
	fallbacks atomic.Int64
}

func (c *counters) snapshot(backend string) Stats {
	s := Stats{
		Backend:       backend,
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Sets:          c.sets.Load(),
		Deletes:       c.deletes.Load(),
		Errors:        c.errors.Load(),
		FallbackCount: c.fallbacks.Load(),
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRatio = float64(s.Hits) / float64(total)
	}
	return s
}
