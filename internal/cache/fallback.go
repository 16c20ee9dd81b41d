package cache

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"
)

// FallbackCache reads through a memory L1 in front of a primary (Redis)
// tier. Primary failures are absorbed: the memory tier keeps serving and
// the cache reports itself degraded until a Ping succeeds.
type FallbackCache struct {
	primary  Cache
	memory   *MemoryCache
	l1TTL    time.Duration
	logger   *slog.Logger
	degraded atomic.Bool
	counters counters
}

// NewFallbackCache wires primary behind memory. A nil primary yields a
// memory-only cache that is never degraded.
func NewFallbackCache(primary Cache, memory *MemoryCache, logger *slog.Logger) *FallbackCache {
	return &FallbackCache{
		primary: primary,
		memory:  memory,
		l1TTL:   memory.defaultTTL,
		logger:  logger,
	}
}

func (f *FallbackCache) Get(ctx context.Context, key string) ([]byte, error) {
	if value, err := f.memory.Get(ctx, key); err == nil {
		f.counters.hits.Add(1)
		return value, nil
	}

	if f.primary == nil {
		f.counters.misses.Add(1)
		return nil, ErrMiss
	}

	value, err := f.primary.Get(ctx, key)
	switch {
	case err == nil:
		f.markHealthy()
		_ = f.memory.Set(ctx, key, value, f.l1TTL)
		f.counters.hits.Add(1)
		return value, nil
	case errors.Is(err, ErrMiss):
		f.markHealthy()
	default:
		f.fail("get", err)
	}

	f.counters.misses.Add(1)
	return nil, ErrMiss
}

func (f *FallbackCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	l1TTL := ttl
	if l1TTL <= 0 || l1TTL > f.l1TTL {
		l1TTL = f.l1TTL
	}
	if err := f.memory.Set(ctx, key, value, l1TTL); err != nil {
		return err
	}
	f.counters.sets.Add(1)

	if f.primary != nil {
		if err := f.primary.Set(ctx, key, value, ttl); err != nil {
			f.fail("set", err)
		} else {
			f.markHealthy()
		}
	}
	return nil
}

func (f *FallbackCache) Delete(ctx context.Context, key string) error {
	if err := f.memory.Delete(ctx, key); err != nil {
		return err
	}
	f.counters.deletes.Add(1)

	if f.primary != nil {
		if err := f.primary.Delete(ctx, key); err != nil {
			f.fail("delete", err)
		}
	}
	return nil
}

func (f *FallbackCache) Exists(ctx context.Context, key string) (bool, error) {
	if ok, err := f.memory.Exists(ctx, key); err == nil && ok {
		return true, nil
	}
	if f.primary == nil {
		return false, nil
	}

	ok, err := f.primary.Exists(ctx, key)
	if err != nil {
		f.fail("exists", err)
		return false, nil
	}
	return ok, nil
}

func (f *FallbackCache) InvalidatePattern(ctx context.Context, pattern string) (int, error) {
	removed, err := f.memory.InvalidatePattern(ctx, pattern)
	if err != nil {
		return 0, err
	}

	if f.primary != nil {
		n, err := f.primary.InvalidatePattern(ctx, pattern)
		if err != nil {
			f.fail("invalidate", err)
		} else if n > removed {
			removed = n
		}
	}
	f.counters.deletes.Add(int64(removed))
	return removed, nil
}

func (f *FallbackCache) Clear(ctx context.Context) error {
	if err := f.memory.Clear(ctx); err != nil {
		return err
	}
	if f.primary != nil {
		if err := f.primary.Clear(ctx); err != nil {
			f.fail("clear", err)
		}
	}
	return nil
}

// Ping checks the primary tier. A successful ping clears the degraded flag;
// a failed one sets it and returns the primary error.
func (f *FallbackCache) Ping(ctx context.Context) error {
	if err := f.memory.Ping(ctx); err != nil {
		return err
	}
	if f.primary == nil {
		return nil
	}
	if err := f.primary.Ping(ctx); err != nil {
		f.fail("ping", err)
		return err
	}
	f.markHealthy()
	return nil
}

// Degraded reports whether the primary tier is currently failing.
func (f *FallbackCache) Degraded() bool {
	return f.degraded.Load()
}

// Memory exposes the L1 tier, e.g. for expiry sweeps.
func (f *FallbackCache) Memory() *MemoryCache {
	return f.memory
}

func (f *FallbackCache) Stats() Stats {
	backend := "memory"
	if f.primary != nil {
		backend = "redis+memory"
	}

	s := f.counters.snapshot(backend)
	s.Degraded = f.degraded.Load()
	s.MemoryEntries = f.memory.Len()
	s.MemoryCapacity = f.memory.size
	if f.primary != nil {
		s.Errors += f.primary.Stats().Errors
	}
	return s
}

func (f *FallbackCache) Close() error {
	var errs []error
	if f.primary != nil {
		errs = append(errs, f.primary.Close())
	}
	errs = append(errs, f.memory.Close())
	return errors.Join(errs...)
}

func (f *FallbackCache) fail(op string, err error) {
	f.counters.fallbacks.Add(1)
	if !f.degraded.Swap(true) {
		f.logger.Warn("Cache primary unavailable, serving from memory",
			slog.String("op", op),
			slog.Any("err", err))
	}
}

func (f *FallbackCache) markHealthy() {
	if f.degraded.Swap(false) {
		f.logger.Info("Cache primary recovered")
	}
}
