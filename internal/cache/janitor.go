package cache

import (
	"context"
	"log/slog"
	"time"
)

// Janitor periodically removes expired entries from a memory tier so that
// stale values do not hold LRU slots until they are read.
type Janitor struct {
	memory   *MemoryCache
	interval time.Duration
	logger   *slog.Logger
}

func NewJanitor(memory *MemoryCache, interval time.Duration, logger *slog.Logger) *Janitor {
	return &Janitor{
		memory:   memory,
		interval: interval,
		logger:   logger,
	}
}

// Start runs the sweep loop until ctx is cancelled. It blocks.
func (j *Janitor) Start(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if removed := j.memory.RemoveExpired(); removed > 0 {
				j.logger.Debug("Removed expired cache entries", slog.Int("count", removed))
			}
		case <-ctx.Done():
			j.logger.Debug("Cache janitor stopped")
			return
		}
	}
}
