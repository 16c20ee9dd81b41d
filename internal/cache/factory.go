package cache

import (
	"context"
	"log/slog"
	"time"
)

// Options configures a cache built by New.
type Options struct {
	RedisURL             string
	KeyPrefix            string
	DefaultTTL           time.Duration
	MemorySize           int
	CompressionThreshold int
	ConnectTimeout       time.Duration
}

// ForWebApp suits general request caching.
func ForWebApp(redisURL string) Options {
	return Options{
		RedisURL:   redisURL,
		DefaultTTL: 30 * time.Minute,
		MemorySize: 200,
	}
}

// ForAI suits LLM responses: longer TTLs, compression of large payloads.
func ForAI(redisURL string) Options {
	return Options{
		RedisURL:             redisURL,
		KeyPrefix:            "ai:",
		DefaultTTL:           time.Hour,
		MemorySize:           100,
		CompressionThreshold: 1000,
	}
}

// ForTesting is memory only with short TTLs.
func ForTesting() Options {
	return Options{
		DefaultTTL: time.Minute,
		MemorySize: 50,
	}
}

// New builds a FallbackCache. When RedisURL is empty the cache is memory
// only. When Redis is configured but unreachable the cache starts degraded
// and serves from memory; only a malformed URL is an error.
func New(ctx context.Context, opts Options, logger *slog.Logger) (*FallbackCache, error) {
	ttl := opts.DefaultTTL
	if ttl == 0 {
		ttl = defaultTTL
	}

	memory, err := NewMemoryCache(opts.MemorySize, ttl)
	if err != nil {
		return nil, err
	}

	if opts.RedisURL == "" {
		logger.Info("Cache configured", slog.String("backend", "memory"))
		return NewFallbackCache(nil, memory, logger), nil
	}

	connectTimeout := opts.ConnectTimeout
	if connectTimeout == 0 {
		connectTimeout = 2 * time.Second
	}

	redisCache, err := NewRedisCache(RedisOptions{
		URL:                  opts.RedisURL,
		KeyPrefix:            opts.KeyPrefix,
		DefaultTTL:           ttl,
		CompressionThreshold: opts.CompressionThreshold,
		DialTimeout:          connectTimeout,
	})
	if err != nil {
		return nil, err
	}

	fc := NewFallbackCache(redisCache, memory, logger)

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := fc.Ping(pingCtx); err != nil {
		logger.Warn("Redis unreachable at startup, using memory fallback", slog.Any("err", err))
	} else {
		logger.Info("Cache configured", slog.String("backend", "redis+memory"))
	}

	return fc, nil
}
