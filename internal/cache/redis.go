package cache

import (
	"bytes"
	"compress/zlib"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	markerRaw  byte = 0x00
	markerZlib byte = 0x01

	scanBatch = 100
)

// RedisCache stores values in Redis under a key prefix. Values larger than
// the compression threshold are zlib-compressed.
type RedisCache struct {
	client               *redis.Client
	prefix               string
	defaultTTL           time.Duration
	compressionThreshold int
	counters             counters
}

// RedisOptions configures a RedisCache.
type RedisOptions struct {
	URL                  string
	KeyPrefix            string
	DefaultTTL           time.Duration
	CompressionThreshold int
	DialTimeout          time.Duration
}

// NewRedisCache parses the URL and builds a client. It does not contact the
// server; call Ping to verify connectivity.
func NewRedisCache(opts RedisOptions) (*RedisCache, error) {
	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if opts.DialTimeout > 0 {
		redisOpts.DialTimeout = opts.DialTimeout
		redisOpts.ReadTimeout = opts.DialTimeout
		redisOpts.WriteTimeout = opts.DialTimeout
	}
	redisOpts.MaxRetries = 1

	return newRedisCacheWithClient(redis.NewClient(redisOpts), opts), nil
}

func newRedisCacheWithClient(client *redis.Client, opts RedisOptions) *RedisCache {
	ttl := opts.DefaultTTL
	if ttl == 0 {
		ttl = defaultTTL
	}
	return &RedisCache{
		client:               client,
		prefix:               opts.KeyPrefix,
		defaultTTL:           ttl,
		compressionThreshold: opts.CompressionThreshold,
	}
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		r.counters.misses.Add(1)
		return nil, ErrMiss
	}
	if err != nil {
		r.counters.errors.Add(1)
		return nil, fmt.Errorf("redis get: %w", err)
	}

	value, err := decode(raw)
	if err != nil {
		r.counters.errors.Add(1)
		return nil, fmt.Errorf("decode %q: %w", key, err)
	}

	r.counters.hits.Add(1)
	return value, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl == 0 {
		ttl = r.defaultTTL
	}
	if ttl < 0 {
		ttl = 0 // no expiry
	}

	encoded, err := encode(value, r.compressionThreshold)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}

	if err := r.client.Set(ctx, r.prefix+key, encoded, ttl).Err(); err != nil {
		r.counters.errors.Add(1)
		return fmt.Errorf("redis set: %w", err)
	}
	r.counters.sets.Add(1)
	return nil
}

func (r *RedisCache) Delete(ctx context.Context, key string) error {
	n, err := r.client.Del(ctx, r.prefix+key).Result()
	if err != nil {
		r.counters.errors.Add(1)
		return fmt.Errorf("redis del: %w", err)
	}
	r.counters.deletes.Add(n)
	return nil
}

func (r *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, r.prefix+key).Result()
	if err != nil {
		r.counters.errors.Add(1)
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

func (r *RedisCache) InvalidatePattern(ctx context.Context, pattern string) (int, error) {
	removed := 0
	var batch []string

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := r.client.Del(ctx, batch...).Result()
		if err != nil {
			return err
		}
		removed += int(n)
		batch = batch[:0]
		return nil
	}

	iter := r.client.Scan(ctx, 0, r.prefix+pattern, scanBatch).Iterator()
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= scanBatch {
			if err := flush(); err != nil {
				r.counters.errors.Add(1)
				return removed, fmt.Errorf("redis del: %w", err)
			}
		}
	}
	if err := iter.Err(); err != nil {
		r.counters.errors.Add(1)
		return removed, fmt.Errorf("redis scan: %w", err)
	}
	if err := flush(); err != nil {
		r.counters.errors.Add(1)
		return removed, fmt.Errorf("redis del: %w", err)
	}

	r.counters.deletes.Add(int64(removed))
	return removed, nil
}

// Clear removes every key under the prefix. Keys outside the prefix are
// left untouched.
func (r *RedisCache) Clear(ctx context.Context) error {
	_, err := r.InvalidatePattern(ctx, "*")
	return err
}

func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisCache) Stats() Stats {
	return r.counters.snapshot("redis")
}

func (r *RedisCache) Close() error {
	return r.client.Close()
}

func encode(value []byte, threshold int) ([]byte, error) {
	if threshold <= 0 || len(value) <= threshold {
		return append([]byte{markerRaw}, value...), nil
	}

	var buf bytes.Buffer
	buf.WriteByte(markerZlib)
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(value); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode(raw []byte) ([]byte, error) {
	if len(raw) == 0 {
		return nil, errors.New("empty payload")
	}

	switch raw[0] {
	case markerRaw:
		return raw[1:], nil
	case markerZlib:
		r, err := zlib.NewReader(bytes.NewReader(raw[1:]))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	default:
		return nil, fmt.Errorf("unknown payload marker %#x", raw[0])
	}
}
