package cache_test

import (
	"context"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/llm-starter/internal/cache"
)

var _ = Describe("FallbackCache", func() {
	var (
		mr  *miniredis.Miniredis
		fc  *cache.FallbackCache
		ctx context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		mr, err = miniredis.Run()
		Expect(err).NotTo(HaveOccurred())

		fc, err = cache.New(ctx, cache.Options{
			RedisURL:       "redis://" + mr.Addr(),
			DefaultTTL:     time.Minute,
			MemorySize:     10,
			ConnectTimeout: 200 * time.Millisecond,
		}, discard())
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		_ = fc.Close()
		mr.Close()
	})

	It("should write through to both tiers", func() {
		Expect(fc.Set(ctx, "k", []byte("v"), time.Hour)).To(Succeed())
		Expect(mr.Exists("k")).To(BeTrue())
		Expect(mr.TTL("k")).To(Equal(time.Hour))
		Expect(fc.Memory().Exists(ctx, "k")).To(BeTrue())
	})

	It("should promote Redis hits into memory", func() {
		rc, err := cache.NewRedisCache(cache.RedisOptions{URL: "redis://" + mr.Addr()})
		Expect(err).NotTo(HaveOccurred())
		defer rc.Close()
		Expect(rc.Set(ctx, "k", []byte("from-redis"), 0)).To(Succeed())

		Expect(fc.Memory().Exists(ctx, "k")).To(BeFalse())
		value, err := fc.Get(ctx, "k")
		Expect(err).NotTo(HaveOccurred())
		Expect(string(value)).To(Equal("from-redis"))
		Expect(fc.Memory().Exists(ctx, "k")).To(BeTrue())
	})

	It("should keep serving from memory while Redis is down and recover afterwards", func() {
		Expect(fc.Set(ctx, "k", []byte("v"), 0)).To(Succeed())
		mr.Close()

		value, err := fc.Get(ctx, "k")
		Expect(err).NotTo(HaveOccurred())
		Expect(string(value)).To(Equal("v"))

		Expect(fc.Set(ctx, "k2", []byte("v2"), 0)).To(Succeed())
		Expect(fc.Degraded()).To(BeTrue())
		Expect(fc.Stats().FallbackCount).To(BeNumerically(">=", 1))

		_, err = fc.Get(ctx, "unknown")
		Expect(err).To(MatchError(cache.ErrMiss))

		Expect(mr.Restart()).To(Succeed())
		Eventually(func() error { return fc.Ping(ctx) }).Should(Succeed())
		Expect(fc.Degraded()).To(BeFalse())
	})

	It("should invalidate in both tiers", func() {
		Expect(fc.Set(ctx, "summarize:a", []byte("v"), 0)).To(Succeed())
		Expect(fc.Set(ctx, "summarize:b", []byte("v"), 0)).To(Succeed())
		Expect(fc.Set(ctx, "qa:a", []byte("v"), 0)).To(Succeed())

		removed, err := fc.InvalidatePattern(ctx, "summarize:*")
		Expect(err).NotTo(HaveOccurred())
		Expect(removed).To(Equal(2))
		Expect(fc.Exists(ctx, "summarize:a")).To(BeFalse())
		Expect(fc.Exists(ctx, "qa:a")).To(BeTrue())
	})

	It("should report combined stats", func() {
		Expect(fc.Set(ctx, "k", []byte("v"), 0)).To(Succeed())
		_, _ = fc.Get(ctx, "k")
		_, _ = fc.Get(ctx, "nope")

		stats := fc.Stats()
		Expect(stats.Backend).To(Equal("redis+memory"))
		Expect(stats.Hits).To(Equal(int64(1)))
		Expect(stats.Misses).To(Equal(int64(1)))
		Expect(stats.MemoryEntries).To(Equal(1))
		Expect(stats.Degraded).To(BeFalse())
	})
})

var _ = Describe("New", func() {
	ctx := context.Background()

	It("should build a memory-only cache without a Redis URL", func() {
		fc, err := cache.New(ctx, cache.ForTesting(), discard())
		Expect(err).NotTo(HaveOccurred())
		Expect(fc.Stats().Backend).To(Equal("memory"))
		Expect(fc.Ping(ctx)).To(Succeed())
		Expect(fc.Degraded()).To(BeFalse())
	})

	It("should start degraded when Redis is unreachable", func() {
		opts := cache.ForAI("redis://127.0.0.1:1")
		opts.ConnectTimeout = 100 * time.Millisecond
		fc, err := cache.New(ctx, opts, discard())
		Expect(err).NotTo(HaveOccurred())
		defer fc.Close()

		Expect(fc.Degraded()).To(BeTrue())
		Expect(fc.Set(ctx, "k", []byte("v"), 0)).To(Succeed())
		value, err := fc.Get(ctx, "k")
		Expect(err).NotTo(HaveOccurred())
		Expect(string(value)).To(Equal("v"))
	})

	It("should fail on a malformed Redis URL", func() {
		_, err := cache.New(ctx, cache.Options{RedisURL: "::bad"}, discard())
		Expect(err).To(HaveOccurred())
	})

	It("should expose workload presets", func() {
		Expect(cache.ForWebApp("").DefaultTTL).To(Equal(30 * time.Minute))
		Expect(cache.ForAI("").KeyPrefix).To(Equal("ai:"))
		Expect(cache.ForAI("").CompressionThreshold).To(Equal(1000))
	})
})
