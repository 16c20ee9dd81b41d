package resilience_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/llm-starter/internal/resilience"
)

type classified struct {
	transient bool
}

func (c classified) Error() string   { return "classified" }
func (c classified) Transient() bool { return c.transient }

func fastPolicy(attempts int) resilience.Policy {
	return resilience.Policy{
		MaxAttempts:      attempts,
		BaseBackoff:      time.Millisecond,
		MaxBackoff:       5 * time.Millisecond,
		FailureThreshold: 100,
		RecoveryTimeout:  time.Second,
		JitterFn:         func(time.Duration) time.Duration { return 0 },
	}
}

var _ = Describe("Retry", func() {
	It("should succeed on the first attempt", func() {
		calls := 0
		err := resilience.Retry(context.Background(), fastPolicy(3), func(context.Context) error {
			calls++
			return nil
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(calls).To(Equal(1))
	})

	It("should succeed after retrying transient errors", func() {
		calls := 0
		var delays []time.Duration
		err := resilience.Retry(context.Background(), fastPolicy(3), func(context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("flaky")
			}
			return nil
		}, func(_ int, _ error, d time.Duration) {
			delays = append(delays, d)
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(calls).To(Equal(3))
		Expect(delays).To(Equal([]time.Duration{time.Millisecond, 2 * time.Millisecond}))
	})

	It("should stop after max attempts", func() {
		calls := 0
		boom := errors.New("boom")
		err := resilience.Retry(context.Background(), fastPolicy(3), func(context.Context) error {
			calls++
			return boom
		})
		Expect(calls).To(Equal(3))
		Expect(err).To(MatchError(resilience.ErrRetriesExhausted))
		Expect(errors.Is(err, boom)).To(BeTrue())
	})

	It("should cap the backoff at MaxBackoff", func() {
		var delays []time.Duration
		policy := fastPolicy(6)
		_ = resilience.Retry(context.Background(), policy, func(context.Context) error {
			return errors.New("boom")
		}, func(_ int, _ error, d time.Duration) {
			delays = append(delays, d)
		})
		Expect(delays).To(HaveLen(5))
		for _, d := range delays {
			Expect(d).To(BeNumerically("<=", policy.MaxBackoff))
		}
		Expect(delays[len(delays)-1]).To(Equal(policy.MaxBackoff))
	})

	It("should not retry permanent errors", func() {
		calls := 0
		err := resilience.Retry(context.Background(), fastPolicy(5), func(context.Context) error {
			calls++
			return resilience.Permanent(errors.New("bad input"))
		})
		Expect(calls).To(Equal(1))
		Expect(err).To(MatchError(resilience.ErrPermanent))
	})

	It("should honour errors that classify themselves", func() {
		calls := 0
		_ = resilience.Retry(context.Background(), fastPolicy(5), func(context.Context) error {
			calls++
			return classified{transient: false}
		})
		Expect(calls).To(Equal(1))

		calls = 0
		_ = resilience.Retry(context.Background(), fastPolicy(2), func(context.Context) error {
			calls++
			return classified{transient: true}
		})
		Expect(calls).To(Equal(2))
	})

	It("should abort when the context is cancelled during backoff", func() {
		ctx, cancel := context.WithCancel(context.Background())
		policy := fastPolicy(5)
		policy.BaseBackoff = time.Second
		policy.MaxBackoff = time.Second

		go func() {
			time.Sleep(20 * time.Millisecond)
			cancel()
		}()

		start := time.Now()
		err := resilience.Retry(ctx, policy, func(context.Context) error {
			return errors.New("boom")
		})
		Expect(err).To(MatchError(context.Canceled))
		Expect(time.Since(start)).To(BeNumerically("<", 500*time.Millisecond))
	})

	It("should not start when the context is already done", func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		calls := 0
		err := resilience.Retry(ctx, fastPolicy(3), func(context.Context) error {
			calls++
			return nil
		})
		Expect(err).To(MatchError(context.Canceled))
		Expect(calls).To(BeZero())
	})
})

var _ = Describe("Strategies and presets", func() {
	It("should expose the built-in policies", func() {
		p, err := resilience.PolicyFor(resilience.Balanced)
		Expect(err).NotTo(HaveOccurred())
		Expect(p.MaxAttempts).To(Equal(3))
		Expect(p.FailureThreshold).To(Equal(5))
		Expect(p.RecoveryTimeout).To(Equal(30 * time.Second))
	})

	It("should reject unknown strategies", func() {
		_, err := resilience.ParseStrategy("yolo")
		Expect(err).To(HaveOccurred())
	})

	It("should load the production preset with overrides", func() {
		p, err := resilience.LoadPreset("production")
		Expect(err).NotTo(HaveOccurred())
		Expect(p.Default).To(Equal(resilience.Conservative))
		Expect(p.Operations).To(HaveKeyWithValue("qa", resilience.Critical))

		p.Operations["qa"] = resilience.Aggressive
		again, _ := resilience.LoadPreset("production")
		Expect(again.Operations["qa"]).To(Equal(resilience.Critical))
	})

	It("should reject unknown presets", func() {
		_, err := resilience.LoadPreset("chaos")
		Expect(err).To(HaveOccurred())
	})
})
