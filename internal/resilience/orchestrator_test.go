package resilience_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/llm-starter/internal/circuitbreaker"
	"github.com/angeloszaimis/llm-starter/internal/resilience"
	"github.com/angeloszaimis/llm-starter/pkg/logger"
)

var _ = Describe("Orchestrator", func() {
	var (
		orch   *resilience.Orchestrator
		ctx    context.Context
		policy resilience.Policy
	)

	BeforeEach(func() {
		ctx = context.Background()
		policy = fastPolicy(2)
		policy.FailureThreshold = 2
		policy.RecoveryTimeout = time.Hour

		preset, err := resilience.LoadPreset("simple")
		Expect(err).NotTo(HaveOccurred())
		orch, err = resilience.NewOrchestrator(preset, logger.Discard(),
			resilience.WithPolicyOverride("summarize", policy))
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("Execute", func() {
		It("should record successes", func() {
			Expect(orch.Execute(ctx, "summarize", func(context.Context) error { return nil })).To(Succeed())

			m := orch.Metrics()["summarize"]
			Expect(m.Calls).To(Equal(int64(1)))
			Expect(m.Successes).To(Equal(int64(1)))
			Expect(m.Retries).To(BeZero())
		})

		It("should retry transient failures and count them", func() {
			calls := 0
			err := orch.Execute(ctx, "summarize", func(context.Context) error {
				calls++
				if calls == 1 {
					return errors.New("flaky")
				}
				return nil
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(orch.Metrics()["summarize"].Retries).To(Equal(int64(1)))
		})

		It("should open the breaker and reject further calls", func() {
			boom := errors.New("down")
			err := orch.Execute(ctx, "summarize", func(context.Context) error { return boom })
			Expect(err).To(MatchError(resilience.ErrRetriesExhausted))

			Expect(orch.Health().Healthy).To(BeFalse())
			Expect(orch.Health().OpenBreakers).To(ConsistOf("summarize"))

			called := false
			err = orch.Execute(ctx, "summarize", func(context.Context) error {
				called = true
				return nil
			})
			Expect(called).To(BeFalse())
			Expect(err).To(MatchError(resilience.ErrServiceUnavailable))
			Expect(errors.Is(err, circuitbreaker.ErrOpen)).To(BeTrue())
			Expect(orch.Metrics()["summarize"].BreakerRejections).To(Equal(int64(1)))
		})

		It("should not trip the breaker on permanent errors", func() {
			for i := 0; i < 5; i++ {
				_ = orch.Execute(ctx, "summarize", func(context.Context) error {
					return resilience.Permanent(errors.New("bad request"))
				})
			}
			Expect(orch.Health().Healthy).To(BeTrue())
			Expect(orch.Metrics()["summarize"].Failures).To(Equal(int64(5)))
		})
	})

	Describe("ExecuteWithFallback", func() {
		It("should run the fallback once the breaker is open", func() {
			_ = orch.Execute(ctx, "summarize", func(context.Context) error { return errors.New("down") })

			var seen error
			err := orch.ExecuteWithFallback(ctx, "summarize",
				func(context.Context) error { return nil },
				func(_ context.Context, cause error) error {
					seen = cause
					return nil
				})
			Expect(err).NotTo(HaveOccurred())
			Expect(seen).To(MatchError(resilience.ErrServiceUnavailable))
			Expect(orch.Metrics()["summarize"].Fallbacks).To(Equal(int64(1)))
		})

		It("should not run the fallback for permanent errors", func() {
			bad := errors.New("invalid")
			err := orch.ExecuteWithFallback(ctx, "summarize",
				func(context.Context) error { return resilience.Permanent(bad) },
				func(context.Context, error) error {
					Fail("fallback must not run")
					return nil
				})
			Expect(err).To(MatchError(bad))
		})
	})

	Describe("management", func() {
		It("should reset a breaker", func() {
			_ = orch.Execute(ctx, "summarize", func(context.Context) error { return errors.New("down") })
			Expect(orch.ResetBreaker("summarize")).To(BeTrue())
			Expect(orch.Health().Healthy).To(BeTrue())
			Expect(orch.ResetBreaker("nope")).To(BeFalse())
		})

		It("should reset metrics", func() {
			_ = orch.Execute(ctx, "summarize", func(context.Context) error { return nil })
			orch.ResetMetrics()
			Expect(orch.Metrics()).To(BeEmpty())
		})

		It("should describe its configuration", func() {
			Expect(orch.Register("qa", resilience.Critical)).To(Succeed())
			cfg := orch.Config()
			Expect(cfg["preset"]).To(Equal("simple"))
			Expect(cfg["default_strategy"]).To(Equal(resilience.Balanced))
			ops := cfg["operations"].(map[string]resilience.OperationConfig)
			Expect(ops["qa"].Strategy).To(Equal(resilience.Critical))
			Expect(ops["summarize"].Policy.MaxAttempts).To(Equal(2))
		})

		It("should reject unknown strategies on Register", func() {
			Expect(orch.Register("qa", "yolo")).NotTo(Succeed())
		})

		It("should list breakers", func() {
			_ = orch.Execute(ctx, "summarize", func(context.Context) error { return nil })
			Expect(orch.Breakers()).To(HaveLen(1))
			Expect(orch.Breakers()[0].Name).To(Equal("summarize"))
		})
	})
})
