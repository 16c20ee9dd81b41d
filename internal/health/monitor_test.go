package health_test

import (
	"context"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/llm-starter/internal/health"
	"github.com/angeloszaimis/llm-starter/internal/metrics"
	"github.com/angeloszaimis/llm-starter/pkg/logger"
)

var _ = Describe("Monitor", func() {
	var (
		checker   *health.Checker
		collector *metrics.Collector
		ctx       context.Context
		cancel    context.CancelFunc
	)

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())
		checker = health.NewChecker(health.Config{DefaultTimeout: 50 * time.Millisecond}, logger.Discard())
		collector = metrics.NewCollector(100, logger.Discard())
		collector.Start(ctx)
	})

	AfterEach(func() {
		cancel()
	})

	It("should record the latest status", func() {
		checker.Register("cache", fixed(health.StatusHealthy))
		monitor := health.NewMonitor(checker, 20*time.Millisecond, collector, logger.Discard())

		_, ran := monitor.Latest()
		Expect(ran).To(BeFalse())

		go monitor.Run(ctx)

		Eventually(func() bool {
			_, ran := monitor.Latest()
			return ran
		}).Should(BeTrue())
		latest, _ := monitor.Latest()
		Expect(latest.OverallStatus).To(Equal(health.StatusHealthy))
	})

	It("should emit health changes to the collector", func() {
		var degraded atomic.Bool
		checker.Register("cache", func(context.Context) health.ComponentStatus {
			if degraded.Load() {
				return health.ComponentStatus{Status: health.StatusDegraded}
			}
			return health.ComponentStatus{Status: health.StatusHealthy}
		})

		monitor := health.NewMonitor(checker, 20*time.Millisecond, collector, logger.Discard())
		go monitor.Run(ctx)

		Eventually(func() map[string]string {
			return collector.Snapshot("llm-starter").Health
		}).Should(HaveKeyWithValue("cache", "healthy"))

		degraded.Store(true)
		Eventually(func() map[string]string {
			return collector.Snapshot("llm-starter").Health
		}).Should(HaveKeyWithValue("cache", "degraded"))
	})

	It("should stop when the context is cancelled", func() {
		monitor := health.NewMonitor(checker, 10*time.Millisecond, nil, logger.Discard())
		done := make(chan struct{})
		go func() {
			monitor.Run(ctx)
			close(done)
		}()

		cancel()
		Eventually(done).Should(BeClosed())
	})
})
