package circuitbreaker_test

import (
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/llm-starter/internal/circuitbreaker"
)

var _ = Describe("Registry", func() {
	var registry *circuitbreaker.Registry

	BeforeEach(func() {
		registry = circuitbreaker.NewRegistry(5, 30*time.Second)
	})

	Describe("GetBreaker", func() {
		It("should keep one breaker per operation", func() {
			summarize := registry.GetBreaker("summarize")
			Expect(summarize.State()).To(Equal(circuitbreaker.StateClosed))
			Expect(registry.GetBreaker("summarize")).To(BeIdenticalTo(summarize))
			Expect(registry.GetBreaker("sentiment")).NotTo(BeIdenticalTo(summarize))
		})

		It("should apply the registry defaults to new breakers", func() {
			registry = circuitbreaker.NewRegistry(2, 40*time.Millisecond)
			cb := registry.GetBreaker("key_points")

			cb.RecordFailure()
			Expect(cb.State()).To(Equal(circuitbreaker.StateClosed))
			cb.RecordFailure()
			Expect(cb.State()).To(Equal(circuitbreaker.StateOpen))

			Eventually(cb.Allow).WithTimeout(time.Second).WithPolling(10 * time.Millisecond).Should(BeTrue())
			Expect(cb.State()).To(Equal(circuitbreaker.StateHalfOpen))
		})

		It("should create a single breaker under concurrent lookups", func() {
			var wg sync.WaitGroup
			seen := make([]*circuitbreaker.CircuitBreaker, 64)
			for i := range seen {
				wg.Add(1)
				go func() {
					defer wg.Done()
					seen[i] = registry.GetBreaker("questions")
				}()
			}
			wg.Wait()

			for _, cb := range seen {
				Expect(cb).To(BeIdenticalTo(seen[0]))
			}
			Expect(registry.Stats()).To(HaveLen(1))
		})
	})

	Describe("Stats and Reset", func() {
		It("should report every breaker state and forget them on reset", func() {
			registry.GetBreaker("summarize")
			tripped := registry.GetBreaker("sentiment")
			for range 5 {
				tripped.RecordFailure()
			}

			Expect(registry.Stats()).To(Equal(map[string]circuitbreaker.State{
				"summarize": circuitbreaker.StateClosed,
				"sentiment": circuitbreaker.StateOpen,
			}))

			registry.Reset()
			Expect(registry.Stats()).To(BeEmpty())
			Expect(registry.Open()).To(BeEmpty())
		})
	})

	Describe("GetBreakerWith", func() {
		It("should use explicit settings for new breakers only", func() {
			cb := registry.GetBreakerWith("qa", 1, time.Hour)
			cb.RecordFailure()
			Expect(cb.State()).To(Equal(circuitbreaker.StateOpen))

			same := registry.GetBreakerWith("qa", 10, time.Second)
			Expect(same).To(BeIdenticalTo(cb))
		})
	})

	Describe("ResetBreaker", func() {
		It("should close a named breaker", func() {
			cb := registry.GetBreakerWith("qa", 1, time.Hour)
			cb.RecordFailure()
			Expect(registry.ResetBreaker("qa")).To(BeTrue())
			Expect(cb.State()).To(Equal(circuitbreaker.StateClosed))
		})

		It("should report unknown breakers", func() {
			Expect(registry.ResetBreaker("missing")).To(BeFalse())
		})
	})

	Describe("Open and Details", func() {
		It("should list open breakers and details ordered by name", func() {
			registry.GetBreaker("summarize")
			tripped := registry.GetBreakerWith("qa", 1, time.Hour)
			tripped.RecordFailure()

			Expect(registry.Open()).To(Equal([]string{"qa"}))

			details := registry.Details()
			Expect(details).To(HaveLen(2))
			Expect(details[0].Name).To(Equal("qa"))
			Expect(details[0].State).To(Equal("OPEN"))
			Expect(details[1].Name).To(Equal("summarize"))
		})
	})

	Describe("OnStateChange", func() {
		It("should attach the callback to new breakers", func() {
			var mu sync.Mutex
			var names []string
			registry.OnStateChange(func(name string, _, _ circuitbreaker.State) {
				mu.Lock()
				names = append(names, name)
				mu.Unlock()
			})
			registry.GetBreakerWith("qa", 1, time.Hour).RecordFailure()

			mu.Lock()
			defer mu.Unlock()
			Expect(names).To(Equal([]string{"qa"}))
		})
	})
})
