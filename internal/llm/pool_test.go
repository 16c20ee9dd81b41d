package llm_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/llm-starter/internal/llm"
)

var _ = Describe("Pool", func() {
	var (
		pool      *llm.Pool
		endpoints []*llm.Endpoint
	)

	BeforeEach(func() {
		endpoints = []*llm.Endpoint{
			endpoint("http://llm-a:8080", 1),
			endpoint("http://llm-b:8080", 1),
		}
		selector, err := llm.NewSelector(llm.RoundRobin)
		Expect(err).NotTo(HaveOccurred())
		pool = llm.NewPool(endpoints, selector)
	})

	It("should reserve a slot on the acquired endpoint", func() {
		ep, err := pool.Acquire()
		Expect(err).NotTo(HaveOccurred())
		Expect(ep.ActiveRequests()).To(Equal(1))

		ep.DecrementActive()
		Expect(ep.ActiveRequests()).To(BeZero())
	})

	It("should skip unhealthy endpoints", func() {
		endpoints[0].SetHealthy(false)

		for i := 0; i < 3; i++ {
			ep, err := pool.Acquire()
			Expect(err).NotTo(HaveOccurred())
			Expect(ep).To(Equal(endpoints[1]))
			ep.DecrementActive()
		}
		Expect(pool.HealthyCount()).To(Equal(1))
		Expect(pool.Len()).To(Equal(2))
	})

	It("should fail when no endpoint is healthy", func() {
		for _, ep := range endpoints {
			ep.SetHealthy(false)
		}

		_, err := pool.Acquire()
		Expect(err).To(MatchError(llm.ErrNoHealthyEndpoint))
	})

	It("should report per-endpoint stats", func() {
		stats := pool.Stats()
		Expect(stats).To(HaveLen(2))
		Expect(stats[0].URL).To(Equal("http://llm-a:8080"))
		Expect(stats[0].Healthy).To(BeTrue())
	})
})
