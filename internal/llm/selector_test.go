package llm_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/llm-starter/internal/llm"
)

var _ = Describe("Selector", func() {
	var endpoints []*llm.Endpoint

	BeforeEach(func() {
		endpoints = []*llm.Endpoint{
			endpoint("http://llm-a:8080", 1),
			endpoint("http://llm-b:8080", 1),
			endpoint("http://llm-c:8080", 1),
		}
	})

	It("should reject unknown strategies", func() {
		_, err := llm.NewSelector("consistent-hash")
		Expect(err).To(HaveOccurred())
	})

	DescribeTable("every strategy picks one of the given endpoints",
		func(name string) {
			selector, err := llm.NewSelector(name)
			Expect(err).NotTo(HaveOccurred())

			selected := selector.Select(endpoints)
			Expect(endpoints).To(ContainElement(selected))
			Expect(selector.Select(nil)).To(BeNil())
		},
		Entry("default", ""),
		Entry("round robin", llm.RoundRobin),
		Entry("random", llm.Random),
		Entry("least connections", llm.LeastConn),
		Entry("least response", llm.LeastResponse),
		Entry("weighted", llm.Weighted),
	)

	It("should cycle in round-robin order", func() {
		selector, _ := llm.NewSelector(llm.RoundRobin)
		Expect(selector.Select(endpoints)).To(Equal(endpoints[0]))
		Expect(selector.Select(endpoints)).To(Equal(endpoints[1]))
		Expect(selector.Select(endpoints)).To(Equal(endpoints[2]))
		Expect(selector.Select(endpoints)).To(Equal(endpoints[0]))
	})

	It("should prefer the endpoint with fewer in-flight requests", func() {
		selector, _ := llm.NewSelector(llm.LeastConn)
		endpoints[0].IncrementActive()
		endpoints[1].IncrementActive()
		Expect(selector.Select(endpoints)).To(Equal(endpoints[2]))
	})

	It("should try unsampled endpoints first, then the fastest", func() {
		selector, _ := llm.NewSelector(llm.LeastResponse)
		endpoints[0].RecordResponse(300 * time.Millisecond)
		Expect(selector.Select(endpoints)).To(Equal(endpoints[1]))

		endpoints[1].RecordResponse(50 * time.Millisecond)
		endpoints[2].RecordResponse(100 * time.Millisecond)
		Expect(selector.Select(endpoints)).To(Equal(endpoints[1]))

		endpoints[1].IncrementActive()
		endpoints[1].IncrementActive()
		Expect(selector.Select(endpoints)).To(Equal(endpoints[2]))
	})

	It("should distribute proportionally to weights", func() {
		weighted := []*llm.Endpoint{
			endpoint("http://heavy", 3),
			endpoint("http://light", 1),
		}
		selector, _ := llm.NewSelector(llm.Weighted)

		counts := map[*llm.Endpoint]int{}
		for i := 0; i < 8; i++ {
			counts[selector.Select(weighted)]++
		}
		Expect(counts[weighted[0]]).To(Equal(6))
		Expect(counts[weighted[1]]).To(Equal(2))
	})
})
