package metrics_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/llm-starter/internal/metrics"
)

const processRoute = "/v1/text_processing/process"

var _ = Describe("Collector", func() {
	var (
		collector *metrics.Collector
		log       *slog.Logger
		ctx       context.Context
		cancel    context.CancelFunc
	)

	BeforeEach(func() {
		log = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelError, // Suppress logs in tests
		}))
		ctx, cancel = context.WithCancel(context.Background())
		collector = metrics.NewCollector(100, log)
	})

	AfterEach(func() {
		cancel()
		time.Sleep(10 * time.Millisecond) // Allow goroutine to finish
	})

	Describe("NewCollector", func() {
		It("should create a collector with specified buffer size", func() {
			c := metrics.NewCollector(500, log)
			Expect(c).NotTo(BeNil())
			Expect(c.EventChannel()).NotTo(BeNil())
		})
	})

	Describe("Emit", func() {
		It("should be a no-op on a nil collector", func() {
			var c *metrics.Collector
			Expect(func() {
				c.Emit(metrics.MetricEvent{Type: metrics.EventRequestReceived})
			}).NotTo(Panic())
		})

		It("should drop events instead of blocking when the buffer is full", func() {
			small := metrics.NewCollector(1, log)
			done := make(chan struct{})
			go func() {
				for i := 0; i < 10; i++ {
					small.Emit(metrics.MetricEvent{Type: metrics.EventRequestReceived, Route: processRoute})
				}
				close(done)
			}()
			Eventually(done).Should(BeClosed())
		})
	})

	Describe("Start and event processing", func() {
		It("should process EventRequestReceived", func() {
			collector.Start(ctx)

			collector.Emit(metrics.MetricEvent{
				Type:  metrics.EventRequestReceived,
				Route: processRoute,
			})

			Eventually(func() int64 {
				return collector.Snapshot("llm-starter").Routes[processRoute].Requests
			}).Should(Equal(int64(1)))
		})

		It("should process EventEndpointSelected", func() {
			collector.Start(ctx)

			collector.EventChannel() <- metrics.MetricEvent{
				Type:      metrics.EventEndpointSelected,
				Timestamp: time.Now(),
				Endpoint:  "http://llm-a:8080",
			}
			time.Sleep(10 * time.Millisecond)

			snap := collector.Snapshot("llm-starter")
			Expect(snap.Endpoints["http://llm-a:8080"]).To(Equal(int64(1)))
		})

		It("should process EventResponseCompleted", func() {
			collector.Start(ctx)

			collector.EventChannel() <- metrics.MetricEvent{
				Type:       metrics.EventResponseCompleted,
				Timestamp:  time.Now(),
				Route:      processRoute,
				Duration:   100 * time.Millisecond,
				StatusCode: 200,
			}
			time.Sleep(10 * time.Millisecond)

			snap := collector.Snapshot("llm-starter")
			route := snap.Routes[processRoute]
			Expect(route.AvgResponse).To(Equal(100 * time.Millisecond))
			Expect(route.StatusCodes[200]).To(Equal(int64(1)))
		})

		It("should process EventHealthChanged", func() {
			collector.Start(ctx)

			collector.Emit(metrics.MetricEvent{
				Type:      metrics.EventHealthChanged,
				Component: "cache",
				Status:    "degraded",
			})

			Eventually(func() map[string]string {
				return collector.Snapshot("llm-starter").Health
			}).Should(HaveKeyWithValue("cache", "degraded"))
		})

		It("should process EventCacheLookup", func() {
			collector.Start(ctx)

			collector.Emit(metrics.MetricEvent{Type: metrics.EventCacheLookup, Operation: "summarize", Hit: true})
			collector.Emit(metrics.MetricEvent{Type: metrics.EventCacheLookup, Operation: "summarize", Hit: false})

			Eventually(func() metrics.CacheMetrics {
				return collector.Snapshot("llm-starter").Cache["summarize"]
			}).Should(Equal(metrics.CacheMetrics{Hits: 1, Misses: 1, HitRatio: 0.5}))
		})

		It("should drain events on context cancellation", func() {
			collector.Start(ctx)

			// Send events before cancellation
			for i := 0; i < 5; i++ {
				collector.EventChannel() <- metrics.MetricEvent{
					Type:      metrics.EventRequestReceived,
					Timestamp: time.Now(),
					Route:     processRoute,
				}
			}

			cancel()
			time.Sleep(20 * time.Millisecond)

			snap := collector.Snapshot("llm-starter")
			// All events should be processed via drain
			Expect(snap.Routes[processRoute].Requests).To(Equal(int64(5)))
		})
	})

	Describe("Handler", func() {
		It("should serve the snapshot as JSON", func() {
			collector.Start(ctx)
			collector.Emit(metrics.MetricEvent{Type: metrics.EventRequestReceived, Route: processRoute})
			Eventually(func() int64 {
				return collector.Snapshot("llm-starter").TotalRequests
			}).Should(Equal(int64(1)))

			rec := httptest.NewRecorder()
			collector.Handler("llm-starter").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/internal/metrics", nil))

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Header().Get("Content-Type")).To(Equal("application/json"))

			var body map[string]any
			Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
			Expect(body).To(HaveKeyWithValue("service", "llm-starter"))
			Expect(body).To(HaveKeyWithValue("total_requests", BeNumerically("==", 1)))
		})
	})
})
