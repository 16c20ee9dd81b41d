package llm_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/llm-starter/internal/llm"
	"github.com/angeloszaimis/llm-starter/pkg/logger"
)

var _ = Describe("Probe", func() {
	var (
		server  *httptest.Server
		healthy atomic.Bool
		ep      *llm.Endpoint
	)

	BeforeEach(func() {
		healthy.Store(true)
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/v1/models" && healthy.Load() {
				w.WriteHeader(http.StatusOK)
				return
			}
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		ep = llm.NewEndpoint(mustParseURL(server.URL+"/v1"), 1, 0)
	})

	AfterEach(func() {
		server.Close()
	})

	It("should mark a responding endpoint healthy", func() {
		ep.SetHealthy(false)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		go llm.Probe(ctx, ep, "key", 20*time.Millisecond, logger.Discard())

		Eventually(ep.IsHealthy).Should(BeTrue())
	})

	It("should mark a failing endpoint down", func() {
		healthy.Store(false)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		go llm.Probe(ctx, ep, "key", 20*time.Millisecond, logger.Discard())

		Eventually(ep.IsHealthy).Should(BeFalse())
	})

	It("should stop when context is cancelled", func() {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			llm.Probe(ctx, ep, "", 10*time.Millisecond, logger.Discard())
			close(done)
		}()

		cancel()
		Eventually(done).Should(BeClosed())
	})
})
