package auth_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/llm-starter/internal/auth"
	"github.com/angeloszaimis/llm-starter/internal/environment"
	"github.com/angeloszaimis/llm-starter/pkg/logger"
)

var _ = Describe("Middleware", func() {
	var (
		a       *auth.APIKeyAuth
		seen    auth.Principal
		handler http.Handler
	)

	BeforeEach(func() {
		var err error
		a, err = auth.NewAPIKeyAuth(auth.Config{
			APIKey:      "valid-key",
			Environment: environment.Production,
		}, logger.Discard())
		Expect(err).NotTo(HaveOccurred())

		seen = auth.Principal{}
		handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen, _ = auth.PrincipalFromContext(r.Context())
			w.WriteHeader(http.StatusNoContent)
		})
	})

	It("should reject missing credentials with 401", func() {
		rec := httptest.NewRecorder()
		a.Middleware(handler).ServeHTTP(rec, request(nil))

		Expect(rec.Code).To(Equal(http.StatusUnauthorized))
		Expect(rec.Header().Get("WWW-Authenticate")).To(Equal("Bearer"))

		var body map[string]string
		Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
		Expect(body).To(HaveKeyWithValue("error_code", "UNAUTHORIZED"))
		Expect(seen.Authenticated).To(BeFalse())
	})

	It("should pass the principal to the next handler", func() {
		rec := httptest.NewRecorder()
		a.Middleware(handler).ServeHTTP(rec, request(map[string]string{"X-API-Key": "valid-key"}))

		Expect(rec.Code).To(Equal(http.StatusNoContent))
		Expect(seen.Authenticated).To(BeTrue())
		Expect(seen.KeyID).To(Equal(auth.KeyID("valid-key")))
	})

	It("should use a custom error handler", func() {
		custom, err := auth.NewAPIKeyAuth(auth.Config{APIKey: "k"}, logger.Discard(),
			auth.WithErrorHandler(func(w http.ResponseWriter, _ *http.Request, _ error) {
				w.WriteHeader(http.StatusTeapot)
			}))
		Expect(err).NotTo(HaveOccurred())

		rec := httptest.NewRecorder()
		custom.Middleware(handler).ServeHTTP(rec, request(nil))
		Expect(rec.Code).To(Equal(http.StatusTeapot))
	})

	It("should never reject in optional mode", func() {
		rec := httptest.NewRecorder()
		a.OptionalMiddleware(handler).ServeHTTP(rec, request(map[string]string{"X-API-Key": "wrong"}))

		Expect(rec.Code).To(Equal(http.StatusNoContent))
		Expect(seen.Authenticated).To(BeFalse())
		Expect(seen.Method).To(Equal(auth.MethodNone))
	})
})

var _ = Describe("ClientIP", func() {
	It("should ignore forwarding headers", func() {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = "192.0.2.10:4242"
		r.Header.Set("X-Forwarded-For", "198.51.100.1")
		Expect(auth.ClientIP(r)).To(Equal("192.0.2.10"))
	})

	It("should prefer an address stored in the context", func() {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r = r.WithContext(auth.WithClientIP(r.Context(), "198.51.100.7"))
		Expect(auth.ClientIP(r)).To(Equal("198.51.100.7"))
	})
})

var _ = Describe("ClientResolver", func() {
	request := func(remote, xff string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = remote
		if xff != "" {
			r.Header.Set("X-Forwarded-For", xff)
		}
		return r
	}

	DescribeTable("Resolve",
		func(proxies []string, remote, xff, expected string) {
			resolver, err := auth.NewClientResolver(proxies)
			Expect(err).NotTo(HaveOccurred())
			Expect(resolver.Resolve(request(remote, xff))).To(Equal(expected))
		},
		Entry("no trusted proxies ignores the header",
			nil, "203.0.113.9:5000", "198.51.100.1", "203.0.113.9"),
		Entry("untrusted peer ignores the header",
			[]string{"10.0.0.0/8"}, "203.0.113.9:5000", "198.51.100.1", "203.0.113.9"),
		Entry("trusted peer uses the forwarded client",
			[]string{"10.0.0.0/8"}, "10.0.0.2:5000", "198.51.100.1", "198.51.100.1"),
		Entry("spoofed left hops are skipped",
			[]string{"10.0.0.0/8"}, "10.0.0.2:5000", "1.2.3.4, 198.51.100.1, 10.0.0.3", "198.51.100.1"),
		Entry("single trusted address",
			[]string{"10.0.0.2"}, "10.0.0.2:5000", "198.51.100.1", "198.51.100.1"),
		Entry("malformed hop falls back to the peer",
			[]string{"10.0.0.0/8"}, "10.0.0.2:5000", "not-an-ip", "10.0.0.2"),
		Entry("trusted peer without header",
			[]string{"10.0.0.0/8"}, "10.0.0.2:5000", "", "10.0.0.2"),
	)

	It("should reject malformed proxy entries", func() {
		_, err := auth.NewClientResolver([]string{"10.0.0.0/33"})
		Expect(err).To(HaveOccurred())
		_, err = auth.NewClientResolver([]string{"proxy.internal"})
		Expect(err).To(HaveOccurred())
	})
})
