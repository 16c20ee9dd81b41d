package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"time"

	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/llm-starter/internal/api"
	"github.com/angeloszaimis/llm-starter/internal/auth"
	"github.com/angeloszaimis/llm-starter/internal/cache"
	"github.com/angeloszaimis/llm-starter/internal/environment"
	"github.com/angeloszaimis/llm-starter/internal/health"
	"github.com/angeloszaimis/llm-starter/internal/llm"
	"github.com/angeloszaimis/llm-starter/internal/metrics"
	"github.com/angeloszaimis/llm-starter/internal/resilience"
	"github.com/angeloszaimis/llm-starter/internal/textprocessor"
	"github.com/angeloszaimis/llm-starter/pkg/logger"
)

const (
	apiKey     = "test-key-0123456789"
	jwtSecret  = "0123456789abcdef0123456789abcdef"
	sampleText = "Go is an open source programming language that makes it simple to build secure, scalable systems."
)

type fakeLLM struct {
	mutex sync.Mutex
	reply string
	err   error
	pool  *llm.Pool
}

func newFakeLLM() *fakeLLM {
	u, _ := url.Parse("http://llm.test")
	selector, _ := llm.NewSelector(llm.RoundRobin)
	return &fakeLLM{
		reply: "A short summary.",
		pool:  llm.NewPool([]*llm.Endpoint{llm.NewEndpoint(u, 1, 0)}, selector),
	}
}

func (f *fakeLLM) Generate(context.Context, llm.Prompt) (llm.Completion, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.err != nil {
		return llm.Completion{}, f.err
	}
	return llm.Completion{Text: f.reply, Model: "fake-model", Endpoint: "http://llm.test"}, nil
}

func (f *fakeLLM) fail(err error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.err = err
}

func (f *fakeLLM) Configured() bool { return true }
func (f *fakeLLM) Model() string    { return "fake-model" }
func (f *fakeLLM) Strategy() string { return llm.RoundRobin }
func (f *fakeLLM) Pool() *llm.Pool  { return f.pool }

type fixture struct {
	llm          *fakeLLM
	cache        *cache.FallbackCache
	orchestrator *resilience.Orchestrator
	checker      *health.Checker
	collector    *metrics.Collector
	auth         *auth.APIKeyAuth
	api          *api.Handler
	handler      http.Handler
	cancel       context.CancelFunc
}

type fixtureOptions struct {
	authConfig auth.Config
	processor  api.Processor
	router     []api.RouterOption
}

func newFixture(opts fixtureOptions) *fixture {
	ctx, cancel := context.WithCancel(context.Background())
	log := logger.Discard()
	f := &fixture{llm: newFakeLLM(), cancel: cancel}

	var err error
	f.cache, err = cache.New(ctx, cache.ForTesting(), log)
	Expect(err).NotTo(HaveOccurred())

	preset, err := resilience.LoadPreset("simple")
	Expect(err).NotTo(HaveOccurred())
	fast := resilience.Policy{
		MaxAttempts:      1,
		BaseBackoff:      time.Millisecond,
		MaxBackoff:       time.Millisecond,
		FailureThreshold: 100,
		RecoveryTimeout:  time.Second,
	}
	f.orchestrator, err = resilience.NewOrchestrator(preset, log,
		resilience.WithPolicyOverride(string(textprocessor.Summarize), fast))
	Expect(err).NotTo(HaveOccurred())

	f.collector = metrics.NewCollector(100, log)
	f.collector.Start(ctx)

	f.checker = health.NewChecker(health.Config{DefaultTimeout: time.Second}, log)
	f.checker.Register("cache", health.CacheCheck(f.cache))
	f.checker.Register("llm", health.LLMCheck(true, f.llm.pool))
	f.checker.Register("resilience", health.ResilienceCheck(f.orchestrator))

	authCfg := opts.authConfig
	if authCfg.Mode == "" {
		authCfg = auth.Config{Mode: auth.ModeSimple, APIKey: apiKey, Environment: environment.Testing}
	}
	f.auth, err = auth.NewAPIKeyAuth(authCfg, log, auth.WithErrorHandler(api.AuthErrorHandler))
	Expect(err).NotTo(HaveOccurred())

	processor := opts.processor
	if processor == nil {
		processor = textprocessor.NewService(f.llm, f.cache, f.orchestrator, f.collector, log)
	}

	detector := environment.NewDetector(
		environment.WithLookupEnv(func(name string) (string, bool) {
			if name == "ENVIRONMENT" {
				return "testing", true
			}
			return "", false
		}),
		environment.WithHostname(func() (string, error) { return "test-host", nil }),
		environment.WithFileExists(func(string) bool { return false }),
	)

	f.api = api.NewHandler(api.Dependencies{
		Version:      "test",
		Auth:         f.auth,
		Processor:    processor,
		LLM:          f.llm,
		Cache:        f.cache,
		Orchestrator: f.orchestrator,
		Checker:      f.checker,
		Collector:    f.collector,
		Detector:     detector,
		Logger:       log,
	})

	routerOpts := append([]api.RouterOption{api.WithLogging(false), api.WithRateLimit(0, 0)}, opts.router...)
	f.handler, err = api.NewRouter(f.api, routerOpts...)
	Expect(err).NotTo(HaveOccurred())
	return f
}

func (f *fixture) close() {
	f.cancel()
	_ = f.cache.Close()
}

func (f *fixture) do(method, target string, body any, headers map[string]string) *httptest.ResponseRecorder {
	return f.doFrom("", method, target, body, headers)
}

// doFrom sends the request from remote, or from the httptest default
// address when remote is empty.
func (f *fixture) doFrom(remote, method, target string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		Expect(err).NotTo(HaveOccurred())
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, target, reader)
	if remote != "" {
		req.RemoteAddr = remote
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func withKey() map[string]string {
	return map[string]string{"X-API-Key": apiKey}
}

func decode(rec *httptest.ResponseRecorder) map[string]any {
	var out map[string]any
	Expect(json.Unmarshal(rec.Body.Bytes(), &out)).To(Succeed(), rec.Body.String())
	return out
}
