package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/angeloszaimis/llm-starter/internal/auth"
)

// RouterOption configures NewRouter.
type RouterOption func(*routerConfig)

type routerConfig struct {
	enableLogging bool
	corsOrigins   []string
	maxBodyBytes  int64
	rateRPS       float64
	rateBurst     int
	rateClients   int
	proxies       []string
}

// WithLogging controls whether access logs are emitted.
func WithLogging(enabled bool) RouterOption {
	return func(cfg *routerConfig) { cfg.enableLogging = enabled }
}

func WithCORSOrigins(origins ...string) RouterOption {
	return func(cfg *routerConfig) { cfg.corsOrigins = origins }
}

// WithMaxBodyBytes limits request bodies. Zero disables the limit.
func WithMaxBodyBytes(n int64) RouterOption {
	return func(cfg *routerConfig) { cfg.maxBodyBytes = n }
}

// WithRateLimit sets the per-client token bucket. A non-positive rps
// disables rate limiting.
func WithRateLimit(rps float64, burst int) RouterOption {
	return func(cfg *routerConfig) {
		cfg.rateRPS = rps
		cfg.rateBurst = burst
	}
}

// WithTrustedProxies lists proxy addresses or CIDR ranges whose
// X-Forwarded-For header is honoured when resolving the client address.
func WithTrustedProxies(proxies ...string) RouterOption {
	return func(cfg *routerConfig) { cfg.proxies = proxies }
}

// NewRouter registers every route behind the middleware chain.
func NewRouter(h *Handler, opts ...RouterOption) (http.Handler, error) {
	cfg := routerConfig{
		enableLogging: true,
		corsOrigins:   []string{"*"},
		maxBodyBytes:  1 << 20,
		rateRPS:       10,
		rateBurst:     20,
		rateClients:   10000,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	required := h.Auth.Middleware
	optional := h.Auth.OptionalMiddleware

	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", h.handleHealth)
	mux.Handle("GET /v1/auth/status", required(http.HandlerFunc(h.handleAuthStatus)))
	mux.Handle("GET /v1/text_processing/operations", optional(http.HandlerFunc(h.handleOperations)))
	mux.Handle("POST /v1/text_processing/process", required(http.HandlerFunc(h.handleProcess)))
	mux.Handle("POST /v1/text_processing/batch_process", required(http.HandlerFunc(h.handleBatchProcess)))
	mux.HandleFunc("GET /v1/text_processing/health", h.handleTextHealth)

	internal := map[string]http.HandlerFunc{
		"GET /internal/cache/status":                              h.handleCacheStatus,
		"GET /internal/cache/metrics":                             h.handleCacheMetrics,
		"POST /internal/cache/invalidate":                         h.handleCacheInvalidate,
		"GET /internal/resilience/health":                         h.handleResilienceHealth,
		"GET /internal/resilience/circuit-breakers":               h.handleCircuitBreakers,
		"POST /internal/resilience/circuit-breakers/{name}/reset": h.handleResetBreaker,
		"GET /internal/resilience/metrics":                        h.handleResilienceMetrics,
		"POST /internal/resilience/metrics/reset":                 h.handleResetResilienceMetrics,
		"GET /internal/resilience/config":                         h.handleResilienceConfig,
		"GET /internal/monitoring/overview":                       h.handleOverview,
		"GET /internal/metrics":                                   h.handleMetrics,
		"GET /internal/environment":                               h.handleEnvironment,
		"POST /internal/auth/token":                               h.handleIssueToken,
	}
	for pattern, fn := range internal {
		mux.Handle(pattern, required(fn))
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if allowed := allowedMethods(mux, r); len(allowed) > 0 {
			w.Header().Set("Allow", strings.Join(allowed, ", "))
			writeError(w, r, http.StatusMethodNotAllowed, codeMethod, "Method not allowed", r.Method+" "+r.URL.Path)
			return
		}
		writeError(w, r, http.StatusNotFound, codeNotFound, "Not found", r.URL.Path)
	})

	resolver, err := auth.NewClientResolver(cfg.proxies)
	if err != nil {
		return nil, err
	}

	var limiter *clientLimiter
	if cfg.rateRPS > 0 {
		limiter, err = newClientLimiter(cfg.rateRPS, cfg.rateBurst, cfg.rateClients)
		if err != nil {
			return nil, err
		}
	}

	// Wrapped innermost first.
	var root http.Handler = mux
	root = metricsMiddleware(h.Collector, root)
	if cfg.enableLogging {
		root = loggingMiddleware(h.Logger, root)
	}
	root = recoveryMiddleware(h.Logger, root)
	root = bodyLimitMiddleware(cfg.maxBodyBytes, root)
	root = rateLimitMiddleware(limiter, root)
	root = corsMiddleware(cfg.corsOrigins, root)
	root = securityHeadersMiddleware(root)
	root = clientIPMiddleware(resolver, root)
	root = requestIDMiddleware(root)

	h.Logger.Debug("Router configured",
		slog.Bool("access_log", cfg.enableLogging),
		slog.Int64("max_body_bytes", cfg.maxBodyBytes),
		slog.Float64("rate_limit_rps", cfg.rateRPS),
		slog.Int("trusted_proxies", len(cfg.proxies)))

	return root, nil
}

var routeMethods = []string{http.MethodGet, http.MethodPost}

// allowedMethods lists the methods registered for the request path. The
// catch-all pattern matches every method, so the mux never answers 405 on
// its own.
func allowedMethods(mux *http.ServeMux, r *http.Request) []string {
	var allowed []string
	for _, method := range routeMethods {
		if method == r.Method {
			continue
		}
		candidate := r.Clone(r.Context())
		candidate.Method = method
		if _, pattern := mux.Handler(candidate); pattern != "/" && pattern != "" {
			allowed = append(allowed, method)
		}
	}
	return allowed
}
