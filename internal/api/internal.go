package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path"
	"time"

	"github.com/angeloszaimis/llm-starter/internal/auth"
	"github.com/angeloszaimis/llm-starter/internal/environment"
	"github.com/angeloszaimis/llm-starter/internal/textprocessor"
)

type degradable interface {
	Degraded() bool
}

func (h *Handler) handleCacheStatus(w http.ResponseWriter, r *http.Request) {
	if h.Cache == nil {
		writeJSON(w, http.StatusOK, map[string]any{"enabled": false})
		return
	}

	resp := map[string]any{
		"enabled":   true,
		"connected": h.Cache.Ping(r.Context()) == nil,
		"stats":     h.Cache.Stats(),
	}
	if d, ok := h.Cache.(degradable); ok {
		resp["degraded"] = d.Degraded()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleCacheMetrics(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{}
	if h.Cache != nil {
		resp["stats"] = h.Cache.Stats()
	}
	if h.Collector != nil {
		resp["operations"] = h.Collector.Snapshot(h.Service).Cache
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCacheInvalidate removes cached results matching ?pattern=. Without
// a pattern every text processing entry is removed.
func (h *Handler) handleCacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.Cache == nil {
		writeJSON(w, http.StatusOK, map[string]any{"removed": 0, "pattern": ""})
		return
	}

	pattern := r.URL.Query().Get("pattern")
	if pattern == "" {
		pattern = "*"
	}
	if _, err := path.Match(pattern, ""); err != nil {
		writeError(w, r, http.StatusBadRequest, codeValidation, "Invalid pattern", err.Error())
		return
	}

	removed, err := h.Cache.InvalidatePattern(r.Context(), pattern)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	h.requestLogger(r).Info("Cache invalidated",
		slog.String("pattern", pattern),
		slog.Int("removed", removed))
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed, "pattern": pattern})
}

func (h *Handler) handleResilienceHealth(w http.ResponseWriter, _ *http.Request) {
	report := h.Orchestrator.Health()
	status := http.StatusOK
	if !report.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func (h *Handler) handleCircuitBreakers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"circuit_breakers": h.Orchestrator.Breakers()})
}

func (h *Handler) handleResetBreaker(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !h.Orchestrator.ResetBreaker(name) {
		writeError(w, r, http.StatusNotFound, codeNotFound, "Circuit breaker not found", name)
		return
	}

	h.requestLogger(r).Info("Circuit breaker reset", slog.String("name", name))
	writeJSON(w, http.StatusOK, map[string]any{"name": name, "reset": true})
}

func (h *Handler) handleResilienceMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"operations": h.Orchestrator.Metrics()})
}

func (h *Handler) handleResetResilienceMetrics(w http.ResponseWriter, r *http.Request) {
	h.Orchestrator.ResetMetrics()
	h.requestLogger(r).Info("Resilience metrics reset")
	writeJSON(w, http.StatusOK, map[string]any{"reset": true})
}

func (h *Handler) handleResilienceConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Orchestrator.Config())
}

// handleOverview aggregates every subsystem into one operator view.
func (h *Handler) handleOverview(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"service":        h.Service,
		"version":        h.Version,
		"uptime_seconds": time.Since(h.started).Seconds(),
		"health":         h.systemHealth(r.Context()),
		"resilience":     h.Orchestrator.Health(),
		"auth":           h.Auth.Status(),
		"auth_keys":      h.Auth.Keys(),
		"operations":     h.Processor.Operations(),
		"max_batch_size": textprocessor.MaxBatchSize,
	}
	if h.Cache != nil {
		resp["cache"] = h.Cache.Stats()
	}
	if h.Collector != nil {
		resp["metrics"] = h.Collector.Snapshot(h.Service)
	}
	if h.Detector != nil {
		resp["environment"] = h.Detector.Detect(environment.ContextDefault)
	}
	if h.LLM != nil {
		resp["llm"] = map[string]any{
			"configured": h.LLM.Configured(),
			"model":      h.LLM.Model(),
			"strategy":   h.LLM.Strategy(),
			"endpoints":  h.LLM.Pool().Stats(),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if h.Collector == nil {
		writeError(w, r, http.StatusNotFound, codeNotFound, "Metrics are disabled", nil)
		return
	}
	h.Collector.Handler(h.Service)(w, r)
}

func (h *Handler) handleEnvironment(w http.ResponseWriter, r *http.Request) {
	if h.Detector == nil {
		writeError(w, r, http.StatusNotFound, codeNotFound, "Environment detection is disabled", nil)
		return
	}

	fc, err := environment.ParseFeatureContext(r.URL.Query().Get("context"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, codeValidation, "Invalid feature context",
			map[string]any{"context": err.Error(), "allowed": environment.FeatureContexts()})
		return
	}
	writeJSON(w, http.StatusOK, h.Detector.Detect(fc))
}

type tokenRequest struct {
	Subject    string `json:"subject"`
	TTLSeconds int    `json:"ttl_seconds"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	TokenType string    `json:"token_type"`
	ExpiresAt time.Time `json:"expires_at"`
}

// handleIssueToken signs a bearer token for the caller. Only API-key
// principals may issue tokens, so a token cannot renew itself. The subject
// defaults to the caller's key id.
func (h *Handler) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	if p.Method == auth.MethodJWT {
		writeError(w, r, http.StatusForbidden, codeForbidden, "Tokens can only be issued with an API key", nil)
		return
	}

	var req tokenRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeServiceError(w, r, err)
		return
	}

	if req.Subject == "" {
		req.Subject = p.KeyID
	}
	ttl := h.TokenTTL
	if req.TTLSeconds > 0 {
		ttl = min(time.Duration(req.TTLSeconds)*time.Second, 24*time.Hour)
	}

	token, expires, err := h.Auth.IssueToken(req.Subject, ttl)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	h.requestLogger(r).Info("Issued token", slog.String("subject", req.Subject))
	writeJSON(w, http.StatusOK, tokenResponse{Token: token, TokenType: "Bearer", ExpiresAt: expires})
}
