package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/angeloszaimis/llm-starter/internal/auth"
	"github.com/angeloszaimis/llm-starter/internal/cache"
	"github.com/angeloszaimis/llm-starter/internal/environment"
	"github.com/angeloszaimis/llm-starter/internal/health"
	"github.com/angeloszaimis/llm-starter/internal/llm"
	"github.com/angeloszaimis/llm-starter/internal/metrics"
	"github.com/angeloszaimis/llm-starter/internal/resilience"
	"github.com/angeloszaimis/llm-starter/internal/textprocessor"
)

// Processor runs text operations.
type Processor interface {
	Process(ctx context.Context, req textprocessor.Request) (textprocessor.Response, error)
	ProcessBatch(ctx context.Context, batch textprocessor.BatchRequest) (textprocessor.BatchResponse, error)
	Operations() []textprocessor.OperationInfo
}

// LLMStatus describes the configured LLM client.
type LLMStatus interface {
	Configured() bool
	Model() string
	Strategy() string
	Pool() *llm.Pool
}

// Dependencies are the services the handlers call. Monitor and Collector
// are optional.
type Dependencies struct {
	Service      string
	Version      string
	Auth         *auth.APIKeyAuth
	Processor    Processor
	LLM          LLMStatus
	Cache        cache.Cache
	Orchestrator *resilience.Orchestrator
	Checker      *health.Checker
	Monitor      *health.Monitor
	Collector    *metrics.Collector
	Detector     *environment.Detector
	Logger       *slog.Logger
	TokenTTL     time.Duration
}

type Handler struct {
	Dependencies
	started time.Time
}

func NewHandler(deps Dependencies) *Handler {
	if deps.Service == "" {
		deps.Service = "llm-starter"
	}
	if deps.TokenTTL <= 0 {
		deps.TokenTTL = time.Hour
	}
	return &Handler{Dependencies: deps, started: time.Now()}
}

// requestLogger attaches the request id and principal to the handler logger.
func (h *Handler) requestLogger(r *http.Request) *slog.Logger {
	l := h.Logger.With(slog.String("request_id", RequestIDFromContext(r.Context())))
	if p, ok := auth.PrincipalFromContext(r.Context()); ok {
		l = l.With(slog.String("auth_method", p.Method), slog.String("key_id", p.KeyID))
	}
	return l
}

// systemHealth prefers the monitor's latest result and falls back to a
// fresh check when the monitor has not run yet.
func (h *Handler) systemHealth(ctx context.Context) health.SystemHealthStatus {
	if h.Monitor != nil {
		if latest, ok := h.Monitor.Latest(); ok {
			return latest
		}
	}
	return h.Checker.CheckAll(ctx)
}

func healthStatusCode(status health.Status) int {
	if status == health.StatusUnhealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}
