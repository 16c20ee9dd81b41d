package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/angeloszaimis/llm-starter/internal/auth"
	"github.com/angeloszaimis/llm-starter/internal/environment"
	"github.com/angeloszaimis/llm-starter/internal/health"
	"github.com/angeloszaimis/llm-starter/internal/textprocessor"
)

type healthResponse struct {
	health.SystemHealthStatus
	Service     string                  `json:"service"`
	Version     string                  `json:"version"`
	Environment environment.Environment `json:"environment"`
}

type authStatusResponse struct {
	Principal auth.Principal `json:"principal"`
	Auth      auth.Status    `json:"auth"`
}

type textHealthResponse struct {
	Status        health.Status                     `json:"status"`
	LLMConfigured bool                              `json:"llm_configured"`
	Model         string                            `json:"model,omitempty"`
	Strategy      string                            `json:"strategy,omitempty"`
	Components    map[string]health.ComponentStatus `json:"components"`
	Timestamp     time.Time                         `json:"timestamp"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := h.systemHealth(r.Context())

	resp := healthResponse{
		SystemHealthStatus: status,
		Service:            h.Service,
		Version:            h.Version,
	}
	if h.Detector != nil {
		resp.Environment = h.Detector.Detect(environment.ContextDefault).Environment
	}

	writeJSON(w, healthStatusCode(status.OverallStatus), resp)
}

func (h *Handler) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	writeJSON(w, http.StatusOK, authStatusResponse{Principal: p, Auth: h.Auth.Status()})
}

func (h *Handler) handleOperations(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"operations":     h.Processor.Operations(),
		"max_batch_size": textprocessor.MaxBatchSize,
		"text_limits": map[string]int{
			"min_length": textprocessor.MinTextLength,
			"max_length": textprocessor.MaxTextLength,
		},
	})
}

func (h *Handler) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req textprocessor.Request
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}

	resp, err := h.Processor.Process(r.Context(), req)
	if err != nil {
		h.requestLogger(r).Warn("Text processing failed",
			slog.String("operation", string(req.Operation)),
			slog.Any("err", err))
		writeServiceError(w, r, err)
		return
	}

	h.requestLogger(r).Info("Text processed",
		slog.String("operation", string(resp.Operation)),
		slog.Bool("cached", resp.Cached),
		slog.Bool("success", resp.Success))
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleBatchProcess(w http.ResponseWriter, r *http.Request) {
	var batch textprocessor.BatchRequest
	if err := decodeJSON(r, &batch); err != nil {
		writeServiceError(w, r, err)
		return
	}

	resp, err := h.Processor.ProcessBatch(r.Context(), batch)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	h.requestLogger(r).Info("Batch processed",
		slog.String("batch_id", resp.BatchID),
		slog.Int("completed", resp.Completed),
		slog.Int("failed", resp.Failed))
	writeJSON(w, http.StatusOK, resp)
}

// handleTextHealth checks the components text processing depends on.
func (h *Handler) handleTextHealth(w http.ResponseWriter, r *http.Request) {
	components := make(map[string]health.ComponentStatus)
	for _, name := range []string{"llm", "cache"} {
		status, err := h.Checker.CheckComponent(r.Context(), name)
		if errors.Is(err, health.ErrUnknownComponent) {
			continue
		}
		components[name] = status
	}

	list := make([]health.ComponentStatus, 0, len(components))
	for _, c := range components {
		list = append(list, c)
	}

	resp := textHealthResponse{
		Status:     health.Overall(list),
		Components: components,
		Timestamp:  time.Now().UTC(),
	}
	if h.LLM != nil {
		resp.LLMConfigured = h.LLM.Configured()
		resp.Model = h.LLM.Model()
		resp.Strategy = h.LLM.Strategy()
	}

	writeJSON(w, healthStatusCode(resp.Status), resp)
}
