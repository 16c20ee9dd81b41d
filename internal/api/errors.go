package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/angeloszaimis/llm-starter/internal/auth"
	"github.com/angeloszaimis/llm-starter/internal/llm"
	"github.com/angeloszaimis/llm-starter/internal/resilience"
	"github.com/angeloszaimis/llm-starter/internal/textprocessor"
)

const (
	codeValidation     = "VALIDATION_ERROR"
	codeUnauthorized   = "UNAUTHORIZED"
	codeForbidden      = "FORBIDDEN"
	codeNotFound       = "NOT_FOUND"
	codeMethod         = "METHOD_NOT_ALLOWED"
	codeRateLimited    = "RATE_LIMITED"
	codeBodyTooLarge   = "PAYLOAD_TOO_LARGE"
	codeUnavailable    = "SERVICE_UNAVAILABLE"
	codeNotConfigured  = "LLM_NOT_CONFIGURED"
	codeTimeout        = "TIMEOUT"
	codeUpstream       = "UPSTREAM_ERROR"
	codeTokensDisabled = "TOKENS_DISABLED"
	codeInternal       = "INTERNAL_ERROR"
)

type errorResponse struct {
	Error     string `json:"error"`
	Details   any    `json:"details,omitempty"`
	ErrorCode string `json:"error_code"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	writeJSON(w, status, errorResponse{
		Error:     message,
		Details:   details,
		ErrorCode: code,
		RequestID: RequestIDFromContext(r.Context()),
	})
}

// writeServiceError maps err onto a status code and error code.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		providerErr *llm.ProviderError
		maxBytesErr *http.MaxBytesError
		fieldErrs   validation.Errors
	)

	switch {
	case errors.As(err, &maxBytesErr):
		writeError(w, r, http.StatusRequestEntityTooLarge, codeBodyTooLarge, "Request body too large", err.Error())
	case errors.Is(err, textprocessor.ErrValidation):
		var details any = err.Error()
		if errors.As(err, &fieldErrs) {
			details = fieldErrs
		}
		writeError(w, r, http.StatusBadRequest, codeValidation, "Invalid request", details)
	case errors.Is(err, auth.ErrMissingCredentials), errors.Is(err, auth.ErrInvalidCredentials):
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeError(w, r, http.StatusUnauthorized, codeUnauthorized, "Authentication required", err.Error())
	case errors.Is(err, auth.ErrTokensDisabled):
		writeError(w, r, http.StatusBadRequest, codeTokensDisabled, "Token issuing is disabled", err.Error())
	case errors.Is(err, llm.ErrNotConfigured):
		writeError(w, r, http.StatusServiceUnavailable, codeNotConfigured, "AI service is not configured", err.Error())
	case errors.Is(err, resilience.ErrServiceUnavailable):
		writeError(w, r, http.StatusServiceUnavailable, codeUnavailable, "Service temporarily unavailable", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, r, http.StatusGatewayTimeout, codeTimeout, "Request timed out", err.Error())
	case errors.As(err, &providerErr):
		writeError(w, r, http.StatusBadGateway, codeUpstream, "AI provider error", providerErr.Message)
	default:
		writeError(w, r, http.StatusInternalServerError, codeInternal, "Internal error", err.Error())
	}
}

// AuthErrorHandler renders authentication failures in the API error shape.
// Pass it to auth.WithErrorHandler.
func AuthErrorHandler(w http.ResponseWriter, r *http.Request, err error) {
	writeServiceError(w, r, err)
}

// decodeJSON reads a single JSON document from r's body into dst.
func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return err
		}
		return fmt.Errorf("%w: invalid JSON body: %w", textprocessor.ErrValidation, err)
	}
	return nil
}
