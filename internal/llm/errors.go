package llm

import (
	"errors"
	"fmt"
)

var (
	ErrNotConfigured = errors.New("LLM API key not configured")
	ErrEmptyResponse = errors.New("LLM returned no choices")
)

// ProviderError describes a failed call to an endpoint. Retryable errors
// (network failures, 429 and 5xx responses) report Transient() == true.
type ProviderError struct {
	Endpoint   string
	StatusCode int
	Message    string
	Retryable  bool
	Err        error
}

func (e *ProviderError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("llm provider %s: status %d: %s", e.Endpoint, e.StatusCode, e.Message)
	case e.Endpoint != "":
		return fmt.Sprintf("llm provider %s: %s", e.Endpoint, e.Message)
	default:
		return "llm provider: " + e.Message
	}
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func (e *ProviderError) Transient() bool {
	return e.Retryable
}
