package apperr

import (
	"fmt"
	"net/http"
)

// ProviderError is an upstream synthesis or generation failure.
// After retries are exhausted it carries the last observed status and message.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	Transient  bool
	Attempts   int
	Cause      error
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s error (status %d): %s", e.Provider, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s error: %s", e.Provider, msg)
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewStatusError classifies an upstream HTTP status. Only 5xx responses are retryable.
func NewStatusError(provider string, status int, message string) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		StatusCode: status,
		Message:    message,
		Transient:  status >= http.StatusInternalServerError,
	}
}

// NoVoicesAvailable is the structured absence produced when neither the live
// catalog nor the static fallback yields a voice.
type NoVoicesAvailable struct {
	Provider     string            `json:"provider"`
	Filters      map[string]string `json:"filters,omitempty"`
	Alternatives []string          `json:"alternatives"`
}

func (e *NoVoicesAvailable) Error() string {
	return fmt.Sprintf("no voices available for provider %s", e.Provider)
}
