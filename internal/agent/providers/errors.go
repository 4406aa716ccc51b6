package providers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// FailureReason categorizes why a provider request failed, driving retry
// decisions.
type FailureReason string

const (
	ReasonRateLimit      FailureReason = "rate_limit"
	ReasonAuth           FailureReason = "auth"
	ReasonTimeout        FailureReason = "timeout"
	ReasonServerError    FailureReason = "server_error"
	ReasonInvalidRequest FailureReason = "invalid_request"
	ReasonUnknown        FailureReason = "unknown"
)

// IsRetryable returns true if the reason suggests retrying may succeed.
func (r FailureReason) IsRetryable() bool {
	switch r {
	case ReasonRateLimit, ReasonTimeout, ReasonServerError:
		return true
	default:
		return false
	}
}

// ProviderError is a structured error from an LLM provider.
type ProviderError struct {
	Reason   FailureReason
	Provider string
	Model    string
	Status   int
	Message  string
	Cause    error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	parts := []string{fmt.Sprintf("[%s]", e.Reason)}
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Model != "" {
		parts = append(parts, "model="+e.Model)
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying cause.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewProviderError wraps err with provider context, classifying the failure
// by status code hints and message substrings.
func NewProviderError(provider, model string, err error) *ProviderError {
	pe := &ProviderError{
		Reason:   ReasonUnknown,
		Provider: provider,
		Model:    model,
		Cause:    err,
	}
	if err == nil {
		return pe
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "rate_limit") || strings.Contains(msg, "too many requests") || strings.Contains(msg, "throttl"):
		pe.Reason = ReasonRateLimit
		pe.Status = http.StatusTooManyRequests
	case strings.Contains(msg, "401") || strings.Contains(msg, "403") || strings.Contains(msg, "unauthorized") || strings.Contains(msg, "invalid api key") || strings.Contains(msg, "authentication"):
		pe.Reason = ReasonAuth
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		pe.Reason = ReasonTimeout
	case strings.Contains(msg, "500") || strings.Contains(msg, "502") || strings.Contains(msg, "503") || strings.Contains(msg, "504") || strings.Contains(msg, "overloaded") || strings.Contains(msg, "service unavailable"):
		pe.Reason = ReasonServerError
	case strings.Contains(msg, "400") || strings.Contains(msg, "invalid request") || strings.Contains(msg, "bad request"):
		pe.Reason = ReasonInvalidRequest
	}
	return pe
}

// GetProviderError extracts a ProviderError from an error chain.
func GetProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// IsProviderError reports whether err carries provider context already.
func IsProviderError(err error) bool {
	_, ok := GetProviderError(err)
	return ok
}

// isRetryableMessage classifies bare errors by message substrings; used by
// adapters before wrapping.
func isRetryableMessage(err error) bool {
	if err == nil {
		return false
	}
	if pe, ok := GetProviderError(err); ok {
		return pe.Reason.IsRetryable()
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"rate limit", "429", "500", "502", "503", "504", "timeout", "deadline exceeded", "overloaded", "connection reset", "connection refused"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
