package core

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType classifies errors into the shared taxonomy used for retry and
// fallback decisions.
type ErrorType string

const (
	// ErrorTypeValidation indicates bad configuration or input. Never
	// retried; surfaced immediately to the caller.
	ErrorTypeValidation ErrorType = "validation_error"
	// ErrorTypeThrottled indicates upstream rate limiting (429). Retried
	// with backoff, then triggers fallback.
	ErrorTypeThrottled ErrorType = "throttled"
	// ErrorTypeTimeout indicates an expired provider deadline. Triggers
	// fallback immediately, no local retry.
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeInvalidRequest indicates the provider rejected the request
	// (4xx). Fatal for that provider; never retried against the same
	// descriptor.
	ErrorTypeInvalidRequest ErrorType = "invalid_request"
	// ErrorTypeInternal indicates an upstream provider failure (5xx).
	ErrorTypeInternal ErrorType = "internal_error"
	// ErrorTypeCacheUnavailable indicates a cache tier outage. Non-fatal:
	// the orchestrator degrades to the next tier or to a miss.
	ErrorTypeCacheUnavailable ErrorType = "cache_unavailable"
)

// RouteError is the base error type for routing and provider failures.
type RouteError struct {
	Type     ErrorType
	Provider string
	Message  string
	// Original error for debugging (not exposed to clients).
	Err error
}

func (e *RouteError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Provider, e.Type, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *RouteError) Unwrap() error { return e.Err }

// HTTPStatusCode maps the error type to an HTTP status for the API surface.
func (e *RouteError) HTTPStatusCode() int {
	switch e.Type {
	case ErrorTypeValidation, ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeThrottled:
		return http.StatusTooManyRequests
	case ErrorTypeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// NewThrottledError creates a throttled (rate limit) error.
func NewThrottledError(provider, message string) *RouteError {
	return &RouteError{Type: ErrorTypeThrottled, Provider: provider, Message: message}
}

// NewTimeoutError creates a provider timeout error.
func NewTimeoutError(provider string, err error) *RouteError {
	return &RouteError{Type: ErrorTypeTimeout, Provider: provider, Message: "provider call timed out", Err: err}
}

// NewInvalidRequestError creates a provider-rejected request error.
func NewInvalidRequestError(provider, message string, err error) *RouteError {
	return &RouteError{Type: ErrorTypeInvalidRequest, Provider: provider, Message: message, Err: err}
}

// NewInternalError creates an upstream provider failure error.
func NewInternalError(provider, message string, err error) *RouteError {
	return &RouteError{Type: ErrorTypeInternal, Provider: provider, Message: message, Err: err}
}

// NewCacheUnavailableError wraps a cache tier failure.
func NewCacheUnavailableError(tier string, err error) *RouteError {
	return &RouteError{Type: ErrorTypeCacheUnavailable, Provider: tier, Message: "cache tier unavailable", Err: err}
}

// TypeOf extracts the taxonomy type from err, or ErrorTypeInternal when the
// error does not carry one.
func TypeOf(err error) ErrorType {
	var re *RouteError
	if errors.As(err, &re) {
		return re.Type
	}
	return ErrorTypeInternal
}

// TriggersFallback reports whether an error type should advance the
// fallback chain rather than fail the request outright.
func TriggersFallback(t ErrorType) bool {
	switch t {
	case ErrorTypeThrottled, ErrorTypeTimeout, ErrorTypeInvalidRequest, ErrorTypeInternal:
		return true
	}
	return false
}

// FieldError is a single configuration validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors aggregates configuration rejections. Configuration is
// rejected, not coerced, so callers receive the full list at once.
type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	if len(v) == 1 {
		return fmt.Sprintf("invalid configuration: %s: %s", v[0].Field, v[0].Message)
	}
	return fmt.Sprintf("invalid configuration: %d errors, first: %s: %s", len(v), v[0].Field, v[0].Message)
}

// TerminalError is returned when the fallback chain is exhausted. The last
// provider error is attached for diagnosis.
type TerminalError struct {
	Attempts int
	LastErr  error
}

func (e *TerminalError) Error() string {
	return fmt.Sprintf("fallback chain exhausted after %d attempts: %v", e.Attempts, e.LastErr)
}

func (e *TerminalError) Unwrap() error { return e.LastErr }
