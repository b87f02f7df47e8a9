// Package inferr defines unified error types for the matchkit serving
// engine. Every failure the engine can produce is mapped to one of these
// standard types so that callers and the gateway can handle them uniformly.
package inferr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error type constants.
const (
	TypeValidation          = "validation_error"
	TypeUpstreamTimeout     = "upstream_timeout"
	TypeCacheUnavailable    = "cache_unavailable"
	TypeOptimizationFailure = "optimization_failure"
	TypeCapacityExceeded    = "capacity_exceeded"
	TypeInternal            = "internal_error"
)

// Error is a standardized engine error. It carries enough information for
// error handling, logging, and the gateway response.
//
// Only validation errors and final upstream timeouts propagate to the caller
// as response-level errors; cache and optimization failures are absorbed by
// the engine with degraded-but-correct behavior.
type Error struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Stage     string `json:"stage,omitempty"`
	Retryable bool   `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("[%s] %s (stage=%s)", e.Type, e.Message, e.Stage)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// HTTPStatusCode returns the appropriate HTTP status code for the error.
func (e *Error) HTTPStatusCode() int {
	switch e.Type {
	case TypeValidation:
		return http.StatusBadRequest
	case TypeUpstreamTimeout:
		return http.StatusGatewayTimeout
	case TypeCapacityExceeded:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// NewValidationError reports a malformed request. Fatal for the request,
// returned immediately, never retried.
func NewValidationError(message string) *Error {
	return &Error{Type: TypeValidation, Message: message, Retryable: false}
}

// NewUpstreamTimeout reports that the feature extractor or scoring model
// exceeded its slice of the deadline at the given stage.
func NewUpstreamTimeout(stage, message string) *Error {
	return &Error{Type: TypeUpstreamTimeout, Message: message, Stage: stage, Retryable: true}
}

// NewCacheUnavailable reports a durable-tier failure. Always recovered
// locally by recomputing; never surfaced to the caller.
func NewCacheUnavailable(message string) *Error {
	return &Error{Type: TypeCacheUnavailable, Message: message, Retryable: true}
}

// NewOptimizationFailure reports that execution-mode preparation failed.
// Recovered by falling back one mode down; logged, not surfaced.
func NewOptimizationFailure(mode, message string) *Error {
	return &Error{Type: TypeOptimizationFailure, Message: message, Stage: mode, Retryable: false}
}

// NewCapacityExceeded reports a full background queue. Fatal for that
// submission, rejected immediately.
func NewCapacityExceeded(message string) *Error {
	return &Error{Type: TypeCapacityExceeded, Message: message, Retryable: false}
}

// NewInternalError reports an unexpected engine failure.
func NewInternalError(message string) *Error {
	return &Error{Type: TypeInternal, Message: message, Retryable: false}
}

// AsError extracts an *Error from err, or wraps err as an internal error.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return NewInternalError(err.Error())
}

// IsType reports whether err is an *Error of the given type.
func IsType(err error, typ string) bool {
	var e *Error
	return errors.As(err, &e) && e.Type == typ
}

// IsTimeout reports whether err is an upstream timeout.
func IsTimeout(err error) bool { return IsType(err, TypeUpstreamTimeout) }

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return IsType(err, TypeValidation) }

// IsCapacityExceeded reports whether err is a queue capacity rejection.
func IsCapacityExceeded(err error) bool { return IsType(err, TypeCapacityExceeded) }
