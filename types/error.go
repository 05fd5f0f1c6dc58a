package types

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorCode represents a unified error code across the pipeline.
type ErrorCode string

// Upstream call error codes. These classify failures from LLM providers
// and tool adapters and drive the retry policy: API, network, timeout and
// unclassified failures are retryable; validation and resource failures
// are not.
const (
	ErrAPI          ErrorCode = "API_ERROR"
	ErrNetwork      ErrorCode = "NETWORK_ERROR"
	ErrTimeout      ErrorCode = "TIMEOUT_ERROR"
	ErrValidation   ErrorCode = "VALIDATION_ERROR"
	ErrResource     ErrorCode = "RESOURCE_ERROR"
	ErrUnclassified ErrorCode = "UNCLASSIFIED"
)

// Boundary error codes used by the REST shim and the store.
const (
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST"
	ErrNotFound       ErrorCode = "NOT_FOUND"
	ErrConflict       ErrorCode = "CONFLICT"
	ErrRateLimited    ErrorCode = "RATE_LIMITED"
	ErrUnauthorized   ErrorCode = "UNAUTHORIZED"
	ErrInternalError  ErrorCode = "INTERNAL_ERROR"
)

// Workflow error codes.
const (
	ErrWorkflowCancelled ErrorCode = "WORKFLOW_CANCELLED"
	ErrInvalidTransition ErrorCode = "INVALID_TRANSITION"
	ErrGateRejected      ErrorCode = "GATE_REJECTED"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Source     string    `json:"source,omitempty"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
// Retryability is derived from the code and can be overridden with
// WithRetryable.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message, Retryable: codeRetryable(code)}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable overrides the derived retryability.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithSource sets the component that produced the error.
func (e *Error) WithSource(source string) *Error {
	e.Source = source
	return e
}

func codeRetryable(code ErrorCode) bool {
	switch code {
	case ErrAPI, ErrNetwork, ErrTimeout, ErrUnclassified, ErrRateLimited:
		return true
	default:
		return false
	}
}

// IsRetryable reports whether an error may be retried. Unwrapped
// non-*Error values are classified first.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return codeRetryable(Classify(err))
}

// GetErrorCode extracts the error code from an error, classifying plain
// errors that were never wrapped.
func GetErrorCode(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Classify(err)
}

// Classify buckets an arbitrary error into the upstream taxonomy. Wrapped
// *Error values keep their code; everything else is matched on well-known
// sentinel errors and message substrings.
func Classify(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	if errors.Is(err, context.Canceled) {
		return ErrWorkflowCancelled
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return ErrTimeout
	case strings.Contains(msg, "unauthorized") || strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "status 401") || strings.Contains(msg, "status 403") ||
		strings.Contains(msg, "status 429"):
		return ErrAPI
	case strings.Contains(msg, "connection") || strings.Contains(msg, "network") ||
		strings.Contains(msg, "broken pipe") || strings.Contains(msg, "no such host"):
		return ErrNetwork
	case strings.Contains(msg, "invalid") || strings.Contains(msg, "validation"):
		return ErrValidation
	case strings.Contains(msg, "no space") || strings.Contains(msg, "out of memory") ||
		strings.Contains(msg, "disk"):
		return ErrResource
	default:
		return ErrUnclassified
	}
}
