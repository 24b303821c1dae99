package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the subsystem.
type ErrorCode string

const (
	// ErrNotFound: Get/Update/Delete addressed an unknown memory ID.
	ErrNotFound ErrorCode = "NOT_FOUND"

	// ErrInvalidInput: the caller passed a structurally invalid argument.
	ErrInvalidInput ErrorCode = "INVALID_INPUT"

	// ErrStoreUnavailable: transient backend failure; retried with backoff,
	// then surfaced as a degraded context rather than a failed turn.
	ErrStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"

	// ErrDimensionMismatch: vector dimensionality disagrees with the store's
	// configured dimension. Fatal configuration error, never retried.
	ErrDimensionMismatch ErrorCode = "DIMENSION_MISMATCH"

	// ErrEmbeddingFailure: the embedding provider failed. Transient; on
	// exhaustion the affected memory scores semantic=0 instead of aborting.
	ErrEmbeddingFailure ErrorCode = "EMBEDDING_FAILURE"

	// ErrCompletionFailure: the completion provider failed.
	ErrCompletionFailure ErrorCode = "COMPLETION_FAILURE"

	// ErrExtractionParse: model output could not be parsed during
	// distillation. Local skip-and-log, never propagated to the caller.
	ErrExtractionParse ErrorCode = "EXTRACTION_PARSE_FAILURE"

	// ErrBudgetViolation: the compressor produced output over budget.
	// Programming error, must never occur in correct operation.
	ErrBudgetViolation ErrorCode = "BUDGET_VIOLATION"

	// ErrUserIsolation: an operation attempted to cross a user boundary.
	// Rejected unconditionally and logged as a security event.
	ErrUserIsolation ErrorCode = "USER_ISOLATION_VIOLATION"
)

// Error represents a structured error with code, message, and cause.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
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
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf creates a new Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// IsRetryable reports whether err carries a retryable marker.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error, or "" if it is not a
// structured Error.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsNotFound reports whether err is a NOT_FOUND error.
func IsNotFound(err error) bool {
	return GetErrorCode(err) == ErrNotFound
}
