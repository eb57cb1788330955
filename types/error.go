package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the pipeline.
type ErrorCode string

const (
	// ErrIngestion marks a chunking or embedding failure for part of a
	// document. Partial: the remaining chunks are still indexed.
	ErrIngestion ErrorCode = "INGESTION"
	// ErrRetrieval marks an unavailable vector or graph source. Degrades
	// to empty evidence for that source.
	ErrRetrieval ErrorCode = "RETRIEVAL"
	// ErrToolPolicy marks an attempted call to a tool outside the stage's
	// allow-list. The call is rejected, never executed.
	ErrToolPolicy ErrorCode = "TOOL_POLICY"
	// ErrValidation marks malformed structured output from the reasoning
	// capability. One retry, then the stage fails with defaults.
	ErrValidation ErrorCode = "VALIDATION"
	// ErrTimeout marks an external capability call exceeding its deadline.
	ErrTimeout ErrorCode = "TIMEOUT"
	// ErrCancelled marks a pipeline run cancelled by the caller.
	ErrCancelled ErrorCode = "CANCELLED"
	// ErrCapability marks a total loss of a required capability
	// (e.g. the reasoning provider). Fatal to the run.
	ErrCapability ErrorCode = "CAPABILITY"
)

// Error is a structured error with a code, message, and optional cause.
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

// CodeOf extracts the error code from an error chain. Returns "" when no
// *Error is found.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given code anywhere in its chain.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}
