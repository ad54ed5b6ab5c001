package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the engine.
type ErrorCode string

// Configuration errors: fail fast, non-retryable.
const (
	ErrCodeExperimentNotFound    ErrorCode = "EXPERIMENT_NOT_FOUND"
	ErrCodeVariantNotFound       ErrorCode = "VARIANT_NOT_FOUND"
	ErrCodeInvalidExperiment     ErrorCode = "INVALID_EXPERIMENT"
	ErrCodeInvalidTrafficPercent ErrorCode = "INVALID_TRAFFIC_PERCENT"
	ErrCodeInvalidWeights        ErrorCode = "INVALID_WEIGHTS"
)

// State errors: a violated lifecycle or attribution invariant, never coerced.
const (
	ErrCodeInvalidTransition    ErrorCode = "INVALID_TRANSITION"
	ErrCodeExperimentNotRunning ErrorCode = "EXPERIMENT_NOT_RUNNING"
	ErrCodeNoAssignment         ErrorCode = "NO_ASSIGNMENT"
	ErrCodeUnknownGoal          ErrorCode = "UNKNOWN_GOAL"
)

// Storage and transient errors: retryable by the caller.
const (
	ErrCodeStorage ErrorCode = "STORAGE_ERROR"
)

// Sentinel errors shared across packages. Each sentinel is a *Error so the
// code survives to the API boundary; callers match identity with errors.Is
// and extract the code with GetErrorCode, both work through wrapping.
var (
	ErrExperimentNotFound = NewError(ErrCodeExperimentNotFound, "experiment not found")
	ErrNoVariants         = NewError(ErrCodeInvalidExperiment, "no variants defined")
	ErrInvalidWeights     = NewError(ErrCodeInvalidWeights, "invalid variant weights")
	ErrNoAssignment       = NewError(ErrCodeNoAssignment, "no assignment for participant")
)

// Error is a structured error with code, message, and retry metadata.
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

// NewStorageError wraps a backend failure as a retryable storage error.
func NewStorageError(message string, cause error) *Error {
	return &Error{Code: ErrCodeStorage, Message: message, Retryable: true, Cause: cause}
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

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error, or "" when the error
// does not carry one.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
