// Package errors provides custom error types for the offline cache.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents the type of error that occurred
type ErrorCode string

const (
	ErrCodeStoreUnavailable  ErrorCode = "STORE_UNAVAILABLE"
	ErrCodeTableMissing      ErrorCode = "TABLE_MISSING"
	ErrCodeReplayFailure     ErrorCode = "REPLAY_FAILURE"
	ErrCodeEntityNotFound    ErrorCode = "ENTITY_NOT_FOUND"
	ErrCodeValidationFailure ErrorCode = "VALIDATION_FAILURE"
)

// Operation represents the type of cache operation
type Operation string

const (
	OpOpen    Operation = "open"
	OpPut     Operation = "put"
	OpGet     Operation = "get"
	OpList    Operation = "list"
	OpDelete  Operation = "delete"
	OpClear   Operation = "clear"
	OpEnqueue Operation = "enqueue"
	OpDequeue Operation = "dequeue"
	OpDrain   Operation = "drain"
	OpReplay  Operation = "replay"
	OpFlag    Operation = "flag"
	OpClose   Operation = "close"
)

// CacheError represents an error that occurred in the offline cache layer
type CacheError struct {
	// Operation during which the error occurred
	Op Operation

	// Component that generated the error (e.g., "store", "queue", "replayer")
	Component string

	// Underlying error
	Err error

	// Whether the operation can be retried
	Retryable bool

	// Error code for the error type
	Code ErrorCode

	// Metadata for additional context
	Metadata map[string]interface{}
}

func (e *CacheError) Error() string {
	var msg string
	if e.Component != "" {
		msg = fmt.Sprintf("%s operation failed in %s component", e.Op, e.Component)
	} else {
		msg = fmt.Sprintf("%s operation failed", e.Op)
	}

	if e.Code != "" {
		msg += fmt.Sprintf(" [%s]", e.Code)
	}

	return msg + fmt.Sprintf(": %v", e.Err)
}

func (e *CacheError) Unwrap() error {
	return e.Err
}

// NewStoreUnavailableError creates a CacheError for an unusable storage engine
func NewStoreUnavailableError(op Operation, cause error) *CacheError {
	return &CacheError{
		Code:      ErrCodeStoreUnavailable,
		Op:        op,
		Component: "store",
		Err:       cause,
		Retryable: true,
	}
}

// NewTableMissingError creates a CacheError for an undeclared or not-yet-created table
func NewTableMissingError(op Operation, cause error) *CacheError {
	return &CacheError{
		Code:      ErrCodeTableMissing,
		Op:        op,
		Component: "store",
		Err:       cause,
		Retryable: false,
	}
}

// NewReplayError creates a CacheError for a queued write rejected on replay.
// retryable distinguishes transient failures (network, 5xx) from permanent
// rejections (4xx).
func NewReplayError(op Operation, cause error, retryable bool) *CacheError {
	return &CacheError{
		Code:      ErrCodeReplayFailure,
		Op:        op,
		Component: "replayer",
		Err:       cause,
		Retryable: retryable,
	}
}

// NewNotFoundError creates a CacheError for a missing entity
func NewNotFoundError(op Operation, cause error) *CacheError {
	return &CacheError{
		Code:      ErrCodeEntityNotFound,
		Op:        op,
		Component: "store",
		Err:       cause,
		Retryable: false,
	}
}

// NewValidationError creates a validation-related CacheError
func NewValidationError(op Operation, cause error) *CacheError {
	return &CacheError{
		Code:      ErrCodeValidationFailure,
		Op:        op,
		Err:       cause,
		Retryable: false,
	}
}

// New creates a new CacheError
func New(op Operation, err error) *CacheError {
	return &CacheError{
		Op:  op,
		Err: err,
	}
}

// NewWithComponent creates a new CacheError with component information
func NewWithComponent(op Operation, component string, err error) *CacheError {
	return &CacheError{
		Op:        op,
		Component: component,
		Err:       err,
	}
}

// IsRetryable checks if an error is a retryable CacheError
func IsRetryable(err error) bool {
	var cacheErr *CacheError
	if errors.As(err, &cacheErr) {
		return cacheErr.Retryable
	}
	return false
}

// CodeOf returns the ErrorCode of err if it is a CacheError, or "" otherwise.
func CodeOf(err error) ErrorCode {
	var cacheErr *CacheError
	if errors.As(err, &cacheErr) {
		return cacheErr.Code
	}
	return ""
}
