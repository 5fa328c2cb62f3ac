package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a namespaced error code for searchsync errors.
type ErrorCode string

// Database error codes
const (
	DB_OPEN_FAILED      ErrorCode = "DB_OPEN_FAILED"
	DB_MIGRATION_FAILED ErrorCode = "DB_MIGRATION_FAILED"
	DB_QUERY_FAILED     ErrorCode = "DB_QUERY_FAILED"
)

// Catalog error codes
const (
	ENTITY_NOT_FOUND      ErrorCode = "ENTITY_NOT_FOUND"
	ENTITY_TYPE_UNKNOWN   ErrorCode = "ENTITY_TYPE_UNKNOWN"
	ENTITY_TYPE_MISMATCH  ErrorCode = "ENTITY_TYPE_MISMATCH"
	ENTITY_INVALID        ErrorCode = "ENTITY_INVALID"
	RELATIONSHIP_INVALID  ErrorCode = "RELATIONSHIP_INVALID"
	CAPABILITY_UNDECLARED ErrorCode = "CAPABILITY_UNDECLARED"
)

// Search index error codes
const (
	INDEX_NOT_MAPPED      ErrorCode = "INDEX_NOT_MAPPED"
	INDEX_WRITE_FAILED    ErrorCode = "INDEX_WRITE_FAILED"
	BULK_FLUSH_TIMEOUT    ErrorCode = "BULK_FLUSH_TIMEOUT"
	BULK_PARTIAL_FAILURE  ErrorCode = "BULK_PARTIAL_FAILURE"
	RETRY_ENQUEUE_SKIPPED ErrorCode = "RETRY_ENQUEUE_SKIPPED"
)

// Configuration error codes
const (
	CONFIG_LOAD_FAILED       ErrorCode = "CONFIG_LOAD_FAILED"
	CONFIG_VALIDATION_FAILED ErrorCode = "CONFIG_VALIDATION_FAILED"
)

// SyncError represents a structured error with error code, message, and
// optional cause. It supports error wrapping and retryability hints.
type SyncError struct {
	Code      ErrorCode
	Message   string
	Retryable bool
	Cause     error
}

// Error implements the error interface, returning a formatted error message.
// Format: "[CODE] message" or "[CODE] message: cause" if cause exists.
func (e *SyncError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error for error unwrapping chains.
func (e *SyncError) Unwrap() error {
	return e.Cause
}

// NewError creates a SyncError with the given code and message.
func NewError(code ErrorCode, message string) *SyncError {
	return &SyncError{Code: code, Message: message}
}

// WrapError creates a SyncError wrapping a cause.
func WrapError(code ErrorCode, message string, cause error) *SyncError {
	return &SyncError{Code: code, Message: message, Cause: cause}
}

// Retryable marks the error's retryability hint and returns it.
func (e *SyncError) WithRetryable(retryable bool) *SyncError {
	e.Retryable = retryable
	return e
}

// IsCode reports whether err carries the given error code anywhere in its
// unwrap chain.
func IsCode(err error, code ErrorCode) bool {
	var se *SyncError
	for errors.As(err, &se) {
		if se.Code == code {
			return true
		}
		err = se.Cause
		if err == nil {
			return false
		}
	}
	return false
}

// IsRetryable reports whether err is marked retryable.
func IsRetryable(err error) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}
