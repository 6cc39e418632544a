package services

import (
	"errors"
	"fmt"
)

// ErrRateNotFound signals that no applicable exchange rate exists for a
// non-identity currency pair. Background sync paths treat it as soft: log,
// keep the unconverted amount, continue.
var ErrRateNotFound = errors.New("exchange rate not found")

// ValidationError reports a malformed or contradictory field combination.
// Non-retryable, surfaced to the caller.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func newValidationError(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ConflictError reports a uniqueness violation, most commonly a duplicate
// (accountId, originalId) ingestion.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	return e.Message
}

// NotFoundError reports a missing referenced entity.
type NotFoundError struct {
	Resource string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found", e.Resource)
}

// StorageError wraps an opaque storage-layer failure after rollback.
type StorageError struct {
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure: %v", e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
