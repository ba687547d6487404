package engine

import (
	"errors"
	"fmt"
)

// ProcessErrorCode categorizes failures of the mutation path. Rejections
// (schema, unknown project, no-op) are not errors and are carried on the
// Outcome instead; these codes cover the cases where the event remains
// unprocessed.
type ProcessErrorCode string

const (
	// ErrCodeRetryableConflict means two writers collided on the same
	// sequence number and the single retry collided again. The event is
	// safe to resubmit.
	ErrCodeRetryableConflict ProcessErrorCode = "RETRYABLE_CONFLICT"

	// ErrCodeStorageFailure means the transaction could not commit. No
	// partial state exists; the event is safe to retry later.
	ErrCodeStorageFailure ProcessErrorCode = "STORAGE_FAILURE"

	// ErrCodeEngineStopped means the run loop is no longer accepting
	// submissions.
	ErrCodeEngineStopped ProcessErrorCode = "ENGINE_STOPPED"
)

// ProcessError is a failure of the mutation path for one source event.
type ProcessError struct {
	Code    ProcessErrorCode
	Message string
	EventID string
	Err     error
}

// Error implements the error interface.
func (e *ProcessError) Error() string {
	if e.EventID != "" {
		return fmt.Sprintf("%s: %s (event=%s)", e.Code, e.Message, e.EventID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}

// IsRetryableConflict returns true for sequence-collision failures.
// Uses errors.As to handle wrapped errors.
func IsRetryableConflict(err error) bool {
	var pe *ProcessError
	if errors.As(err, &pe) {
		return pe.Code == ErrCodeRetryableConflict
	}
	return false
}

// IsStorageFailure returns true for transaction-commit failures.
func IsStorageFailure(err error) bool {
	var pe *ProcessError
	if errors.As(err, &pe) {
		return pe.Code == ErrCodeStorageFailure
	}
	return false
}

func newRetryableConflict(eventID string, err error) *ProcessError {
	return &ProcessError{
		Code:    ErrCodeRetryableConflict,
		Message: "sequence number collision persisted through retry",
		EventID: eventID,
		Err:     err,
	}
}

func newStorageFailure(eventID string, err error) *ProcessError {
	return &ProcessError{
		Code:    ErrCodeStorageFailure,
		Message: "transaction could not commit",
		EventID: eventID,
		Err:     err,
	}
}
