// Package common defines sentinel errors and error classification shared by
// the repositories, services and the sync drain. Callers should use errors.Is
// and errors.As to match these values.
package common

import (
	"errors"
	"fmt"
)

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")
	ErrStale    = errors.New("record changed since it was read")

	// Validation errors. These are rejected immediately and never queued.
	ErrLocked            = errors.New("Job is locked and cannot be modified")
	ErrAlreadyLocked     = errors.New("job is already completed and locked")
	ErrAlreadyStarted    = errors.New("job is already started")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrInvalidState      = errors.New("invalid state")
	ErrNotADraft         = errors.New("message is not a draft")
	ErrAlreadySynced     = errors.New("message is already synced")

	// Dispatch errors.
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrUnknownOperation   = errors.New("unknown sync operation")

	// Conflict lifecycle errors.
	ErrAlreadyResolved = errors.New("conflict is already resolved")

	// Payload errors.
	ErrUnsupportedVersion = errors.New("unsupported payload version")
)

// RetryableError wraps transient failures (network, timeout) that leave the
// queue entry eligible for another attempt.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError marks err as transient.
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err (or anything it wraps) is a RetryableError.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// ConflictError is returned by sync endpoints when the server state diverged
// from what the device assumed. Type is one of the models.ConflictType values
// and Server carries the server-side snapshot as JSON.
type ConflictError struct {
	Type   string
	Server []byte
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("sync conflict: %s", e.Type)
}

// AsConflict extracts a ConflictError from err.
func AsConflict(err error) (*ConflictError, bool) {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// CanContinue reports whether the offline flow may go on after err: either
// nothing failed or the failure is transient and the entry will be retried.
func CanContinue(err error) bool {
	return err == nil || IsRetryable(err)
}
