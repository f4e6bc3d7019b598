package analytics

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrStoreClosed is returned by stores that have been disconnected
	ErrStoreClosed = errors.New("event store is closed")
	// ErrDuplicateEvent is returned when an event id is already stored
	ErrDuplicateEvent = errors.New("event already exists")
)

// ValidationError reports malformed ingestion input. Nothing is persisted
// when one is returned; the caller may retry with corrected input.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// PersistenceError reports that the underlying store was unreachable, timed
// out, or failed during an append or scan. It is retryable by the caller.
type PersistenceError struct {
	Op      string
	Timeout bool
	Err     error
}

func (e *PersistenceError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s: store timed out: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: store failure: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// IsValidationError reports whether err carries a ValidationError
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsPersistenceError reports whether err carries a PersistenceError
func IsPersistenceError(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}

// IsTimeout reports whether err is a PersistenceError caused by a deadline
func IsTimeout(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe) && pe.Timeout
}

// persistenceError wraps a store failure for op. Errors that already carry a
// PersistenceError are returned untouched so the original op is preserved.
func persistenceError(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{
		Op:      op,
		Timeout: errors.Is(err, context.DeadlineExceeded),
		Err:     err,
	}
}
