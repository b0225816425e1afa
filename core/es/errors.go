package es

import (
	"errors"
	"fmt"
)

var (
	ErrConcurrencyConflict  = errors.New("wrong expected version")
	ErrStreamDeleted        = errors.New("stream deleted")
	ErrInvalidTransaction   = errors.New("invalid transaction")
	ErrCorruptedIdempotency = errors.New("corrupted idempotency: batch differs from committed events")
	ErrIdempotentNotInsert  = errors.New("batch partially committed: resubmit the remainder")
	// ErrIndexDiverged means the log accepted a write the index could not record.
	// The affected stream is rebuilt from the log on next access.
	ErrIndexDiverged = errors.New("index diverged from log")
)

// TransientError marks a failure that left no state behind and can be retried
// with the same expected version.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient failure: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retryable. A nil err stays nil.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

// IsRetryable reports whether err is, or wraps, a TransientError.
func IsRetryable(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
