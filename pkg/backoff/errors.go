package backoff

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidPolicy is returned by New for out-of-range policy values.
	ErrInvalidPolicy = errors.New("invalid backoff policy")
	// ErrRetriesExhausted matches every *ExhaustedError.
	ErrRetriesExhausted = errors.New("retries exhausted")
	// ErrCanceled is returned when the caller cancels before or between attempts.
	ErrCanceled = errors.New("operation canceled")
	// ErrTimeout is returned when the caller's deadline expires before or between attempts.
	ErrTimeout = errors.New("operation timed out")
)

// ExhaustedError wraps the last transient failure once the attempt bound is reached.
type ExhaustedError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

func (e *ExhaustedError) Is(target error) bool { return target == ErrRetriesExhausted }

// interruptError carries the context cause alongside ErrCanceled/ErrTimeout so
// that errors.Is works against both.
type interruptError struct {
	kind  error
	op    string
	cause error
}

func (e *interruptError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.op, e.kind, e.cause)
}

func (e *interruptError) Unwrap() []error { return []error{e.kind, e.cause} }
