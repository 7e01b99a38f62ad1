// Package backoff retries fallible operations with bounded exponential
// backoff. Failures are split into transient ones, which are retried, and
// permanent ones, which are returned to the caller after a single attempt.
package backoff

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/reqgraph/backend/pkg/logger"
)

// Policy bounds a retry loop.
//
// Sleeps only happen between attempts, so an operation that fails every
// attempt sleeps Delay*(Factor^(MaxAttempts-1)-1)/(Factor-1) in total, or
// Delay*(MaxAttempts-1) when Factor is 1. MaxDelay caps a single sleep when
// non-zero.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
	Factor      float64
	MaxDelay    time.Duration
}

// DefaultPolicy is the policy every graph operation runs under unless configured otherwise.
var DefaultPolicy = Policy{
	MaxAttempts: 3,
	Delay:       time.Second,
	Factor:      2.0,
}

// Validate reports the first out-of-range field as ErrInvalidPolicy.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("%w: max attempts must be >= 1, got %d", ErrInvalidPolicy, p.MaxAttempts)
	}
	if p.Delay < 0 {
		return fmt.Errorf("%w: delay must be >= 0, got %s", ErrInvalidPolicy, p.Delay)
	}
	if p.Factor < 1 || math.IsNaN(p.Factor) || math.IsInf(p.Factor, 0) {
		return fmt.Errorf("%w: backoff factor must be >= 1, got %v", ErrInvalidPolicy, p.Factor)
	}
	if p.MaxDelay < 0 {
		return fmt.Errorf("%w: max delay must be >= 0, got %s", ErrInvalidPolicy, p.MaxDelay)
	}
	return nil
}

// Classifier reports whether err is transient and worth another attempt.
type Classifier func(err error) bool

// Always treats every error as transient.
func Always(error) bool { return true }

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Executor applies a Policy to operations. It is safe for concurrent use;
// every call keeps its own delay state.
type Executor struct {
	policy    Policy
	transient Classifier
	sleep     Sleeper
}

type Option func(*Executor)

// WithSleeper replaces the timer-based sleep, mostly for tests.
func WithSleeper(s Sleeper) Option {
	return func(e *Executor) {
		if s != nil {
			e.sleep = s
		}
	}
}

// New validates the policy and returns an executor. A nil classifier
// retries every error.
func New(policy Policy, transient Classifier, opts ...Option) (*Executor, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if transient == nil {
		transient = Always
	}
	e := &Executor{
		policy:    policy,
		transient: transient,
		sleep:     sleepContext,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(e)
	}
	return e, nil
}

// MustNew is New for package-level defaults with constant policies.
func MustNew(policy Policy, transient Classifier, opts ...Option) *Executor {
	e, err := New(policy, transient, opts...)
	if err != nil {
		panic(err)
	}
	return e
}

// Policy returns the policy the executor was built with.
func (e *Executor) Policy() Policy { return e.policy }

// Run executes fn under the executor's policy.
func (e *Executor) Run(ctx context.Context, op string, fn func(context.Context) error) error {
	_, err := Do(ctx, e, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Do calls fn until it succeeds, fails with a non-transient error, or the
// attempt bound is reached. Non-transient errors are returned unchanged.
// Cancellation and deadline expiry observed before an attempt or during a
// sleep surface as ErrCanceled and ErrTimeout respectively.
func Do[T any](ctx context.Context, e *Executor, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	delay := e.policy.Delay
	var lastErr error

	for attempt := 1; attempt <= e.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, interrupted(op, err)
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if isContextErr(err) && ctx.Err() != nil {
			return zero, interrupted(op, ctx.Err())
		}
		if !e.transient(err) {
			return zero, err
		}
		lastErr = err

		if attempt == e.policy.MaxAttempts {
			logger.Error(
				"[Backoff] Retries exhausted",
				"op", op,
				"attempt", attempt,
				"max_attempts", e.policy.MaxAttempts,
				"err", err,
			)
			break
		}

		logger.Warn(
			"[Backoff] Transient failure, retrying",
			"op", op,
			"attempt", attempt,
			"max_attempts", e.policy.MaxAttempts,
			"next_delay", delay,
			"err", err,
		)

		if err := e.sleep(ctx, delay); err != nil {
			return zero, interrupted(op, err)
		}
		delay = e.next(delay)
	}

	return zero, &ExhaustedError{Op: op, Attempts: e.policy.MaxAttempts, Err: lastErr}
}

func (e *Executor) next(d time.Duration) time.Duration {
	n := time.Duration(float64(d) * e.policy.Factor)
	if n < d {
		// overflow
		n = time.Duration(math.MaxInt64)
	}
	if e.policy.MaxDelay > 0 && n > e.policy.MaxDelay {
		return e.policy.MaxDelay
	}
	return n
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func interrupted(op string, cause error) error {
	kind := ErrCanceled
	if errors.Is(cause, context.DeadlineExceeded) {
		kind = ErrTimeout
	}
	return &interruptError{kind: kind, op: op, cause: cause}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
