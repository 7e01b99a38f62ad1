package backoff

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/reqgraph/backend/pkg/logger"
	"github.com/reqgraph/backend/pkg/logger/memory"
)

var (
	errTransient = errors.New("service unavailable")
	errPermanent = errors.New("syntax error")
)

func isTransient(err error) bool { return errors.Is(err, errTransient) }

// recordingSleeper records requested delays instead of sleeping.
type recordingSleeper struct {
	delays []time.Duration
}

func (r *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return ctx.Err()
}

func newTestExecutor(t *testing.T, p Policy) (*Executor, *recordingSleeper) {
	t.Helper()
	rs := &recordingSleeper{}
	e, err := New(p, isTransient, WithSleeper(rs.sleep))
	if err != nil {
		t.Fatalf("expected valid policy, got %v", err)
	}
	return e, rs
}

func TestDo_SuccessImmediate(t *testing.T) {
	e, rs := newTestExecutor(t, DefaultPolicy)
	calls := 0
	result, err := Do(context.Background(), e, "op", func(context.Context) (int, error) {
		calls++
		return 42, nil
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if result != 42 {
		t.Fatalf("expected 42, got %d", result)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
	if len(rs.delays) != 0 {
		t.Fatalf("expected no sleeps, got %v", rs.delays)
	}
}

func TestDo_SucceedsOnThirdAttempt(t *testing.T) {
	e, rs := newTestExecutor(t, Policy{MaxAttempts: 3, Delay: time.Second, Factor: 2.0})
	calls := 0
	result, err := Do(context.Background(), e, "op", func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errTransient
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if result != "ok" {
		t.Fatalf("expected ok, got %s", result)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if !reflect.DeepEqual(rs.delays, want) {
		t.Fatalf("expected delays %v, got %v", want, rs.delays)
	}
}

func TestDo_ExhaustsAfterMaxAttempts(t *testing.T) {
	e, rs := newTestExecutor(t, Policy{MaxAttempts: 3, Delay: time.Second, Factor: 2.0})
	calls := 0
	_, err := Do(context.Background(), e, "import", func(context.Context) (int, error) {
		calls++
		return 0, errTransient
	})
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("expected retries exhausted, got %v", err)
	}
	if !errors.Is(err, errTransient) {
		t.Fatalf("expected exhausted error to wrap the last cause, got %v", err)
	}
	var ex *ExhaustedError
	if !errors.As(err, &ex) {
		t.Fatalf("expected *ExhaustedError, got %T", err)
	}
	if ex.Attempts != 3 || ex.Op != "import" {
		t.Fatalf("unexpected exhausted error: %+v", ex)
	}
	if errors.Is(err, ErrCanceled) || errors.Is(err, ErrTimeout) {
		t.Fatalf("exhaustion must not look like an interruption: %v", err)
	}
	var total time.Duration
	for _, d := range rs.delays {
		total += d
	}
	if total != 3*time.Second {
		t.Fatalf("expected 3s of total backoff, got %v", total)
	}
}

func TestDo_NonTransientPropagatesUnchanged(t *testing.T) {
	e, rs := newTestExecutor(t, DefaultPolicy)
	calls := 0
	_, err := Do(context.Background(), e, "op", func(context.Context) (int, error) {
		calls++
		return 0, errPermanent
	})
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
	if err != errPermanent {
		t.Fatalf("expected the original error, got %v", err)
	}
	if len(rs.delays) != 0 {
		t.Fatalf("expected no sleeps, got %v", rs.delays)
	}
}

func TestDo_FactorOneIsLinear(t *testing.T) {
	e, rs := newTestExecutor(t, Policy{MaxAttempts: 4, Delay: 250 * time.Millisecond, Factor: 1})
	_, _ = Do(context.Background(), e, "op", func(context.Context) (int, error) {
		return 0, errTransient
	})
	want := []time.Duration{250 * time.Millisecond, 250 * time.Millisecond, 250 * time.Millisecond}
	if !reflect.DeepEqual(rs.delays, want) {
		t.Fatalf("expected delays %v, got %v", want, rs.delays)
	}
}

func TestDo_MaxDelayCapsSleep(t *testing.T) {
	e, rs := newTestExecutor(t, Policy{MaxAttempts: 5, Delay: time.Second, Factor: 3, MaxDelay: 5 * time.Second})
	_, _ = Do(context.Background(), e, "op", func(context.Context) (int, error) {
		return 0, errTransient
	})
	want := []time.Duration{time.Second, 3 * time.Second, 5 * time.Second, 5 * time.Second}
	if !reflect.DeepEqual(rs.delays, want) {
		t.Fatalf("expected delays %v, got %v", want, rs.delays)
	}
}

func TestDo_CanceledBeforeFirstAttempt(t *testing.T) {
	e, _ := newTestExecutor(t, DefaultPolicy)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := Do(ctx, e, "op", func(context.Context) (int, error) {
		calls++
		return 0, nil
	})
	if calls != 0 {
		t.Fatalf("expected 0 calls due to immediate cancellation, got %d", calls)
	}
	if !errors.Is(err, ErrCanceled) {
		t.Fatalf("expected ErrCanceled, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected the context cause to be kept, got %v", err)
	}
	if errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("cancellation must not look like exhaustion: %v", err)
	}
}

func TestDo_CanceledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e, err := New(Policy{MaxAttempts: 5, Delay: time.Hour, Factor: 2}, isTransient)
	if err != nil {
		t.Fatalf("expected valid policy, got %v", err)
	}

	calls := 0
	done := make(chan error, 1)
	go func() {
		_, err := Do(ctx, e, "op", func(context.Context) (int, error) {
			calls++
			cancel()
			return 0, errTransient
		})
		done <- err
	}()

	select {
	case err := <-done:
		if !errors.Is(err, ErrCanceled) {
			t.Fatalf("expected ErrCanceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("backoff sleep did not observe cancellation")
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestDo_DeadlineSurfacesTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	e, err := New(Policy{MaxAttempts: 100, Delay: 5 * time.Millisecond, Factor: 1}, isTransient)
	if err != nil {
		t.Fatalf("expected valid policy, got %v", err)
	}

	calls := 0
	_, err = Do(ctx, e, "op", func(context.Context) (int, error) {
		calls++
		return 0, errTransient
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if errors.Is(err, ErrCanceled) || errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("timeout must be distinct, got %v", err)
	}
	if calls == 0 {
		t.Fatal("expected at least 1 call before deadline")
	}
}

func TestRun_ReturnsNilOnSuccess(t *testing.T) {
	e, _ := newTestExecutor(t, DefaultPolicy)
	calls := 0
	err := e.Run(context.Background(), "op", func(context.Context) error {
		calls++
		if calls == 1 {
			return errTransient
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestNew_RejectsInvalidPolicies(t *testing.T) {
	tests := []struct {
		name   string
		policy Policy
	}{
		{name: "zero attempts", policy: Policy{MaxAttempts: 0, Delay: time.Second, Factor: 2}},
		{name: "negative delay", policy: Policy{MaxAttempts: 3, Delay: -time.Second, Factor: 2}},
		{name: "factor below one", policy: Policy{MaxAttempts: 3, Delay: time.Second, Factor: 0.5}},
		{name: "negative max delay", policy: Policy{MaxAttempts: 3, Delay: time.Second, Factor: 2, MaxDelay: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.policy, nil)
			if !errors.Is(err, ErrInvalidPolicy) {
				t.Fatalf("expected ErrInvalidPolicy, got %v", err)
			}
		})
	}
}

func TestNew_KeepsPolicy(t *testing.T) {
	p := Policy{MaxAttempts: 4, Delay: 10 * time.Millisecond, Factor: 1.5, MaxDelay: time.Second}
	e, err := New(p, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if e.Policy() != p {
		t.Fatalf("expected %+v, got %+v", p, e.Policy())
	}
}

func TestDo_LogsRetriesAndExhaustion(t *testing.T) {
	mem := memory.NewMemoryLogger()
	logger.Init(mem)
	t.Cleanup(func() { logger.Init() })

	e, _ := newTestExecutor(t, Policy{MaxAttempts: 3, Delay: time.Millisecond, Factor: 2})
	_, _ = Do(context.Background(), e, "find_conflicts", func(context.Context) (int, error) {
		return 0, errTransient
	})

	retries := mem.Matching("warn", "retrying")
	if len(retries) != 2 {
		t.Fatalf("expected 2 retry log entries, got %d", len(retries))
	}
	if retries[0].Field("attempt") != "1" || retries[1].Field("attempt") != "2" {
		t.Fatalf("unexpected attempt numbers: %v, %v", retries[0].Fields, retries[1].Fields)
	}
	if retries[0].Field("op") != "find_conflicts" {
		t.Fatalf("expected op to be logged, got %v", retries[0].Fields)
	}
	exhausted := mem.Matching("error", "exhausted")
	if len(exhausted) != 1 {
		t.Fatalf("expected 1 exhaustion log entry, got %d", len(exhausted))
	}
	if exhausted[0].Field("err") != errTransient.Error() {
		t.Fatalf("expected cause to be logged, got %v", exhausted[0].Fields)
	}
}
