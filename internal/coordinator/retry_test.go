package coordinator

import (
	"errors"
	"testing"
	"time"
)

func TestWithRetryEventualSuccess(t *testing.T) {
	policy := RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond}

	calls := 0
	err := withRetry(policy, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("withRetry failed: %v", err)
	}
	if calls != 3 {
		t.Errorf("op ran %d times, want 3", calls)
	}
}

func TestWithRetryExhaustsAttempts(t *testing.T) {
	policy := RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond}
	sentinel := errors.New("still broken")

	calls := 0
	err := withRetry(policy, func() error {
		calls++
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Errorf("got %v, want the last error", err)
	}
	if calls != 3 {
		t.Errorf("op ran %d times, want 3", calls)
	}
}

func TestWithRetryPermanentErrorStopsEarly(t *testing.T) {
	policy := RetryPolicy{Attempts: 5, BaseDelay: time.Millisecond}
	sentinel := errors.New("gone for good")

	calls := 0
	err := withRetry(policy, func() error {
		calls++
		return backoffAbort(sentinel)
	})
	if !errors.Is(err, sentinel) {
		t.Errorf("got %v, want the wrapped error", err)
	}
	if calls != 1 {
		t.Errorf("op ran %d times, want 1", calls)
	}

	// The permanent marker must not leak to callers.
	var perm *permanentError
	if errors.As(err, &perm) {
		t.Errorf("permanent marker leaked through withRetry")
	}
}

func TestWithRetryZeroAttemptsStillRunsOnce(t *testing.T) {
	calls := 0
	err := withRetry(RetryPolicy{}, func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("withRetry failed: %v", err)
	}
	if calls != 1 {
		t.Errorf("op ran %d times, want 1", calls)
	}
}

func TestModuloAssigner(t *testing.T) {
	nodes := []string{"a", "b", "c"}
	assigner := ModuloAssigner{}

	for index, want := range []string{"a", "b", "c", "a", "b"} {
		if got := assigner.Assign("obj", index, 5, nodes); got != want {
			t.Errorf("Assign(index=%d) = %s, want %s", index, got, want)
		}
	}
}
