package coordinator

import (
	"errors"
	"time"
)

// RetryPolicy bounds how node I/O is retried: at most Attempts tries with an
// exponentially doubling delay starting at BaseDelay and capped at MaxDelay.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultRetryPolicy is three attempts starting at 100ms, capped at 2s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:  3,
		BaseDelay: 100 * time.Millisecond,
		MaxDelay:  2 * time.Second,
	}
}

// permanentError marks a failure retrying cannot fix, such as a file that
// does not exist.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// backoffAbort wraps err so withRetry stops immediately instead of burning
// the remaining attempts.
func backoffAbort(err error) error {
	return &permanentError{err: err}
}

// withRetry runs op until it succeeds, returns a permanent error, or the
// policy's attempts run out. The error handed back is the last one op
// produced, stripped of any permanent marker.
func withRetry(policy RetryPolicy, op func() error) error {
	attempts := policy.Attempts
	if attempts < 1 {
		attempts = 1
	}
	delay := policy.BaseDelay

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = op()
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if attempt == attempts {
			break
		}
		time.Sleep(delay)
		delay *= 2
		if policy.MaxDelay > 0 && delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}
	}
	return err
}
