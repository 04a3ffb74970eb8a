package errors

import (
	"context"
	"math/rand/v2"
	"time"
)

// RetryConfig bounds how often a failed save operation is attempted.
type RetryConfig struct {
	// MaxAttempts counts the first attempt. Values below 1 mean one attempt.
	MaxAttempts int

	// InitialBackoff is the wait after the first failure.
	InitialBackoff time.Duration

	// MaxBackoff caps the wait between attempts.
	MaxBackoff time.Duration

	// BackoffFactor multiplies the wait after each failure.
	BackoffFactor float64

	// Jitter spreads each wait by up to this fraction in either direction.
	Jitter float64

	// Retryable overrides IsRetryable when set.
	Retryable func(error) bool
}

// DefaultRetry is used for bookmark and flush I/O. Save files are local, so
// backoffs stay short enough to run between two dialogue steps.
var DefaultRetry = RetryConfig{
	MaxAttempts:    3,
	InitialBackoff: 10 * time.Millisecond,
	MaxBackoff:     200 * time.Millisecond,
	BackoffFactor:  2.0,
	Jitter:         0.1,
}

// NoRetry runs an operation exactly once.
var NoRetry = RetryConfig{MaxAttempts: 1}

// Backoff returns the wait before attempt n (n >= 1, the first retry),
// without jitter.
func (c RetryConfig) Backoff(n int) time.Duration {
	d := c.InitialBackoff
	for i := 1; i < n; i++ {
		d = time.Duration(float64(d) * c.BackoffFactor)
		if c.MaxBackoff > 0 && d > c.MaxBackoff {
			return c.MaxBackoff
		}
	}
	return d
}

// Do runs fn until it succeeds, fails with an error that is not retryable,
// runs out of attempts or ctx is done. A failure is returned as a
// *CategorizedError recording how many attempts were made.
func Do(ctx context.Context, cfg RetryConfig, fn func(context.Context) error) error {
	retryable := cfg.Retryable
	if retryable == nil {
		retryable = IsRetryable
	}
	attempts := max(cfg.MaxAttempts, 1)

	var err error
	for n := 1; n <= attempts; n++ {
		if cerr := ctx.Err(); cerr != nil {
			return &CategorizedError{Err: cerr, Category: CategoryRetryable, Retries: n - 1, Context: "context done"}
		}
		if err = fn(ctx); err == nil {
			return nil
		}
		if !retryable(err) {
			return &CategorizedError{Err: err, Category: Categorize(err), Retries: n}
		}
		if n == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return &CategorizedError{Err: ctx.Err(), Category: CategoryRetryable, Retries: n, Context: "context done during backoff"}
		case <-time.After(jittered(cfg.Backoff(n), cfg.Jitter)):
		}
	}
	return &CategorizedError{Err: err, Category: Categorize(err), Retries: attempts, Context: "retries exhausted"}
}

func jittered(d time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return d
	}
	return time.Duration(float64(d) * (1 + jitter*(rand.Float64()*2-1)))
}
