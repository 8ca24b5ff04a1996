// Package retry runs an operation again after transient failures, waiting
// exponentially longer between attempts.
package retry

import (
	"context"
	"fmt"
	"log"
	"math/rand/v2"
	"time"
)

// Policy describes how often and how patiently to retry.
type Policy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	AttemptTimeout time.Duration
	MaxJitter      time.Duration
}

var DefaultPolicy = Policy{
	MaxAttempts:    3,
	BaseDelay:      2 * time.Second,
	AttemptTimeout: 30 * time.Second,
	MaxJitter:      time.Second,
}

// Backoff returns the wait before the attempt following attempt n (1-based).
func (p Policy) Backoff(n int, jitter time.Duration) time.Duration {
	if n < 1 {
		n = 1
	}
	return p.BaseDelay*time.Duration(1<<uint(n-1)) + jitter
}

// Error is returned once every attempt failed.
type Error struct {
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

type Executor struct {
	Policy Policy
	Logger *log.Logger

	// Sleep waits d or until ctx ends.
	Sleep func(ctx context.Context, d time.Duration) error
	// Jitter draws the random part of each backoff.
	Jitter func(max time.Duration) time.Duration
}

func New(p Policy, logger *log.Logger) *Executor {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Executor{
		Policy: p,
		Logger: logger,
		Sleep:  sleep,
		Jitter: jitter,
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func jitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return rand.N(max)
}

// Do calls op until it succeeds, the attempts run out or ctx ends. Each call
// gets its own context bounded by AttemptTimeout; an attempt that times out
// counts as a failure and is retried. Cancellation of ctx itself stops
// immediately and is reported as the returned error's cause.
func Do[T any](ctx context.Context, e *Executor, name string, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 1; attempt <= e.Policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, cancelled(err, attempt-1, lastErr)
		}

		v, err := runAttempt(ctx, e.Policy.AttemptTimeout, op)
		if err == nil {
			if attempt > 1 {
				e.Logger.Printf("[RETRY] %s succeeded on attempt %d", name, attempt)
			}
			return v, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, cancelled(ctx.Err(), attempt, lastErr)
		}
		if attempt == e.Policy.MaxAttempts {
			break
		}

		wait := e.Policy.Backoff(attempt, e.Jitter(e.Policy.MaxJitter))
		e.Logger.Printf("[RETRY] %s attempt %d/%d failed: %v (next in %s)", name, attempt, e.Policy.MaxAttempts, err, wait.Round(time.Millisecond))
		if err := e.Sleep(ctx, wait); err != nil {
			return zero, cancelled(err, attempt, lastErr)
		}
	}
	e.Logger.Printf("[RETRY] %s failed after %d attempts: %v", name, e.Policy.MaxAttempts, lastErr)
	return zero, &Error{Attempts: e.Policy.MaxAttempts, Err: lastErr}
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, op func(ctx context.Context) (T, error)) (T, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return op(ctx)
}

func cancelled(cause error, attempts int, last error) error {
	if last == nil {
		return cause
	}
	return fmt.Errorf("%w after %d attempts: %v", cause, attempts, last)
}
