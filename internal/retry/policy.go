// Package retry holds the backoff policy shared by the judgment client and the
// pipeline engine.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// Policy bounds how many times an operation runs and how long to wait between
// attempts. Delay for attempt n (1-based) is BaseDelay * 2^(n-1), capped at
// MaxDelay, then spread by up to ±Jitter of itself.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64

	// Sleep overrides how waits are performed (tests).
	Sleep func(context.Context, time.Duration) error
}

// Attempts returns the effective attempt budget (at least one).
func (p Policy) Attempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

// Backoff returns the wait before the attempt following attempt n.
func (p Policy) Backoff(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	if attempt <= 0 {
		attempt = 1
	}
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		if p.MaxDelay > 0 && delay > p.MaxDelay/2 {
			delay = p.MaxDelay
			break
		}
		delay *= 2
	}
	delay = p.Cap(delay)
	if p.Jitter > 0 {
		spread := float64(delay) * p.Jitter
		delay += time.Duration((rand.Float64()*2 - 1) * spread)
		if delay < 0 {
			delay = 0
		}
	}
	return delay
}

// Cap clamps delay to MaxDelay when one is set.
func (p Policy) Cap(delay time.Duration) time.Duration {
	if delay < 0 {
		return 0
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// Wait sleeps for delay or until ctx is done.
func (p Policy) Wait(ctx context.Context, delay time.Duration) error {
	if ctx == nil {
		return errors.New("retry wait: nil context")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if delay <= 0 {
		return nil
	}
	if p.Sleep != nil {
		if err := p.Sleep(ctx, delay); err != nil {
			return err
		}
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Decision is returned by a Do callback to steer the loop.
type Decision struct {
	Retry bool
	// Delay overrides the computed backoff when positive (e.g. Retry-After).
	Delay time.Duration
}

// Do runs fn until it succeeds, asks not to be retried, or the attempt budget
// is spent. It returns the last error and the number of attempts made.
// Caller cancellation is never retried.
func (p Policy) Do(ctx context.Context, fn func(attempt int) (Decision, error)) (int, error) {
	attempts := p.Attempts()
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		decision, err := fn(attempt)
		if err == nil {
			return attempt, nil
		}
		lastErr = err
		if !decision.Retry || attempt == attempts {
			return attempt, lastErr
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return attempt, lastErr
		}
		if errors.Is(err, context.Canceled) {
			return attempt, lastErr
		}
		delay := p.Backoff(attempt)
		if decision.Delay > 0 {
			delay = p.Cap(decision.Delay)
		}
		if err := p.Wait(ctx, delay); err != nil {
			return attempt, lastErr
		}
	}
	return attempts, lastErr
}
