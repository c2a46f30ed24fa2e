// Package retry provides bounded retry with a fixed interval.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Policy defines retry behavior: at most MaxAttempts calls, Interval apart
type Policy struct {
	MaxAttempts int
	Interval    time.Duration

	// OnRetry is called after each failed attempt that will be retried
	OnRetry func(attempt int, err error, wait time.Duration)

	// sleep is replaceable in tests
	sleep func(ctx context.Context, d time.Duration) error
}

// Fixed returns a policy that waits the same interval between attempts
func Fixed(maxAttempts int, interval time.Duration) *Policy {
	return &Policy{
		MaxAttempts: maxAttempts,
		Interval:    interval,
	}
}

// ExhaustedError is returned when every attempt failed
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all %d attempts failed: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// Execute runs fn until it succeeds, the attempts are spent, or ctx ends.
// fn receives the 1-based attempt number.
func (p *Policy) Execute(ctx context.Context, fn func(attempt int) error) error {
	return p.ExecuteWithCondition(ctx, fn, func(error) bool { return true })
}

// ExecuteWithCondition runs fn with retry only while shouldRetry approves
// the error. A rejected error is returned as-is.
func (p *Policy) ExecuteWithCondition(ctx context.Context, fn func(attempt int) error, shouldRetry func(error) bool) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		if !shouldRetry(err) {
			return err
		}

		// Don't wait after the last attempt
		if attempt == attempts {
			break
		}

		wait := p.Interval
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, wait)
		}
		if err := p.wait(ctx, wait); err != nil {
			return fmt.Errorf("retry cancelled after %d attempts: %w", attempt, err)
		}
	}

	return &ExhaustedError{Attempts: attempts, Last: lastErr}
}

func (p *Policy) wait(ctx context.Context, d time.Duration) error {
	if p.sleep != nil {
		return p.sleep(ctx, d)
	}
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// WithSleep returns a copy of the policy using sleep instead of a timer
func (p *Policy) WithSleep(sleep func(ctx context.Context, d time.Duration) error) *Policy {
	clone := *p
	clone.sleep = sleep
	return &clone
}
