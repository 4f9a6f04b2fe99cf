// Package retry implements predicate-gated polling with a constant delay.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"partnerflow/clock"
)

// ErrInvalidPolicy is returned when a Policy cannot be executed.
var ErrInvalidPolicy = errors.New("retry: invalid policy")

// Policy bounds a polling loop. Delay is constant between attempts; there
// is no exponential growth.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
}

// Validate reports whether the policy can be executed.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("%w: max attempts %d < 1", ErrInvalidPolicy, p.MaxAttempts)
	}
	if p.Delay < 0 {
		return fmt.Errorf("%w: negative delay %s", ErrInvalidPolicy, p.Delay)
	}
	return nil
}

// Poll calls read until acceptable returns true for its result or
// p.MaxAttempts reads have been made. It sleeps p.Delay between attempts,
// never before the first one.
//
// When no result is acceptable, the last result is returned with a nil
// error and the caller decides what exhaustion means. An error from a
// non-final read is dropped and the loop continues; an error from the
// final read is returned.
func Poll[R any](ctx context.Context, clk clock.Clock, p Policy, read func(context.Context) (R, error), acceptable func(R) bool) (R, error) {
	var zero R
	if err := p.Validate(); err != nil {
		return zero, err
	}

	for attempt := 1; ; attempt++ {
		result, err := read(ctx)
		if err == nil && acceptable(result) {
			return result, nil
		}
		if attempt == p.MaxAttempts {
			if err != nil {
				return zero, &AttemptError{Attempt: attempt, Err: err}
			}
			return result, nil
		}
		if err := Sleep(ctx, clk, p.Delay); err != nil {
			return zero, err
		}
	}
}

// Sleep waits d on clk, returning early with ctx.Err() if ctx ends first.
func Sleep(ctx context.Context, clk clock.Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-clk.After(d):
		return nil
	}
}

// AttemptError wraps the error of the final attempt.
type AttemptError struct {
	Attempt int
	Err     error
}

func (e *AttemptError) Error() string {
	return fmt.Sprintf("retry: attempt %d failed: %v", e.Attempt, e.Err)
}

func (e *AttemptError) Unwrap() error { return e.Err }
