// Package retry runs an operation a bounded number of times with an optional
// recovery step between attempts.
package retry

import (
	"context"
	"errors"
	"time"
)

// Policy controls how Do retries
type Policy struct {
	// MaxAttempts is the total number of tries, including the first one.
	// Values below 1 are treated as 1.
	MaxAttempts int

	// Delay is multiplied by the attempt number before the next try
	Delay time.Duration

	// Recover runs between a failed attempt and the next one. A recovery
	// error is returned to the next attempt's caller only if that attempt
	// also fails.
	Recover func(ctx context.Context, attempt int, err error) error

	// OnRetry is called for every failed attempt that will be retried
	OnRetry func(attempt int, err error)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Do returns it unwrapped.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Do calls fn until it succeeds, returns a permanent error, the context is
// done or the attempts are exhausted. It returns the number of attempts made
// and the last error.
func Do(ctx context.Context, policy Policy, fn func(ctx context.Context, attempt int) error) (int, error) {
	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr, recoverErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return attempt - 1, lastErr
			}
			return attempt - 1, err
		}

		err := fn(ctx, attempt)
		if err == nil {
			return attempt, nil
		}

		var p *permanentError
		if errors.As(err, &p) {
			return attempt, p.err
		}
		lastErr = err
		if recoverErr != nil {
			lastErr = errors.Join(err, recoverErr)
		}

		if attempt == maxAttempts {
			break
		}

		if policy.OnRetry != nil {
			policy.OnRetry(attempt, err)
		}

		if policy.Delay > 0 {
			timer := time.NewTimer(time.Duration(attempt) * policy.Delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return attempt, lastErr
			case <-timer.C:
			}
		}

		recoverErr = nil
		if policy.Recover != nil {
			recoverErr = policy.Recover(ctx, attempt, err)
		}
	}

	return maxAttempts, lastErr
}
