package resilience

import (
	"context"
	"fmt"
	"time"
)

// RetryHook is called before every retry with the attempt that just failed.
type RetryHook func(attempt int, err error, delay time.Duration)

// Retry executes fn until it succeeds, returns a permanent error, the
// policy's attempts run out, or ctx is cancelled.
//
// fn must return nil on success.
func Retry(ctx context.Context, policy Policy, fn func(context.Context) error, hooks ...RetryHook) error {
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; ; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if err != nil {
				return fmt.Errorf("%w: %w", ctxErr, err)
			}
			return ctxErr
		}

		err = fn(ctx)
		if err == nil {
			return nil
		}

		if !IsTransient(err) {
			return err
		}

		if attempt >= attempts {
			return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempt, err)
		}

		delay := policy.delay(attempt)
		for _, hook := range hooks {
			hook(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %w", ctx.Err(), err)
		}
	}
}
