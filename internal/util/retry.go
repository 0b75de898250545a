package util

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
)

// Backoff describes an exponential delay schedule between attempts.
// Zero fields fall back to DefaultBackoff values.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
}

// DefaultBackoff is the schedule used for external service calls.
var DefaultBackoff = Backoff{
	Initial: 500 * time.Millisecond,
	Max:     8 * time.Second,
}

// Schedule returns a fresh delay sequence: the first wait is Initial, every
// further wait doubles, capped at Max. The sequence never stops on its own;
// bound it with retry.WithMaxRetries.
func (b Backoff) Schedule() retry.Backoff {
	initial, maxDelay := b.Initial, b.Max
	if initial <= 0 {
		initial = DefaultBackoff.Initial
	}
	if maxDelay <= 0 {
		maxDelay = DefaultBackoff.Max
	}
	return retry.WithCappedDuration(maxDelay, retry.NewExponential(initial))
}

// IsContextError reports whether err stems from cancellation or a deadline.
func IsContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// RetryWithContext calls fn up to maxTries times until it returns a nil error,
// or until ctx is done. If maxTries <= 0, it defaults to 1.
// Returns ctx.Err() if the context is canceled, otherwise returns the last error.
func RetryWithContext[T any](ctx context.Context, maxTries int, fn func(context.Context) (T, error)) (T, error) {
	immediate := retry.BackoffFunc(func() (time.Duration, bool) { return 0, false })
	return retryDo(ctx, maxTries, immediate, fn)
}

// RetryWithBackoff is RetryWithContext waiting on the backoff schedule
// between attempts.
func RetryWithBackoff[T any](ctx context.Context, maxTries int, backoff Backoff, fn func(context.Context) (T, error)) (T, error) {
	return retryDo(ctx, maxTries, backoff.Schedule(), fn)
}

func retryDo[T any](ctx context.Context, maxTries int, delays retry.Backoff, fn func(context.Context) (T, error)) (T, error) {
	if maxTries <= 0 {
		maxTries = 1
	}
	var result T
	if err := ctx.Err(); err != nil {
		return result, err
	}
	err := retry.Do(ctx, retry.WithMaxRetries(uint64(maxTries-1), delays), func(ctx context.Context) error {
		res, err := fn(ctx)
		if err == nil {
			result = res
			return nil
		}
		if IsContextError(err) {
			return err
		}
		return retry.RetryableError(err)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
