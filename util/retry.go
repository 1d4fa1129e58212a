package util

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
)

const (
	// DefaultRetries is the number of attempts used by callers that do not
	// pick their own.
	DefaultRetries = 3
	// DefaultRetryDelay is the delay before the first retry, doubled on each
	// subsequent one.
	DefaultRetryDelay = time.Second
)

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying, Retry returns it right away.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Retry runs fn up to attempts times, sleeping base, 2*base, 4*base... in
// between. Context errors and errors wrapped with Permanent stop the loop.
// The last error of fn is returned, unwrapped from Permanent.
func Retry(ctx context.Context, attempts int, base time.Duration, fn func(ctx context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	backoff := retry.WithMaxRetries(uint64(attempts-1), retry.NewExponential(base))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return retry.RetryableError(err)
	})
	var perm *permanentError
	if errors.As(err, &perm) {
		return perm.err
	}
	return err
}

// RetryValue is Retry for functions returning a value.
func RetryValue[T any](ctx context.Context, attempts int, base time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := Retry(ctx, attempts, base, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
