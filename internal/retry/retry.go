// Package retry provides the exponential-backoff retry policy spec §7
// requires for Transient errors: capped at 10s, applied by C4/C5 around
// Task Store calls and by the event bus around cross-process publish.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	coreerrors "github.com/zjrosen/taskcore/internal/errors"
)

// MaxElapsed is the hard cap on total retry time for one call, per
// spec §7 ("exponential backoff capped at 10s").
const MaxElapsed = 10 * time.Second

// Do runs fn, retrying with exponential backoff only while fn returns
// a Transient error, up to MaxElapsed total. Any other error (or a
// Transient error that persists past the cap) is returned as-is.
func Do[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	policy := backoff.NewExponentialBackOff()

	result, err := backoff.Retry(ctx, func() (T, error) {
		v, err := fn(ctx)
		if err != nil && !coreerrors.IsRetryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(policy), backoff.WithMaxElapsedTime(MaxElapsed))
	return result, err
}

// DoVoid is Do for functions with no return value beyond error.
func DoVoid(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
