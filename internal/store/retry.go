package store

import (
	"context"
	"errors"
	"time"
)

const (
	retryAttempts = 3
	retryBackoff  = 50 * time.Millisecond
	opTimeout     = 2 * time.Second
)

// Do runs fn with a per-attempt timeout and retries transient failures a
// bounded number of times. Anything other than ErrUnavailable is returned
// as-is on the first attempt.
func Do(ctx context.Context, fn func(context.Context) error) error {
	var last error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return errors.Join(ErrUnavailable, ctx.Err())
			case <-time.After(retryBackoff << (attempt - 1)):
			}
		}
		opCtx, cancel := context.WithTimeout(ctx, opTimeout)
		err := fn(opCtx)
		cancel()
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrUnavailable) && !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		last = err
	}
	if !errors.Is(last, ErrUnavailable) {
		last = errors.Join(ErrUnavailable, last)
	}
	return last
}
