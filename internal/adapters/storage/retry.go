package storage

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
)

const (
	defaultRetryBase     = 200 * time.Millisecond
	defaultRetryAttempts = 3
)

// retryWrite runs a remote blob write with Fibonacci backoff. Context
// cancellation and invalid names are not retried.
func retryWrite(ctx context.Context, base time.Duration, attempts uint64, task func(ctx context.Context) error) error {
	b := retry.WithMaxRetries(attempts, retry.NewFibonacci(base))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := task(ctx)
		if shouldRetry(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func shouldRetry(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded) &&
		!errors.Is(err, ErrInvalidName)
}
