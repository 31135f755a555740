package sqlcoord

import (
	"context"
	"errors"
	log "log/slog"
	"time"

	"github.com/sethvargo/go-retry"
)

// Retry executes task with Fibonacci backoff up to 5 retries.
// If retries are exhausted, gaveUpTask is invoked (when not nil) and the final error is returned.
func Retry(ctx context.Context, task func(ctx context.Context) error, gaveUpTask func(ctx context.Context)) error {
	b := retry.NewFibonacci(1 * time.Second)
	if err := retry.Do(ctx, retry.WithMaxRetries(5, b), task); err != nil {
		log.Warn(err.Error() + ", gave up")
		if gaveUpTask != nil {
			gaveUpTask(ctx)
		}
		return err
	}
	return nil
}

// ShouldRetry reports whether the error is retryable (non-nil and not a known permanent
// failure). Lock timeouts and replica conflicts are retryable; canceled statements,
// context cancellations and commit/rollback policy violations are not.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var coordErr Error
	if errors.As(err, &coordErr) {
		switch coordErr.Code {
		case StatementWasCanceled, CommitRollbackNotAllowed, ConnectionBroken, InvalidValue:
			return false
		case LockTimeout:
			return true
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}
