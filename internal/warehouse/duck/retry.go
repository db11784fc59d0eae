package duck

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	maxRetries         = 8
	initialRetryDelay  = 50 * time.Millisecond
	maxRetryDelay      = 5 * time.Second
	retryBackoffFactor = 2.0
)

// isTransactionConflictError reports whether DuckDB aborted the statement
// because a concurrent transaction touched the same rows.
func isTransactionConflictError(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "Transaction conflict") ||
		strings.Contains(s, "write-write conflict") ||
		strings.Contains(s, "Conflict on tuple")
}

// isUniqueViolation reports whether a concurrent writer committed the same
// natural key first.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "duplicate key") ||
		strings.Contains(s, "violates unique constraint") ||
		strings.Contains(s, "violates primary key constraint")
}

// retryOnConflict retries fn with exponential backoff while it fails with a
// transaction conflict. Other errors are returned immediately.
func retryOnConflict[T any](ctx context.Context, log *slog.Logger, operation string, fn func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initialRetryDelay
	b.MaxInterval = maxRetryDelay
	b.Multiplier = retryBackoffFactor

	attempts := 0
	v, err := backoff.Retry(ctx, func() (T, error) {
		attempts++
		v, err := fn()
		if err != nil && !isTransactionConflictError(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(maxRetries),
		backoff.WithNotify(func(err error, delay time.Duration) {
			log.Warn("transaction conflict detected, retrying", "operation", operation, "attempt", attempts, "max_attempts", maxRetries, "delay", delay, "error", err)
		}),
	)
	if err == nil && attempts > 1 {
		log.Info("operation succeeded after retries", "operation", operation, "attempts", attempts)
	}
	return v, err
}
