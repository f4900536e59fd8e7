package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/willianmendesf/whatsapp-sender/internal/retry"
)

const (
	dbRetryAttempts     = 3
	dbRetryInitialDelay = 50 * time.Millisecond
	dbRetryMaxDelay     = 500 * time.Millisecond
)

var dbBackoff = retry.NewBackoff(retry.BackoffConfig{
	InitialDelay: dbRetryInitialDelay,
	MaxDelay:     dbRetryMaxDelay,
	Multiplier:   2.0,
	MaxAttempts:  dbRetryAttempts,
	Jitter:       true,
})

// retryableDBOperation retries operation while it fails with a transient
// SQLite error.
func retryableDBOperation(ctx context.Context, operation func() error, operationName string) error {
	err := dbBackoff.RetryWithPredicate(ctx, operation, isRetryableDBError)
	if err == nil {
		return nil
	}
	if !isRetryableDBError(err) {
		return fmt.Errorf("%s failed (non-retryable): %w", operationName, err)
	}
	return fmt.Errorf("%s failed after %d attempts: %w", operationName, dbRetryAttempts, err)
}

// isRetryableDBError determines if a database error is worth retrying
func isRetryableDBError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	errStr := err.Error()

	if strings.Contains(errStr, "database is locked") || strings.Contains(errStr, "database table is locked") {
		return true
	}

	if strings.Contains(errStr, "disk I/O error") {
		return true
	}

	return false
}
