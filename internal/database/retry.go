package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"leadwire/internal/constants"
	"leadwire/internal/retry"

	"github.com/mattn/go-sqlite3"
)

var dbBackoff = retry.NewBackoff(retry.Config{
	InitialDelay: time.Duration(constants.DefaultRetryBackoffMs) * time.Millisecond,
	MaxDelay:     time.Duration(constants.DefaultMaxBackoffMs) * time.Millisecond,
	Multiplier:   2.0,
	MaxAttempts:  constants.DefaultDatabaseRetryAttempts,
})

// retryableDBOperationNoReturn runs operation, retrying while SQLite reports
// a busy or locked database.
func retryableDBOperationNoReturn(ctx context.Context, operation func() error, operationName string) error {
	attempts := 0
	err := dbBackoff.Do(ctx, func(attempt int) error {
		attempts = attempt
		return operation()
	}, isRetryableDBError)
	if err != nil && attempts == constants.DefaultDatabaseRetryAttempts && isRetryableDBError(err) {
		return fmt.Errorf("%s failed after %d attempts: %w", operationName, attempts, err)
	}
	return err
}

func isRetryableDBError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked, sqlite3.ErrIoErr:
			return true
		default:
			return false
		}
	}

	// errors that lost their driver type through fmt wrapping
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "disk I/O error")
}
