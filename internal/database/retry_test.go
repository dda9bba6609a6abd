package database

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
)

func TestRetryableDBOperation_RetriesLocked(t *testing.T) {
	calls := 0
	err := retryableDBOperationNoReturn(context.Background(), func() error {
		calls++
		if calls < 2 {
			return errors.New("database is locked")
		}
		return nil
	}, "op")
	assert.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRetryableDBOperation_StopsOnPermanent(t *testing.T) {
	calls := 0
	err := retryableDBOperationNoReturn(context.Background(), func() error {
		calls++
		return errors.New("no such table: x")
	}, "op")
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryableDBOperation_GivesUp(t *testing.T) {
	calls := 0
	err := retryableDBOperationNoReturn(context.Background(), func() error {
		calls++
		return errors.New("database is locked")
	}, "op")
	assert.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "after 3 attempts")
}

func TestRetryableDBOperation_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := retryableDBOperationNoReturn(ctx, func() error { return nil }, "op")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsRetryableDBError(t *testing.T) {
	assert.False(t, isRetryableDBError(nil))
	assert.True(t, isRetryableDBError(errors.New("disk I/O error")))
	assert.False(t, isRetryableDBError(context.DeadlineExceeded))
	assert.False(t, isRetryableDBError(errors.New("UNIQUE constraint failed")))

	assert.True(t, isRetryableDBError(fmt.Errorf("insert: %w", sqlite3.Error{Code: sqlite3.ErrBusy})))
	assert.False(t, isRetryableDBError(sqlite3.Error{Code: sqlite3.ErrConstraint}))
}
