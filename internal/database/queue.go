package database

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"leadwire/internal/constants"
	"leadwire/internal/models"
)

func scanQueueItem(row rowScanner) (*models.QueueItem, error) {
	var (
		item             models.QueueItem
		payload, status  string
		created, updated int64
		processed        sql.NullInt64
	)
	if err := row.Scan(&item.ID, &item.Provider, &item.InstanceName, &item.EventType,
		&item.MessageID, &item.RemoteJID, &payload, &status, &item.Priority, &item.Attempts,
		&item.Error, &created, &updated, &processed); err != nil {
		return nil, err
	}
	item.Payload = []byte(payload)
	item.Status = models.QueueStatus(status)
	item.CreatedAt = fromMillis(created)
	item.UpdatedAt = fromMillis(updated)
	if processed.Valid {
		t := fromMillis(processed.Int64)
		item.ProcessedAt = &t
	}
	return &item, nil
}

// EnqueueWebhook durably stores a raw webhook as a pending item.
func (d *Database) EnqueueWebhook(ctx context.Context, item *models.QueueItem) error {
	if item.ID == "" {
		item.ID = newID()
	}
	if item.Priority == 0 {
		item.Priority = constants.DefaultQueuePriority
	}
	item.Status = models.QueuePending
	now := d.now().UTC()
	item.CreatedAt, item.UpdatedAt = now, now

	return retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.db.ExecContext(ctx, InsertQueueItemQuery,
			item.ID, item.Provider, item.InstanceName, item.EventType, item.MessageID,
			item.RemoteJID, string(item.Payload), string(item.Status), item.Priority,
			item.Attempts, item.Error, toMillis(now), toMillis(now), nil)
		return dbError("enqueue webhook", err)
	}, "enqueue webhook")
}

func (d *Database) GetQueueItem(ctx context.Context, id string) (*models.QueueItem, error) {
	item, err := scanQueueItem(d.db.QueryRowContext(ctx, SelectQueueItemQuery, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, dbError("get queue item", err)
	}
	return item, nil
}

// TransitionQueueItem moves an item to status `to` only if its current
// status is one of from. It reports whether the transition happened.
// Entering processing increments attempts; entering a terminal status
// stamps processed_at.
func (d *Database) TransitionQueueItem(ctx context.Context, id string, from []models.QueueStatus, to models.QueueStatus, errMsg string) (bool, error) {
	if len(from) == 0 {
		return false, fmt.Errorf("transition requires at least one source status")
	}

	placeholders := make([]string, len(from))
	args := []interface{}{string(to), errMsg, toMillis(d.now())}

	attemptsExpr := "attempts"
	if to == models.QueueProcessing {
		attemptsExpr = "attempts + 1"
	}
	processedExpr := "processed_at"
	if to.IsTerminal() {
		processedExpr = "?"
		args = append(args, toMillis(d.now()))
	}
	args = append(args, id)
	for i, s := range from {
		placeholders[i] = "?"
		args = append(args, string(s))
	}

	query := fmt.Sprintf(`UPDATE webhook_queue
		SET status = ?, error = ?, updated_at = ?, attempts = %s, processed_at = %s
		WHERE id = ? AND status IN (%s)`, attemptsExpr, processedExpr, strings.Join(placeholders, ", "))

	var affected int64
	err := retryableDBOperationNoReturn(ctx, func() error {
		res, err := d.db.ExecContext(ctx, query, args...)
		if err != nil {
			return dbError("transition queue item", err)
		}
		affected, err = res.RowsAffected()
		return err
	}, "transition queue item")
	return affected == 1, err
}

// ListRedrivable returns failed items that still have attempts left,
// highest priority and oldest first.
func (d *Database) ListRedrivable(ctx context.Context, maxAttempts, limit int) ([]*models.QueueItem, error) {
	rows, err := d.db.QueryContext(ctx, SelectRedrivableQueueItemsQuery, maxAttempts, limit)
	if err != nil {
		return nil, dbError("list redrivable", err)
	}
	return scanQueueItems(rows)
}

// ListStalePending returns pending items not touched since before, which
// were deferred or never picked up.
func (d *Database) ListStalePending(ctx context.Context, before time.Time, limit int) ([]*models.QueueItem, error) {
	rows, err := d.db.QueryContext(ctx, SelectStalePendingQueueItemsQuery, toMillis(before), limit)
	if err != nil {
		return nil, dbError("list stale pending", err)
	}
	return scanQueueItems(rows)
}

// ListQueueItems returns the newest items in status.
func (d *Database) ListQueueItems(ctx context.Context, status models.QueueStatus, limit int) ([]*models.QueueItem, error) {
	rows, err := d.db.QueryContext(ctx, SelectQueueItemsByStatusQuery, string(status), limit)
	if err != nil {
		return nil, dbError("list queue items", err)
	}
	return scanQueueItems(rows)
}

func scanQueueItems(rows *sql.Rows) ([]*models.QueueItem, error) {
	defer rows.Close()

	var out []*models.QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, dbError("scan queue item", err)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// QueueDepth counts items per status.
func (d *Database) QueueDepth(ctx context.Context) (map[models.QueueStatus]int, error) {
	rows, err := d.db.QueryContext(ctx, CountQueueByStatusQuery)
	if err != nil {
		return nil, dbError("queue depth", err)
	}
	defer rows.Close()

	out := make(map[models.QueueStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, dbError("scan queue depth", err)
		}
		out[models.QueueStatus(status)] = n
	}
	return out, rows.Err()
}

// FailStaleQueueItems marks pending or processing items untouched since
// before cutoff as failed so the re-drive picks them up. Items stranded
// this way belong to a process that died mid-request.
func (d *Database) FailStaleQueueItems(ctx context.Context, cutoff time.Time) (int64, error) {
	var affected int64
	err := retryableDBOperationNoReturn(ctx, func() error {
		res, err := d.db.ExecContext(ctx, FailStaleQueueItemsQuery, "stale: processing abandoned", toMillis(d.now()), toMillis(cutoff))
		if err != nil {
			return dbError("fail stale queue items", err)
		}
		affected, err = res.RowsAffected()
		return err
	}, "fail stale queue items")
	return affected, err
}

// CleanupQueue deletes completed and ignored items last touched before cutoff.
func (d *Database) CleanupQueue(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := d.db.ExecContext(ctx, DeleteFinishedQueueItemsQuery, toMillis(cutoff))
	if err != nil {
		return 0, dbError("cleanup queue", err)
	}
	return res.RowsAffected()
}
