package database

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	"leadwire/internal/models"
)

func scanMessage(row rowScanner) (*models.StoredMessage, error) {
	var (
		m                models.StoredMessage
		contentType, dir string
		isRead           int
		createdAt        int64
	)
	if err := row.Scan(&m.ID, &m.ConversationID, &contentType, &dir, &m.Content, &m.MediaURL,
		&isRead, &m.ProviderMessageID, &createdAt); err != nil {
		return nil, err
	}
	m.ContentType = models.ContentType(contentType)
	m.Direction = models.Direction(dir)
	m.IsRead = isRead == 1
	m.CreatedAt = fromMillis(createdAt)
	return &m, nil
}

// InsertMessage stores a message. A repeated provider message id on the
// same conversation yields ErrDuplicate.
func (d *Database) InsertMessage(ctx context.Context, m *models.StoredMessage) error {
	if m.ID == "" {
		m.ID = newID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = d.now().UTC()
	}
	isRead := 0
	if m.IsRead {
		isRead = 1
	}

	return retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.db.ExecContext(ctx, InsertMessageQuery,
			m.ID, m.ConversationID, string(m.ContentType), string(m.Direction), m.Content,
			m.MediaURL, isRead, m.ProviderMessageID, toMillis(m.CreatedAt))
		return dbError("insert message", err)
	}, "insert message")
}

// HasRecentDuplicate reports whether the conversation already holds a
// message with the same content and direction created at or after since.
func (d *Database) HasRecentDuplicate(ctx context.Context, conversationID, content string, dir models.Direction, since time.Time) (bool, error) {
	var count int
	err := d.db.QueryRowContext(ctx, SelectRecentDuplicateQuery,
		conversationID, string(dir), content, toMillis(since)).Scan(&count)
	if err != nil {
		return false, dbError("check duplicate", err)
	}
	return count > 0, nil
}

func (d *Database) GetMessage(ctx context.Context, id string) (*models.StoredMessage, error) {
	m, err := scanMessage(d.db.QueryRowContext(ctx, SelectMessageByIDQuery, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, dbError("get message", err)
	}
	return m, nil
}

// ListMessages returns the newest messages of a conversation first.
func (d *Database) ListMessages(ctx context.Context, conversationID string, limit int) ([]*models.StoredMessage, error) {
	rows, err := d.db.QueryContext(ctx, SelectMessagesByConversationQuery, conversationID, limit)
	if err != nil {
		return nil, dbError("list messages", err)
	}
	defer rows.Close()

	var out []*models.StoredMessage
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, dbError("scan message", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (d *Database) CountMessages(ctx context.Context, conversationID string) (int, error) {
	var n int
	if err := d.db.QueryRowContext(ctx, CountMessagesByConversationQuery, conversationID).Scan(&n); err != nil {
		return 0, dbError("count messages", err)
	}
	return n, nil
}

// DeleteMessage removes a message after the provider deleted it remotely.
func (d *Database) DeleteMessage(ctx context.Context, id string) error {
	return retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.db.ExecContext(ctx, DeleteMessageQuery, id)
		return dbError("delete message", err)
	}, "delete message")
}
