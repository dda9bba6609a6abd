package database

import (
	"context"
	"database/sql"
	stderrors "errors"

	"leadwire/internal/models"
)

func scanConversation(row rowScanner) (*models.Conversation, error) {
	var (
		c                  models.Conversation
		status             string
		lastActivity, made int64
	)
	if err := row.Scan(&c.ID, &c.TenantID, &c.InstanceID, &c.ContactName, &c.ContactPhone,
		&c.ContactPicture, &c.LastMessage, &c.UnreadCount, &c.TotalMessages, &status,
		&lastActivity, &made); err != nil {
		return nil, err
	}
	c.Status = models.ConversationStatus(status)
	c.LastActivity = fromMillis(lastActivity)
	c.CreatedAt = fromMillis(made)
	return &c, nil
}

// GetConversation finds the conversation for (tenant, contact phone).
// It returns nil, nil when none exists.
func (d *Database) GetConversation(ctx context.Context, tenantID, contactPhone string) (*models.Conversation, error) {
	c, err := scanConversation(d.db.QueryRowContext(ctx, SelectConversationByContactQuery, tenantID, contactPhone))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, dbError("get conversation", err)
	}
	return c, nil
}

func (d *Database) GetConversationByID(ctx context.Context, id string) (*models.Conversation, error) {
	c, err := scanConversation(d.db.QueryRowContext(ctx, SelectConversationByIDQuery, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, dbError("get conversation", err)
	}
	return c, nil
}

// CreateConversation inserts a conversation with zero counters. A
// concurrent insert for the same contact yields ErrDuplicate.
func (d *Database) CreateConversation(ctx context.Context, c *models.Conversation) error {
	if c.ID == "" {
		c.ID = newID()
	}
	if c.Status == "" {
		c.Status = models.ConversationWaiting
	}
	now := d.now().UTC()
	c.CreatedAt = now
	if c.LastActivity.IsZero() {
		c.LastActivity = now
	}

	return retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.db.ExecContext(ctx, InsertConversationQuery,
			c.ID, c.TenantID, c.InstanceID, c.ContactName, c.ContactPhone, c.ContactPicture,
			c.LastMessage, c.UnreadCount, c.TotalMessages, string(c.Status),
			toMillis(c.LastActivity), toMillis(now))
		return dbError("insert conversation", err)
	}, "insert conversation")
}

// TouchConversation applies one new message to the conversation counters.
func (d *Database) TouchConversation(ctx context.Context, id, preview string, inbound bool) error {
	flag := 0
	if inbound {
		flag = 1
	}
	return retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.db.ExecContext(ctx, TouchConversationQuery, preview, flag, flag, toMillis(d.now()), id)
		return dbError("touch conversation", err)
	}, "touch conversation")
}

// UpdateConversationContact sets name and/or picture; empty values are kept.
func (d *Database) UpdateConversationContact(ctx context.Context, id, name, picture string) error {
	return retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.db.ExecContext(ctx, UpdateConversationContactQuery, name, name, picture, picture, id)
		return dbError("update conversation contact", err)
	}, "update conversation contact")
}

func (d *Database) UpdateConversationStatus(ctx context.Context, id string, status models.ConversationStatus) error {
	return retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.db.ExecContext(ctx, UpdateConversationStatusQuery, string(status), id)
		return dbError("update conversation status", err)
	}, "update conversation status")
}
