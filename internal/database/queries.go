package database

// Instance queries
const (
	instanceColumns = `id, name, tenant_id, provider, api_key, status, phone_number, created_at, updated_at`

	InsertInstanceQuery = `
		INSERT INTO instances (` + instanceColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	SelectInstanceByIDQuery   = `SELECT ` + instanceColumns + ` FROM instances WHERE id = ?`
	SelectInstanceByNameQuery = `SELECT ` + instanceColumns + ` FROM instances WHERE name = ?`
	SelectInstancesByTenant   = `SELECT ` + instanceColumns + ` FROM instances WHERE tenant_id = ? ORDER BY created_at`
	SelectAllInstancesQuery   = `SELECT ` + instanceColumns + ` FROM instances ORDER BY created_at`

	UpdateInstanceStatusQuery = `
		UPDATE instances
		SET status = ?, phone_number = CASE WHEN ? <> '' THEN ? ELSE phone_number END, updated_at = ?
		WHERE id = ?
	`

	UpdateInstanceStatusByNameQuery = `
		UPDATE instances SET status = ?, updated_at = ? WHERE name = ?
	`

	UpdateInstanceTokenQuery = `
		UPDATE instances SET api_key = ?, updated_at = ? WHERE id = ?
	`

	DeleteInstanceQuery = `DELETE FROM instances WHERE id = ?`
)

// Conversation queries
const (
	conversationColumns = `id, tenant_id, instance_id, contact_name, contact_phone, contact_picture,
		last_message, unread_count, total_messages, status, last_activity, created_at`

	InsertConversationQuery = `
		INSERT INTO conversations (` + conversationColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	SelectConversationByContactQuery = `SELECT ` + conversationColumns + ` FROM conversations WHERE tenant_id = ? AND contact_phone = ?`
	SelectConversationByIDQuery      = `SELECT ` + conversationColumns + ` FROM conversations WHERE id = ?`

	// TouchConversationQuery records one new message: preview, counters
	// and the resolved -> waiting flip on inbound activity.
	TouchConversationQuery = `
		UPDATE conversations
		SET last_message = ?,
		    total_messages = total_messages + 1,
		    unread_count = unread_count + CASE WHEN ? = 1 THEN 1 ELSE 0 END,
		    status = CASE WHEN ? = 1 AND status = 'resolved' THEN 'waiting' ELSE status END,
		    last_activity = ?
		WHERE id = ?
	`

	UpdateConversationContactQuery = `
		UPDATE conversations
		SET contact_name = CASE WHEN ? <> '' THEN ? ELSE contact_name END,
		    contact_picture = CASE WHEN ? <> '' THEN ? ELSE contact_picture END
		WHERE id = ?
	`

	UpdateConversationStatusQuery = `UPDATE conversations SET status = ? WHERE id = ?`
)

// Message queries
const (
	messageColumns = `id, conversation_id, content_type, direction, content, media_url, is_read, provider_message_id, created_at`

	InsertMessageQuery = `
		INSERT INTO messages (` + messageColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	SelectMessageByIDQuery = `SELECT ` + messageColumns + ` FROM messages WHERE id = ?`

	SelectMessagesByConversationQuery = `
		SELECT ` + messageColumns + ` FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	SelectRecentDuplicateQuery = `
		SELECT COUNT(*) FROM messages
		WHERE conversation_id = ? AND direction = ? AND content = ? AND created_at >= ?
	`

	CountMessagesByConversationQuery = `SELECT COUNT(*) FROM messages WHERE conversation_id = ?`

	DeleteMessageQuery = `DELETE FROM messages WHERE id = ?`
)

// Queue queries
const (
	queueColumns = `id, provider, instance_name, event_type, message_id, remote_jid, payload,
		status, priority, attempts, error, created_at, updated_at, processed_at`

	InsertQueueItemQuery = `
		INSERT INTO webhook_queue (` + queueColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	SelectQueueItemQuery = `SELECT ` + queueColumns + ` FROM webhook_queue WHERE id = ?`

	SelectRedrivableQueueItemsQuery = `
		SELECT ` + queueColumns + ` FROM webhook_queue
		WHERE status = 'failed' AND attempts < ?
		ORDER BY priority DESC, created_at ASC
		LIMIT ?
	`

	SelectStalePendingQueueItemsQuery = `
		SELECT ` + queueColumns + ` FROM webhook_queue
		WHERE status = 'pending' AND updated_at < ?
		ORDER BY priority DESC, created_at ASC
		LIMIT ?
	`

	SelectQueueItemsByStatusQuery = `
		SELECT ` + queueColumns + ` FROM webhook_queue
		WHERE status = ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	CountQueueByStatusQuery = `SELECT status, COUNT(*) FROM webhook_queue GROUP BY status`

	FailStaleQueueItemsQuery = `
		UPDATE webhook_queue SET status = 'failed', error = ?, updated_at = ?
		WHERE status IN ('pending', 'processing') AND updated_at < ?
	`

	DeleteFinishedQueueItemsQuery = `
		DELETE FROM webhook_queue
		WHERE status IN ('completed', 'ignored') AND updated_at < ?
	`
)
