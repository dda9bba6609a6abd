package models

import (
	"encoding/json"
	"time"
)

// QueueStatus is the processing state of a QueueItem.
type QueueStatus string

const (
	QueuePending    QueueStatus = "pending"
	QueueProcessing QueueStatus = "processing"
	QueueCompleted  QueueStatus = "completed"
	QueueFailed     QueueStatus = "failed"
	QueueIgnored    QueueStatus = "ignored"
)

// IsTerminal reports whether no further automatic transition is allowed.
func (s QueueStatus) IsTerminal() bool {
	return s == QueueCompleted || s == QueueIgnored
}

// QueueItem is the durable record of one raw webhook delivery. It is
// written before any processing is attempted.
type QueueItem struct {
	ID           string          `json:"id"`
	Provider     string          `json:"provider"`
	InstanceName string          `json:"instanceName"`
	EventType    string          `json:"eventType"`
	MessageID    string          `json:"messageId,omitempty"`
	RemoteJID    string          `json:"remoteJid,omitempty"`
	Payload      json.RawMessage `json:"payload"`
	Status       QueueStatus     `json:"status"`
	Priority     int             `json:"priority"`
	Attempts     int             `json:"attempts"`
	Error        string          `json:"error,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
	ProcessedAt  *time.Time      `json:"processedAt,omitempty"`
}
