package models

import "time"

// ConversationStatus is the agent-facing lifecycle of a conversation.
type ConversationStatus string

const (
	ConversationWaiting    ConversationStatus = "waiting"
	ConversationInProgress ConversationStatus = "in-progress"
	ConversationResolved   ConversationStatus = "resolved"
)

// Conversation is unique per (tenant, contact phone).
type Conversation struct {
	ID             string             `json:"id"`
	TenantID       string             `json:"tenantId"`
	InstanceID     string             `json:"instanceId"`
	ContactName    string             `json:"contactName"`
	ContactPhone   string             `json:"contactPhone"`
	ContactPicture string             `json:"contactPicture,omitempty"`
	LastMessage    string             `json:"lastMessage"`
	UnreadCount    int                `json:"unreadCount"`
	TotalMessages  int                `json:"totalMessages"`
	Status         ConversationStatus `json:"status"`
	LastActivity   time.Time          `json:"lastActivity"`
	CreatedAt      time.Time          `json:"createdAt"`
}
