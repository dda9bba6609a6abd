package models

import (
	"time"
)

// ContentType classifies message content.
type ContentType string

const (
	ContentText     ContentType = "text"
	ContentImage    ContentType = "image"
	ContentAudio    ContentType = "audio"
	ContentVideo    ContentType = "video"
	ContentDocument ContentType = "document"
)

// UnifiedMessage is the provider-agnostic form of one message. It is
// built once per provider event and handed to the conversation resolver.
type UnifiedMessage struct {
	InstanceName      string      `json:"instanceName"`
	RemoteJID         string      `json:"remoteJid"`
	FromMe            bool        `json:"fromMe"`
	ProviderMessageID string      `json:"providerMessageId"`
	PushName          string      `json:"pushName"`
	Content           string      `json:"content"`
	ContentType       ContentType `json:"contentType"`
	MediaURL          string      `json:"mediaUrl,omitempty"`
	MimeType          string      `json:"mimeType,omitempty"`
	Timestamp         time.Time   `json:"timestamp"`
}

// Preview is the conversation list text for this message.
func (m *UnifiedMessage) Preview() string {
	if m.Content != "" {
		return m.Content
	}
	return "[" + string(m.ContentType) + "]"
}

// Direction of a stored message.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// DirectionOf maps the provider fromMe flag onto a Direction.
func DirectionOf(fromMe bool) Direction {
	if fromMe {
		return DirectionOutbound
	}
	return DirectionInbound
}

// StoredMessage is the persisted form of a UnifiedMessage. Write-once.
type StoredMessage struct {
	ID                string      `json:"id"`
	ConversationID    string      `json:"conversationId"`
	ContentType       ContentType `json:"contentType"`
	Direction         Direction   `json:"direction"`
	Content           string      `json:"content"`
	MediaURL          string      `json:"mediaUrl,omitempty"`
	IsRead            bool        `json:"isRead"`
	ProviderMessageID string      `json:"providerMessageId,omitempty"`
	CreatedAt         time.Time   `json:"createdAt"`
}
