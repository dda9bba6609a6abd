package types

import (
	"encoding/json"
	"strings"
)

// Variant tags which vendor implementation serves a channel instance.
type Variant string

const (
	VariantEvolution Variant = "evolution"
	VariantUazapi    Variant = "uazapi"
)

// ParseVariant maps a stored tag onto a known Variant.
func ParseVariant(s string) (Variant, bool) {
	switch Variant(strings.ToLower(strings.TrimSpace(s))) {
	case VariantEvolution:
		return VariantEvolution, true
	case VariantUazapi:
		return VariantUazapi, true
	default:
		return "", false
	}
}

// ConnectionStatus is the lifecycle state of a channel instance.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusError        ConnectionStatus = "error"
)

// Presence is the chat state shown to the remote contact.
type Presence string

const (
	PresenceComposing Presence = "composing"
	PresenceRecording Presence = "recording"
	PresencePaused    Presence = "paused"
)

// MediaKind classifies outbound media.
type MediaKind string

const (
	MediaImage    MediaKind = "image"
	MediaVideo    MediaKind = "video"
	MediaDocument MediaKind = "document"
	MediaAudio    MediaKind = "audio"
)

// ParseMediaKind accepts the kinds a caller may ask to send.
func ParseMediaKind(s string) (MediaKind, bool) {
	switch k := MediaKind(strings.ToLower(s)); k {
	case MediaImage, MediaVideo, MediaDocument, MediaAudio:
		return k, true
	}
	return "", false
}

type CreateInstanceRequest struct {
	Name       string
	WebhookURL string
	Events     []string
}

type InstanceInfo struct {
	Name   string           `json:"name"`
	Token  string           `json:"token,omitempty"`
	Status ConnectionStatus `json:"status"`
	QRCode string           `json:"qrCode,omitempty"`
}

type StatusResult struct {
	Status ConnectionStatus `json:"status"`
	Error  string           `json:"error,omitempty"`
	Raw    json.RawMessage  `json:"raw,omitempty"`
}

// PairingResult carries either a QR image (base64) or a numeric pairing code.
type PairingResult struct {
	QRCode      string           `json:"qrCode,omitempty"`
	PairingCode string           `json:"pairingCode,omitempty"`
	Status      ConnectionStatus `json:"status"`
}

type SendOptions struct {
	// ReplyTo is the provider message id being quoted.
	ReplyTo string
	// SkipPresence disables presence simulation for this call.
	SkipPresence bool
}

// MediaRequest describes outbound media. Media is an http(s) URL, a data
// URI or bare base64.
type MediaRequest struct {
	Kind     MediaKind `json:"kind"`
	Media    string    `json:"media"`
	MimeType string    `json:"mimeType,omitempty"`
	Caption  string    `json:"caption,omitempty"`
	FileName string    `json:"fileName,omitempty"`
}

type SendResult struct {
	MessageID string          `json:"messageId"`
	RemoteJID string          `json:"remoteJid,omitempty"`
	Status    string          `json:"status,omitempty"`
	Raw       json.RawMessage `json:"-"`
}

type DeleteRequest struct {
	MessageID   string
	RemoteJID   string
	FromMe      bool
	Participant string
}

// Profile is what a provider knows about a contact. Name is empty when the
// provider only knows the number.
type Profile struct {
	Number      string `json:"number"`
	Name        string `json:"name,omitempty"`
	PictureURL  string `json:"picture,omitempty"`
	Status      string `json:"status,omitempty"`
	IsBusiness  bool   `json:"isBusiness"`
	Description string `json:"description,omitempty"`
}

// MediaRef identifies a received media message for raw download.
type MediaRef struct {
	MessageID string
	RemoteJID string
	FromMe    bool
}

type RawMedia struct {
	Base64   string
	MimeType string
	FileName string
}

// DataURIPrefix splits "data:<mime>;base64,<payload>" and returns the mime
// type and the bare payload. ok is false when s is not a base64 data URI.
func DataURIPrefix(s string) (mimeType, payload string, ok bool) {
	if !strings.HasPrefix(s, "data:") {
		return "", "", false
	}
	head, body, found := strings.Cut(s[len("data:"):], ",")
	if !found || !strings.HasSuffix(head, ";base64") {
		return "", "", false
	}
	return strings.TrimSuffix(head, ";base64"), body, true
}

// IsURL reports whether s is an http(s) locator rather than inline content.
func IsURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
