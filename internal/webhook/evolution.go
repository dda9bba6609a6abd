package webhook

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	apperrors "leadwire/internal/errors"
	"leadwire/internal/models"
	"leadwire/pkg/phone"
	"leadwire/pkg/provider/types"
)

type evolutionPayload struct {
	Event    string          `json:"event"`
	Instance string          `json:"instance"`
	Data     json.RawMessage `json:"data"`
}

type evolutionKey struct {
	RemoteJID   string `json:"remoteJid"`
	FromMe      bool   `json:"fromMe"`
	ID          string `json:"id"`
	Participant string `json:"participant"`
}

type evolutionMedia struct {
	URL           string     `json:"url"`
	Mimetype      string     `json:"mimetype"`
	Caption       string     `json:"caption"`
	FileName      string     `json:"fileName"`
	JPEGThumbnail flexString `json:"jpegThumbnail"`
	Seconds       int        `json:"seconds"`
}

type evolutionContent struct {
	Conversation        string `json:"conversation"`
	ExtendedTextMessage *struct {
		Text string `json:"text"`
	} `json:"extendedTextMessage"`
	ImageMessage    *evolutionMedia `json:"imageMessage"`
	StickerMessage  *evolutionMedia `json:"stickerMessage"`
	AudioMessage    *evolutionMedia `json:"audioMessage"`
	VideoMessage    *evolutionMedia `json:"videoMessage"`
	DocumentMessage *evolutionMedia `json:"documentMessage"`
	Base64          string          `json:"base64"`
}

type evolutionMessage struct {
	Key              evolutionKey      `json:"key"`
	PushName         string            `json:"pushName"`
	Message          *evolutionContent `json:"message"`
	MessageType      string            `json:"messageType"`
	MessageTimestamp flexInt           `json:"messageTimestamp"`
	Base64           string            `json:"base64"`
}

type evolutionConnection struct {
	State string `json:"state"`
}

type evolutionParser struct {
	now func() time.Time
}

func evolutionKind(event string) EventKind {
	switch strings.ToLower(strings.ReplaceAll(event, "_", ".")) {
	case "messages.upsert":
		return KindMessage
	case "connection.update":
		return KindConnection
	default:
		return KindOther
	}
}

// Parse returns the envelope alongside the error when the body names an
// instance but its data is malformed, so the caller can still queue it.
func (p *evolutionParser) Parse(body []byte) (*Envelope, error) {
	var payload evolutionPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodePayload, "invalid evolution webhook body")
	}
	if payload.Instance == "" {
		return nil, ErrNoInstance
	}

	env := &Envelope{
		Provider: types.VariantEvolution,
		Event:    payload.Event,
		Kind:     evolutionKind(payload.Event),
		Instance: payload.Instance,
	}

	switch env.Kind {
	case KindConnection:
		var conn evolutionConnection
		if err := json.Unmarshal(payload.Data, &conn); err != nil {
			return env, apperrors.Wrap(err, apperrors.ErrCodePayload, "invalid connection.update data")
		}
		env.Connection = evolutionState(conn.State)
	case KindMessage:
		messages, err := evolutionMessages(payload.Data)
		if err != nil {
			return env, err
		}
		for _, m := range messages {
			if IsBroadcast(m.Key.RemoteJID) {
				env.Filtered++
				continue
			}
			env.Entries = append(env.Entries, p.entry(payload.Instance, m))
		}
	}
	return env, nil
}

// evolutionMessages accepts both {"messages": [...]} and a single message
// object with "key" directly under data.
func evolutionMessages(data json.RawMessage) ([]evolutionMessage, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}

	var probe struct {
		Messages json.RawMessage `json:"messages"`
		Key      json.RawMessage `json:"key"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodePayload, "invalid evolution message data")
	}

	switch {
	case len(probe.Messages) > 0:
		var batch []evolutionMessage
		if err := json.Unmarshal(probe.Messages, &batch); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodePayload, "invalid evolution message batch")
		}
		return batch, nil
	case len(probe.Key) > 0:
		var single evolutionMessage
		if err := json.Unmarshal(data, &single); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodePayload, "invalid evolution message")
		}
		return []evolutionMessage{single}, nil
	default:
		return nil, nil
	}
}

func evolutionState(state string) types.ConnectionStatus {
	switch strings.ToLower(state) {
	case "open":
		return types.StatusConnected
	case "connecting":
		return types.StatusConnecting
	case "close", "closed":
		return types.StatusDisconnected
	default:
		return types.StatusError
	}
}

func (p *evolutionParser) entry(instance string, m evolutionMessage) Entry {
	msg := models.UnifiedMessage{
		InstanceName:      instance,
		RemoteJID:         m.Key.RemoteJID,
		FromMe:            m.Key.FromMe,
		ProviderMessageID: m.Key.ID,
		PushName:          m.PushName,
		ContentType:       models.ContentText,
		Timestamp:         unixTime(int64(m.MessageTimestamp), false, p.now()),
	}
	if msg.PushName == "" {
		msg.PushName = phone.JIDUser(m.Key.RemoteJID)
	}

	c := m.Message
	if c == nil {
		return Entry{Message: msg}
	}
	msg.Content = evolutionText(c)

	var media *evolutionMedia
	switch {
	case c.ImageMessage != nil:
		msg.ContentType, media = models.ContentImage, c.ImageMessage
	case c.StickerMessage != nil:
		msg.ContentType, media = models.ContentImage, c.StickerMessage
	case c.AudioMessage != nil:
		msg.ContentType, media = models.ContentAudio, c.AudioMessage
	case c.VideoMessage != nil:
		msg.ContentType, media = models.ContentVideo, c.VideoMessage
	case c.DocumentMessage != nil:
		msg.ContentType, media = models.ContentDocument, c.DocumentMessage
	}
	if media == nil {
		return Entry{Message: msg}
	}

	msg.MimeType = media.Mimetype
	inline := c.Base64
	if inline == "" {
		inline = m.Base64
	}
	return Entry{
		Message: msg,
		Media: &MediaSource{
			Inline:    inline,
			URL:       media.URL,
			Encrypted: evolutionEncrypted(media.URL),
			MimeType:  media.Mimetype,
			FileName:  media.FileName,
			Thumbnail: string(media.JPEGThumbnail),
			Ref: types.MediaRef{
				MessageID: m.Key.ID,
				RemoteJID: m.Key.RemoteJID,
				FromMe:    m.Key.FromMe,
			},
		},
	}
}

// evolutionText applies the content precedence: plain conversation,
// extended text, then image, video and document captions.
func evolutionText(c *evolutionContent) string {
	if c.Conversation != "" {
		return c.Conversation
	}
	if c.ExtendedTextMessage != nil && c.ExtendedTextMessage.Text != "" {
		return c.ExtendedTextMessage.Text
	}
	for _, m := range []*evolutionMedia{c.ImageMessage, c.VideoMessage, c.DocumentMessage} {
		if m != nil && m.Caption != "" {
			return m.Caption
		}
	}
	return ""
}

func evolutionEncrypted(url string) bool {
	return strings.Contains(url, ".enc") || strings.Contains(url, "mmg.whatsapp.net")
}
