package webhook

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	apperrors "leadwire/internal/errors"
	"leadwire/internal/models"
	"leadwire/pkg/provider/types"
)

type uazapiPayload struct {
	EventType    string          `json:"EventType"`
	Event        string          `json:"event"`
	InstanceName string          `json:"instanceName"`
	Instance     json.RawMessage `json:"instance"`
	Owner        string          `json:"owner"`
	Chat         *uazapiChat     `json:"chat"`
	Message      *uazapiMessage  `json:"message"`
	Messages     []uazapiMessage `json:"messages"`
}

type uazapiChat struct {
	Name          string `json:"name"`
	WAName        string `json:"wa_name"`
	WAContactName string `json:"wa_contactName"`
}

type uazapiMessage struct {
	ID               string          `json:"id"`
	MessageID        string          `json:"messageid"`
	ChatID           string          `json:"chatid"`
	Sender           string          `json:"sender"`
	SenderName       string          `json:"senderName"`
	FromMe           bool            `json:"fromMe"`
	Content          json.RawMessage `json:"content"`
	Text             string          `json:"text"`
	MessageType      string          `json:"messageType"`
	MediaType        string          `json:"mediaType"`
	MessageTimestamp flexInt         `json:"messageTimestamp"`
}

type uazapiMediaContent struct {
	URL           string     `json:"URL"`
	LowerURL      string     `json:"url"`
	Mimetype      string     `json:"mimetype"`
	Caption       string     `json:"caption"`
	FileName      string     `json:"fileName"`
	JPEGThumbnail flexString `json:"JPEGThumbnail"`
}

// uazapiInstanceState is the object form of "instance" on connection events.
type uazapiInstanceState struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

type uazapiParser struct {
	now func() time.Time
}

func uazapiKind(event string) EventKind {
	switch strings.ToLower(event) {
	case "messages", "message", "messages.upsert":
		return KindMessage
	case "connection", "connection.update":
		return KindConnection
	default:
		return KindOther
	}
}

func (p *uazapiParser) Parse(body []byte) (*Envelope, error) {
	var payload uazapiPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodePayload, "invalid uazapi webhook body")
	}

	event := payload.EventType
	if event == "" {
		event = payload.Event
	}

	instance, state := uazapiInstance(payload)
	if instance == "" {
		return nil, ErrNoInstance
	}

	env := &Envelope{
		Provider: types.VariantUazapi,
		Event:    event,
		Kind:     uazapiKind(event),
		Instance: instance,
	}

	switch env.Kind {
	case KindConnection:
		env.Connection = uazapiState(state)
	case KindMessage:
		messages := payload.Messages
		if payload.Message != nil {
			messages = append([]uazapiMessage{*payload.Message}, messages...)
		}
		for _, m := range messages {
			if IsBroadcast(m.ChatID) {
				env.Filtered++
				continue
			}
			env.Entries = append(env.Entries, p.entry(instance, payload.Chat, m))
		}
	}
	return env, nil
}

// uazapiInstance resolves the instance name from instanceName, instance
// (string or object) and owner, in that order.
func uazapiInstance(payload uazapiPayload) (name, status string) {
	raw := bytes.TrimSpace(payload.Instance)
	var fromInstance string
	if len(raw) > 0 {
		if raw[0] == '"' {
			_ = json.Unmarshal(raw, &fromInstance)
		} else if raw[0] == '{' {
			var st uazapiInstanceState
			if json.Unmarshal(raw, &st) == nil {
				fromInstance, status = st.Name, st.Status
			}
		}
	}
	return firstNonEmpty(payload.InstanceName, fromInstance, payload.Owner), status
}

func uazapiState(status string) types.ConnectionStatus {
	switch strings.ToLower(status) {
	case "connected", "open":
		return types.StatusConnected
	case "connecting":
		return types.StatusConnecting
	case "disconnected", "close", "closed":
		return types.StatusDisconnected
	default:
		return types.StatusError
	}
}

func (p *uazapiParser) entry(instance string, chat *uazapiChat, m uazapiMessage) Entry {
	msg := models.UnifiedMessage{
		InstanceName:      instance,
		RemoteJID:         m.ChatID,
		FromMe:            m.FromMe,
		ProviderMessageID: firstNonEmpty(m.ID, m.MessageID),
		ContentType:       uazapiContentType(m.MediaType, m.MessageType),
		Timestamp:         unixTime(int64(m.MessageTimestamp), true, p.now()),
	}

	// A self-sent message's sender name is the account's own name.
	if !m.FromMe {
		var chatName, chatContact string
		if chat != nil {
			chatName, chatContact = firstNonEmpty(chat.Name, chat.WAName), chat.WAContactName
		}
		msg.PushName = firstNonEmpty(m.SenderName, chatName, chatContact)
	}

	raw := bytes.TrimSpace(m.Content)
	var media *uazapiMediaContent
	switch {
	case len(raw) > 0 && raw[0] == '"':
		var s string
		_ = json.Unmarshal(raw, &s)
		msg.Content = s
	case len(raw) > 0 && raw[0] == '{':
		var mc uazapiMediaContent
		if json.Unmarshal(raw, &mc) == nil {
			media = &mc
			msg.Content = firstNonEmpty(mc.Caption, m.Text)
		}
	default:
		msg.Content = m.Text
	}
	if msg.Content == "" && media == nil {
		msg.Content = m.Text
	}

	if msg.ContentType == models.ContentText || media == nil {
		return Entry{Message: msg}
	}

	url := firstNonEmpty(media.URL, media.LowerURL)
	msg.MimeType = media.Mimetype
	return Entry{
		Message: msg,
		Media: &MediaSource{
			URL:       url,
			Encrypted: strings.Contains(url, "mmg.whatsapp.net"),
			MimeType:  media.Mimetype,
			FileName:  media.FileName,
			Thumbnail: string(media.JPEGThumbnail),
			Ref: types.MediaRef{
				MessageID: msg.ProviderMessageID,
				RemoteJID: m.ChatID,
				FromMe:    m.FromMe,
			},
		},
	}
}

// uazapiContentType prefers mediaType ("ptt" is a voice note) and falls
// back to messageType.
func uazapiContentType(mediaType, messageType string) models.ContentType {
	if mediaType != "" {
		mt := strings.ToLower(mediaType)
		switch {
		case strings.Contains(mt, "image"), strings.Contains(mt, "sticker"):
			return models.ContentImage
		case strings.Contains(mt, "audio"), mt == "ptt", mt == "myaudio":
			return models.ContentAudio
		case strings.Contains(mt, "video"):
			return models.ContentVideo
		case strings.Contains(mt, "document"):
			return models.ContentDocument
		}
		return models.ContentText
	}
	lt := strings.ToLower(messageType)
	switch {
	case strings.Contains(lt, "image"), strings.Contains(lt, "sticker"):
		return models.ContentImage
	case strings.Contains(lt, "audio"):
		return models.ContentAudio
	case strings.Contains(lt, "video"):
		return models.ContentVideo
	case strings.Contains(lt, "document"):
		return models.ContentDocument
	}
	return models.ContentText
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
