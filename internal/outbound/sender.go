// Package outbound sends agent and automation messages through the
// provider bound to a channel instance and records them in the
// conversation.
package outbound

import (
	"context"
	"fmt"
	"strings"
	"time"

	"leadwire/internal/conversation"
	"leadwire/internal/credentials"
	apperrors "leadwire/internal/errors"
	"leadwire/internal/events"
	mediarouter "leadwire/internal/media"
	"leadwire/internal/metrics"
	"leadwire/internal/models"
	"leadwire/internal/privacy"
	"leadwire/internal/storage"
	"leadwire/pkg/phone"
	"leadwire/pkg/provider/types"

	"github.com/sirupsen/logrus"
)

// CredentialResolver builds the provider for an instance.
// *credentials.Resolver satisfies it.
type CredentialResolver interface {
	Provider(ctx context.Context, instanceID string) (types.Provider, credentials.Credential, error)
}

// Recorder stores sent messages. *conversation.Resolver satisfies it.
type Recorder interface {
	Record(ctx context.Context, scope conversation.Scope, msg models.UnifiedMessage) (conversation.Outcome, error)
}

// MessageStore is what remote deletion needs.
type MessageStore interface {
	GetMessage(ctx context.Context, id string) (*models.StoredMessage, error)
	GetConversationByID(ctx context.Context, id string) (*models.Conversation, error)
	DeleteMessage(ctx context.Context, id string) error
}

// Result describes a completed send.
type Result struct {
	ProviderMessageID string `json:"providerMessageId"`
	ConversationID    string `json:"conversationId,omitempty"`
	MessageID         string `json:"messageId,omitempty"`
	// Stored is false when the send succeeded but recording it did not.
	Stored bool `json:"stored"`
}

type Sender struct {
	creds     CredentialResolver
	recorder  Recorder
	store     MessageStore
	blobs     storage.BlobStore
	publisher events.Publisher
	router    mediarouter.Router
	now       func() time.Time
	logger    *logrus.Logger
}

// NewSender wires a Sender. blobs may be nil, in which case inline media
// is recorded without a locator.
func NewSender(creds CredentialResolver, recorder Recorder, store MessageStore, blobs storage.BlobStore, publisher events.Publisher, logger *logrus.Logger) *Sender {
	if logger == nil {
		logger = logrus.New()
	}
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Sender{
		creds:     creds,
		recorder:  recorder,
		store:     store,
		blobs:     blobs,
		publisher: publisher,
		router:    mediarouter.NewRouter(mediarouter.DefaultLimits()),
		now:       time.Now,
		logger:    logger,
	}
}

// SendText sends text to a contact number or group JID.
func (s *Sender) SendText(ctx context.Context, instanceID, to, text string, opts types.SendOptions) (*Result, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperrors.NewValidationError("text", "text is required")
	}
	return s.send(ctx, instanceID, to, outgoing{content: text, contentType: models.ContentText},
		func(p types.Provider, to string) (*types.SendResult, error) {
			return p.SendText(ctx, to, text, opts)
		})
}

// SendAudio sends a voice note given as a URL, data URI or bare base64.
func (s *Sender) SendAudio(ctx context.Context, instanceID, to, audio string, durationSec int, opts types.SendOptions) (*Result, error) {
	if audio == "" {
		return nil, apperrors.NewValidationError("audio", "audio is required")
	}
	return s.send(ctx, instanceID, to, outgoing{contentType: models.ContentAudio, media: audio, mimeType: "audio/ogg"},
		func(p types.Provider, to string) (*types.SendResult, error) {
			return p.SendAudio(ctx, to, audio, durationSec, opts)
		})
}

// SendMedia sends an image, video, document or audio attachment. An empty
// Kind is inferred from the MIME type or file name.
func (s *Sender) SendMedia(ctx context.Context, instanceID, to string, media types.MediaRequest, opts types.SendOptions) (*Result, error) {
	if media.Media == "" {
		return nil, apperrors.NewValidationError("media", "media is required")
	}
	if media.Kind == "" {
		mimeType := media.MimeType
		if mimeType == "" {
			mimeType, _, _ = types.DataURIPrefix(media.Media)
		}
		name := media.FileName
		if name == "" && types.IsURL(media.Media) {
			name = media.Media
		}
		media.Kind = s.router.Kind(mimeType, name)
	}
	if _, ok := types.ParseMediaKind(string(media.Kind)); !ok {
		return nil, apperrors.NewValidationError("kind", "unsupported media kind "+string(media.Kind))
	}
	if !types.IsURL(media.Media) {
		if size, limit := mediarouter.DecodedSize(media.Media), s.router.MaxSize(media.Kind); size > limit {
			return nil, apperrors.NewValidationError("media", fmt.Sprintf("%s payload of %d bytes exceeds the %d byte limit", media.Kind, size, limit))
		}
	}
	return s.send(ctx, instanceID, to, outgoing{
		content:     media.Caption,
		contentType: models.ContentType(media.Kind),
		media:       media.Media,
		mimeType:    media.MimeType,
	}, func(p types.Provider, to string) (*types.SendResult, error) {
		return p.SendMedia(ctx, to, media, opts)
	})
}

type outgoing struct {
	content     string
	contentType models.ContentType
	media       string
	mimeType    string
}

func (s *Sender) send(ctx context.Context, instanceID, to string, out outgoing, dispatch func(types.Provider, string) (*types.SendResult, error)) (*Result, error) {
	to = Recipient(to)
	if to == "" {
		return nil, apperrors.NewValidationError("to", "recipient is required")
	}

	// A missing credential cannot be fixed by retrying, so it fails the call.
	p, cred, err := s.creds.Provider(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	res, err := dispatch(p, to)
	metrics.RecordProviderCall(string(cred.Variant), "send_"+string(out.contentType), err, time.Since(start))
	if err != nil {
		metrics.RecordMessage(string(models.DirectionOutbound), "failed")
		s.logger.WithError(err).WithFields(privacy.Fields(logrus.Fields{
			"instance": cred.InstanceName,
			"provider": cred.Variant,
			"to":       to,
		})).Error("Failed to send message")
		return nil, err
	}

	result := &Result{ProviderMessageID: res.MessageID}
	if cred.TenantID == "" {
		s.logger.WithField("instance", cred.InstanceName).Warn("Instance has no tenant, sent message not recorded")
		return result, nil
	}

	msg := models.UnifiedMessage{
		InstanceName:      cred.InstanceName,
		RemoteJID:         firstNonEmpty(res.RemoteJID, to),
		FromMe:            true,
		ProviderMessageID: res.MessageID,
		Content:           out.content,
		ContentType:       out.contentType,
		MediaURL:          s.mediaLocator(ctx, cred, out),
		MimeType:          out.mimeType,
		Timestamp:         s.now().UTC(),
	}
	outcome, err := s.recorder.Record(ctx, conversation.Scope{TenantID: cred.TenantID, InstanceID: cred.InstanceID, Profiles: p}, msg)
	if err != nil {
		s.logger.WithError(err).WithFields(privacy.Fields(logrus.Fields{
			"instance":   cred.InstanceName,
			"message_id": res.MessageID,
		})).Error("Message sent but not recorded")
		return result, nil
	}

	result.ConversationID = outcome.ConversationID
	result.MessageID = outcome.MessageID
	result.Stored = !outcome.Skipped
	return result, nil
}

// mediaLocator returns a URL the CRM can render for sent media: URLs as
// given, inline payloads after an upload.
func (s *Sender) mediaLocator(ctx context.Context, cred credentials.Credential, out outgoing) string {
	if out.media == "" {
		return ""
	}
	if types.IsURL(out.media) {
		return out.media
	}
	if s.blobs == nil {
		return ""
	}
	url, err := s.blobs.Upload(ctx, out.media, out.mimeType, cred.InstanceName)
	if err != nil {
		s.logger.WithError(err).WithField("instance", cred.InstanceName).Warn("Failed to store sent media")
		return ""
	}
	return url
}

// DeleteMessage deletes a stored message for everyone through the provider
// and then removes it locally.
func (s *Sender) DeleteMessage(ctx context.Context, instanceID, messageID string) error {
	stored, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if stored == nil {
		return apperrors.NewNotFoundError("message", messageID)
	}
	if stored.ProviderMessageID == "" {
		return apperrors.NewValidationError("message", "message has no provider id")
	}
	conv, err := s.store.GetConversationByID(ctx, stored.ConversationID)
	if err != nil {
		return err
	}
	if conv == nil {
		return apperrors.NewNotFoundError("conversation", stored.ConversationID)
	}

	p, cred, err := s.creds.Provider(ctx, instanceID)
	if err != nil {
		return err
	}
	if cred.TenantID != "" && cred.TenantID != conv.TenantID {
		return apperrors.NewNotFoundError("message", messageID)
	}

	start := time.Now()
	err = p.DeleteMessage(ctx, types.DeleteRequest{
		MessageID: stored.ProviderMessageID,
		RemoteJID: ContactJID(conv.ContactPhone),
		FromMe:    stored.Direction == models.DirectionOutbound,
	})
	metrics.RecordProviderCall(string(cred.Variant), "delete_message", err, time.Since(start))
	if err != nil {
		return err
	}

	if err := s.store.DeleteMessage(ctx, messageID); err != nil {
		return err
	}
	events.Emit(ctx, s.publisher, s.logger, events.TypeMessageDeleted, conv.TenantID, map[string]string{
		"conversationId":    conv.ID,
		"messageId":         messageID,
		"providerMessageId": stored.ProviderMessageID,
	})
	return nil
}

// Recipient reduces a contact to its digits and keeps group JIDs intact.
func Recipient(to string) string {
	to = strings.TrimSpace(to)
	if strings.HasSuffix(to, "@g.us") {
		return to
	}
	return phone.Digits(phone.JIDUser(to))
}

// maxPhoneDigits is the E.164 limit; longer ids are groups.
const maxPhoneDigits = 15

// ContactJID rebuilds the provider JID for a stored contact phone.
func ContactJID(contact string) string {
	if strings.Contains(contact, "@") {
		return contact
	}
	if len(contact) > maxPhoneDigits {
		return contact + "@g.us"
	}
	return contact + "@s.whatsapp.net"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
