// Package conversation maps normalized messages onto conversations and
// stored messages: find-or-create per contact, counters, contact name
// repair and duplicate suppression.
package conversation

import (
	"context"
	stderrors "errors"
	"time"

	"leadwire/internal/constants"
	"leadwire/internal/database"
	apperrors "leadwire/internal/errors"
	"leadwire/internal/events"
	"leadwire/internal/metrics"
	"leadwire/internal/models"
	"leadwire/internal/privacy"
	"leadwire/pkg/phone"
	"leadwire/pkg/provider/types"

	"github.com/sirupsen/logrus"
)

// Skip reasons reported in Outcome.Reason.
const (
	ReasonDuplicate = "duplicate"
)

// Store is the persistence the resolver needs.
type Store interface {
	GetConversation(ctx context.Context, tenantID, contactPhone string) (*models.Conversation, error)
	CreateConversation(ctx context.Context, c *models.Conversation) error
	TouchConversation(ctx context.Context, id, preview string, inbound bool) error
	UpdateConversationContact(ctx context.Context, id, name, picture string) error
	HasRecentDuplicate(ctx context.Context, conversationID, content string, dir models.Direction, since time.Time) (bool, error)
	InsertMessage(ctx context.Context, m *models.StoredMessage) error
}

// ProfileLookup asks the provider who a number belongs to.
// types.Provider satisfies it.
type ProfileLookup interface {
	FetchProfile(ctx context.Context, number string) (*types.Profile, error)
}

// Scope is the channel a message arrived on or was sent through.
type Scope struct {
	TenantID   string
	InstanceID string
	// Profiles may be nil, which disables lookups and name repair.
	Profiles ProfileLookup
}

// Outcome reports what Record did with a message.
type Outcome struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId,omitempty"`
	Created        bool   `json:"created,omitempty"`
	Skipped        bool   `json:"skipped,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

type Config struct {
	DedupWindow time.Duration
	Policy      phone.Policy
}

type Resolver struct {
	store     Store
	publisher events.Publisher
	cfg       Config
	now       func() time.Time
	logger    *logrus.Logger
}

func NewResolver(store Store, publisher events.Publisher, cfg Config, logger *logrus.Logger) *Resolver {
	if logger == nil {
		logger = logrus.New()
	}
	if publisher == nil {
		publisher = events.Nop{}
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = constants.DefaultDedupWindow
	}
	if cfg.Policy.CountryCode == "" && len(cfg.Policy.LocalLengths) == 0 {
		cfg.Policy = phone.DefaultPolicy()
	}
	return &Resolver{store: store, publisher: publisher, cfg: cfg, now: time.Now, logger: logger}
}

// ContactPhone returns the conversation key for a remote id.
func (r *Resolver) ContactPhone(remoteJID string) string {
	if p := r.cfg.Policy.Normalize(remoteJID); p != "" {
		return p
	}
	return phone.JIDUser(remoteJID)
}

// Resolve finds or creates the conversation for msg's contact. On an
// existing conversation a message in either direction may repair the
// contact name.
func (r *Resolver) Resolve(ctx context.Context, scope Scope, msg models.UnifiedMessage) (*models.Conversation, error) {
	conv, _, err := r.resolve(ctx, scope, msg)
	return conv, err
}

func (r *Resolver) resolve(ctx context.Context, scope Scope, msg models.UnifiedMessage) (*models.Conversation, bool, error) {
	contact := r.ContactPhone(msg.RemoteJID)
	if contact == "" {
		return nil, false, apperrors.NewValidationError("remote_jid", "message has no contact identifier")
	}

	conv, err := r.store.GetConversation(ctx, scope.TenantID, contact)
	if err != nil {
		return nil, false, err
	}
	if conv != nil {
		r.repairName(ctx, scope, conv, msg)
		return conv, false, nil
	}

	conv = &models.Conversation{
		TenantID:     scope.TenantID,
		InstanceID:   scope.InstanceID,
		ContactPhone: contact,
		ContactName:  contact,
		Status:       models.ConversationWaiting,
	}
	// A self-sent message carries the account's own push name, so only
	// inbound messages may name the contact.
	if !msg.FromMe {
		name := msg.PushName
		if !phone.IsPlausibleName(name) {
			if found, picture := r.lookupName(ctx, scope.Profiles, contact); found != "" {
				name, conv.ContactPicture = found, picture
			}
		}
		if name != "" {
			conv.ContactName = name
		}
	}

	if err := r.store.CreateConversation(ctx, conv); err != nil {
		if !stderrors.Is(err, database.ErrDuplicate) {
			return nil, false, err
		}
		// Lost a create race with a concurrent delivery.
		existing, gerr := r.store.GetConversation(ctx, scope.TenantID, contact)
		if gerr != nil {
			return nil, false, gerr
		}
		if existing == nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	r.logger.WithFields(privacy.Fields(logrus.Fields{
		"conversation_id": conv.ID,
		"tenant":          scope.TenantID,
		"contact_phone":   contact,
	})).Info("Created conversation")
	events.Emit(ctx, r.publisher, r.logger, events.TypeConversationOpened, scope.TenantID, conv)
	return conv, true, nil
}

// repairName retries the profile lookup when the stored name was never
// really resolved: it is a bare number or just the push name. The push
// name is only a fallback for inbound messages; on a self-sent message it
// is the account's own name.
func (r *Resolver) repairName(ctx context.Context, scope Scope, conv *models.Conversation, msg models.UnifiedMessage) {
	stored := conv.ContactName
	if !phone.IsNumericName(stored) && stored != "" && stored != msg.PushName {
		return
	}

	name, picture := r.lookupName(ctx, scope.Profiles, conv.ContactPhone)
	if name == "" && !msg.FromMe && phone.IsNumericName(stored) && phone.IsPlausibleName(msg.PushName) {
		name = msg.PushName
	}
	if name == "" || name == stored {
		return
	}

	if err := r.store.UpdateConversationContact(ctx, conv.ID, name, picture); err != nil {
		r.logger.WithError(err).WithField("conversation_id", conv.ID).Warn("Failed to store repaired contact name")
		return
	}
	r.logger.WithFields(privacy.Fields(logrus.Fields{
		"conversation_id": conv.ID,
		"contact_phone":   conv.ContactPhone,
	})).Info("Repaired contact name")
	conv.ContactName = name
	if picture != "" {
		conv.ContactPicture = picture
	}
}

// lookupName tries each numbering variant of number and returns the first
// plausible profile name with its picture.
func (r *Resolver) lookupName(ctx context.Context, profiles ProfileLookup, number string) (string, string) {
	if profiles == nil {
		return "", ""
	}
	for _, candidate := range phone.Variants(number) {
		p, err := profiles.FetchProfile(ctx, candidate)
		if err != nil {
			r.logger.WithError(err).WithFields(privacy.Fields(logrus.Fields{
				"number": candidate,
			})).Debug("Profile lookup failed")
			continue
		}
		if p != nil && phone.IsPlausibleName(p.Name) {
			return p.Name, p.PictureURL
		}
	}
	return "", ""
}

// Record resolves the conversation, suppresses duplicates, stores the
// message, updates the counters and publishes message.received or
// message.sent.
func (r *Resolver) Record(ctx context.Context, scope Scope, msg models.UnifiedMessage) (Outcome, error) {
	conv, created, err := r.resolve(ctx, scope, msg)
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{ConversationID: conv.ID, Created: created}
	dir := models.DirectionOf(msg.FromMe)
	now := r.now().UTC()

	// Empty-content media would collide with every other attachment in the
	// window; those rely on the provider message id index instead.
	if msg.Content != "" {
		dup, err := r.store.HasRecentDuplicate(ctx, conv.ID, msg.Content, dir, now.Add(-r.cfg.DedupWindow))
		if err != nil {
			return out, err
		}
		if dup {
			return r.skipDuplicate(out, msg, dir), nil
		}
	}

	stored := &models.StoredMessage{
		ConversationID:    conv.ID,
		ContentType:       msg.ContentType,
		Direction:         dir,
		Content:           msg.Content,
		MediaURL:          msg.MediaURL,
		IsRead:            msg.FromMe,
		ProviderMessageID: msg.ProviderMessageID,
		CreatedAt:         now,
	}
	if err := r.store.InsertMessage(ctx, stored); err != nil {
		if stderrors.Is(err, database.ErrDuplicate) {
			return r.skipDuplicate(out, msg, dir), nil
		}
		return out, err
	}
	out.MessageID = stored.ID

	if err := r.store.TouchConversation(ctx, conv.ID, msg.Preview(), !msg.FromMe); err != nil {
		return out, err
	}
	metrics.RecordMessage(string(dir), "stored")

	eventType := events.TypeMessageReceived
	if msg.FromMe {
		eventType = events.TypeMessageSent
	}
	events.Emit(ctx, r.publisher, r.logger, eventType, scope.TenantID, messageEvent{
		ConversationID:    conv.ID,
		MessageID:         stored.ID,
		InstanceID:        scope.InstanceID,
		ContactPhone:      conv.ContactPhone,
		ContactName:       conv.ContactName,
		Direction:         dir,
		ContentType:       msg.ContentType,
		Content:           msg.Content,
		MediaURL:          msg.MediaURL,
		ProviderMessageID: msg.ProviderMessageID,
		Timestamp:         msg.Timestamp,
	})
	return out, nil
}

func (r *Resolver) skipDuplicate(out Outcome, msg models.UnifiedMessage, dir models.Direction) Outcome {
	metrics.RecordMessage(string(dir), ReasonDuplicate)
	r.logger.WithFields(privacy.Fields(logrus.Fields{
		"conversation_id": out.ConversationID,
		"message_id":      msg.ProviderMessageID,
		"direction":       dir,
	})).Info("Skipped duplicate message")
	out.Skipped, out.Reason = true, ReasonDuplicate
	return out
}

type messageEvent struct {
	ConversationID    string             `json:"conversationId"`
	MessageID         string             `json:"messageId"`
	InstanceID        string             `json:"instanceId"`
	ContactPhone      string             `json:"contactPhone"`
	ContactName       string             `json:"contactName"`
	Direction         models.Direction   `json:"direction"`
	ContentType       models.ContentType `json:"contentType"`
	Content           string             `json:"content,omitempty"`
	MediaURL          string             `json:"mediaUrl,omitempty"`
	ProviderMessageID string             `json:"providerMessageId,omitempty"`
	Timestamp         time.Time          `json:"timestamp"`
}
