package conversation

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"leadwire/internal/database"
	apperrors "leadwire/internal/errors"
	"leadwire/internal/events"
	"leadwire/internal/models"
	"leadwire/pkg/provider/types"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockProfiles struct {
	mock.Mock
}

func (m *mockProfiles) FetchProfile(ctx context.Context, number string) (*types.Profile, error) {
	args := m.Called(ctx, number)
	if p := args.Get(0); p != nil {
		return p.(*types.Profile), args.Error(1)
	}
	return nil, args.Error(1)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	db       *database.Database
	resolver *Resolver
	pub      *recordingPublisher
	clock    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	t.Setenv("LEADWIRE_ENCRYPTION_SECRET", "")
	db, err := database.New(filepath.Join(t.TempDir(), "conv.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	f := &fixture{db: db, pub: &recordingPublisher{}, clock: time.Now().UTC()}
	f.resolver = NewResolver(db, f.pub, Config{}, logger)
	f.resolver.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) advance(d time.Duration) { f.clock = f.clock.Add(d) }

func inbound(jid, pushName, content, providerID string) models.UnifiedMessage {
	return models.UnifiedMessage{
		InstanceName:      "acme-main",
		RemoteJID:         jid,
		ProviderMessageID: providerID,
		PushName:          pushName,
		Content:           content,
		ContentType:       models.ContentText,
		Timestamp:         time.Now(),
	}
}

var acme = Scope{TenantID: "acme", InstanceID: "inst-1"}

func TestRecord_NewInboundConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.resolver.Record(ctx, acme, inbound("5511999999999@s.whatsapp.net", "Maria", "Hello", "M1"))
	require.NoError(t, err)
	assert.True(t, out.Created)
	assert.False(t, out.Skipped)
	assert.NotEmpty(t, out.MessageID)

	conv, err := f.db.GetConversation(ctx, "acme", "5511999999999")
	require.NoError(t, err)
	require.NotNil(t, conv)
	assert.Equal(t, out.ConversationID, conv.ID)
	assert.Equal(t, "Maria", conv.ContactName)
	assert.Equal(t, 1, conv.UnreadCount)
	assert.Equal(t, 1, conv.TotalMessages)
	assert.Equal(t, models.ConversationWaiting, conv.Status)
	assert.Equal(t, "Hello", conv.LastMessage)

	assert.Equal(t, []string{events.TypeConversationOpened, events.TypeMessageReceived}, f.pub.types())
}

func TestRecord_DuplicateWithinWindowIsSkipped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.resolver.Record(ctx, acme, inbound("5511999999999@s.whatsapp.net", "Maria", "Hello", "M1"))
	require.NoError(t, err)

	f.advance(2 * time.Second)
	second, err := f.resolver.Record(ctx, acme, inbound("5511999999999@s.whatsapp.net", "Maria", "Hello", "M1-redelivered"))
	require.NoError(t, err)
	assert.True(t, second.Skipped)
	assert.Equal(t, ReasonDuplicate, second.Reason)
	assert.Equal(t, first.ConversationID, second.ConversationID)

	n, err := f.db.CountMessages(ctx, first.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	conv, err := f.db.GetConversationByID(ctx, first.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, 1, conv.TotalMessages)

	f.advance(15 * time.Second)
	third, err := f.resolver.Record(ctx, acme, inbound("5511999999999@s.whatsapp.net", "Maria", "Hello", "M2"))
	require.NoError(t, err)
	assert.False(t, third.Skipped)
	n, err = f.db.CountMessages(ctx, first.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRecord_RepeatedProviderIDOutsideWindowIsSkipped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.resolver.Record(ctx, acme, inbound("5511999999999@s.whatsapp.net", "Maria", "Hello", "M1"))
	require.NoError(t, err)

	f.advance(10 * time.Minute)
	out, err := f.resolver.Record(ctx, acme, inbound("5511999999999@s.whatsapp.net", "Maria", "Hello", "M1"))
	require.NoError(t, err)
	assert.True(t, out.Skipped)
	assert.Equal(t, ReasonDuplicate, out.Reason)
}

func TestRecord_EmptyContentMediaIsNotWindowDeduped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	img := inbound("5511999999999@s.whatsapp.net", "Maria", "", "IMG1")
	img.ContentType = models.ContentImage
	img.MediaURL = "https://crm.example.com/media/1.jpg"
	_, err := f.resolver.Record(ctx, acme, img)
	require.NoError(t, err)

	f.advance(time.Second)
	img.ProviderMessageID = "IMG2"
	out, err := f.resolver.Record(ctx, acme, img)
	require.NoError(t, err)
	assert.False(t, out.Skipped)

	conv, err := f.db.GetConversationByID(ctx, out.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, "[image]", conv.LastMessage)
	assert.Equal(t, 2, conv.TotalMessages)
}

func TestRecord_FromMeNeverUsesPushName(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	profiles := &mockProfiles{}

	msg := inbound("5511999999999@s.whatsapp.net", "My Business", "Hi, how can we help?", "OUT1")
	msg.FromMe = true
	out, err := f.resolver.Record(ctx, Scope{TenantID: "acme", Profiles: profiles}, msg)
	require.NoError(t, err)

	conv, err := f.db.GetConversationByID(ctx, out.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, "5511999999999", conv.ContactName)
	assert.NotEqual(t, "My Business", conv.ContactName)
	assert.Equal(t, 0, conv.UnreadCount)
	assert.Equal(t, 1, conv.TotalMessages)
	profiles.AssertNotCalled(t, "FetchProfile", mock.Anything, mock.Anything)

	stored, err := f.db.GetMessage(ctx, out.MessageID)
	require.NoError(t, err)
	assert.True(t, stored.IsRead)
	assert.Equal(t, models.DirectionOutbound, stored.Direction)
	assert.Contains(t, f.pub.types(), events.TypeMessageSent)
}

func TestRecord_UnreliableNameTriesNumberingVariants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	profiles := &mockProfiles{}
	profiles.On("FetchProfile", mock.Anything, "551188887777").Return(&types.Profile{Number: "551188887777"}, nil).Once()
	profiles.On("FetchProfile", mock.Anything, "5511988887777").Return(&types.Profile{Name: "Maria Silva", PictureURL: "https://pps.example.com/p.jpg"}, nil).Once()

	out, err := f.resolver.Record(ctx, Scope{TenantID: "acme", Profiles: profiles},
		inbound("551188887777@s.whatsapp.net", "551188887777", "oi", "M1"))
	require.NoError(t, err)

	conv, err := f.db.GetConversationByID(ctx, out.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, "Maria Silva", conv.ContactName)
	assert.Equal(t, "https://pps.example.com/p.jpg", conv.ContactPicture)
	profiles.AssertExpectations(t)
}

func TestRecord_LocalNumberGetsCountryCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.resolver.Record(ctx, acme, inbound("11999999999@s.whatsapp.net", "Maria", "Hello", "M1"))
	require.NoError(t, err)

	conv, err := f.db.GetConversation(ctx, "acme", "5511999999999")
	require.NoError(t, err)
	assert.NotNil(t, conv)
}

func TestRecord_NameRepairOnLaterInbound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	profiles := &mockProfiles{}
	jid := "5511999999999@s.whatsapp.net"

	// Created by an outbound message: the name is just the number.
	out := inbound(jid, "My Business", "Hello from the shop", "OUT1")
	out.FromMe = true
	first, err := f.resolver.Record(ctx, Scope{TenantID: "acme", Profiles: profiles}, out)
	require.NoError(t, err)

	// Provider knows nothing yet: the plausible push name replaces the number.
	profiles.On("FetchProfile", mock.Anything, "5511999999999").Return(nil, errors.New("timeout")).Once()
	profiles.On("FetchProfile", mock.Anything, "551199999999").Return(nil, errors.New("timeout")).Once()
	f.advance(time.Minute)
	_, err = f.resolver.Record(ctx, Scope{TenantID: "acme", Profiles: profiles}, inbound(jid, "Joao", "oi", "IN1"))
	require.NoError(t, err)
	conv, err := f.db.GetConversationByID(ctx, first.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, "Joao", conv.ContactName)

	// Stored name equals the push name, so the lookup is retried.
	profiles.On("FetchProfile", mock.Anything, "5511999999999").Return(&types.Profile{Name: "João Pedro"}, nil).Once()
	f.advance(time.Minute)
	_, err = f.resolver.Record(ctx, Scope{TenantID: "acme", Profiles: profiles}, inbound(jid, "Joao", "tudo bem?", "IN2"))
	require.NoError(t, err)
	conv, err = f.db.GetConversationByID(ctx, first.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, "João Pedro", conv.ContactName)

	// A resolved name is left alone.
	f.advance(time.Minute)
	_, err = f.resolver.Record(ctx, Scope{TenantID: "acme", Profiles: profiles}, inbound(jid, "Joao", "ok", "IN3"))
	require.NoError(t, err)
	profiles.AssertExpectations(t)
	profiles.AssertNumberOfCalls(t, "FetchProfile", 3)
}

func TestRecord_NameRepairOnLaterOutbound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	profiles := &mockProfiles{}
	jid := "5511999999999@s.whatsapp.net"
	scope := Scope{TenantID: "acme", Profiles: profiles}

	first := inbound(jid, "My Business", "Hello from the shop", "OUT1")
	first.FromMe = true
	out, err := f.resolver.Record(ctx, scope, first)
	require.NoError(t, err)

	// No profile yet: the account's own push name is never used.
	profiles.On("FetchProfile", mock.Anything, "5511999999999").Return(nil, errors.New("timeout")).Once()
	profiles.On("FetchProfile", mock.Anything, "551199999999").Return(nil, errors.New("timeout")).Once()
	second := inbound(jid, "My Business", "Are you there?", "OUT2")
	second.FromMe = true
	f.advance(time.Minute)
	_, err = f.resolver.Record(ctx, scope, second)
	require.NoError(t, err)
	conv, err := f.db.GetConversationByID(ctx, out.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, "5511999999999", conv.ContactName)

	profiles.On("FetchProfile", mock.Anything, "5511999999999").Return(&types.Profile{Name: "Maria Silva"}, nil).Once()
	third := inbound(jid, "My Business", "Following up on your order", "OUT3")
	third.FromMe = true
	f.advance(time.Minute)
	_, err = f.resolver.Record(ctx, scope, third)
	require.NoError(t, err)
	conv, err = f.db.GetConversationByID(ctx, out.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, "Maria Silva", conv.ContactName)
	assert.Equal(t, 0, conv.UnreadCount)
	profiles.AssertExpectations(t)
}

func TestRecord_ResolvedConversationReopensOnInbound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	jid := "5511999999999@s.whatsapp.net"

	first, err := f.resolver.Record(ctx, acme, inbound(jid, "Maria", "Hello", "M1"))
	require.NoError(t, err)
	require.NoError(t, f.db.UpdateConversationStatus(ctx, first.ConversationID, models.ConversationResolved))

	reply := inbound(jid, "", "Thanks!", "OUT1")
	reply.FromMe = true
	f.advance(time.Minute)
	_, err = f.resolver.Record(ctx, acme, reply)
	require.NoError(t, err)
	conv, err := f.db.GetConversationByID(ctx, first.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, models.ConversationResolved, conv.Status)

	f.advance(time.Minute)
	_, err = f.resolver.Record(ctx, acme, inbound(jid, "Maria", "One more question", "M2"))
	require.NoError(t, err)
	conv, err = f.db.GetConversationByID(ctx, first.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, models.ConversationWaiting, conv.Status)
	assert.Equal(t, 2, conv.UnreadCount)
	assert.Equal(t, 3, conv.TotalMessages)
}

func TestResolve_RequiresContact(t *testing.T) {
	f := newFixture(t)
	_, err := f.resolver.Resolve(context.Background(), acme, inbound("", "", "x", ""))
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))
}

func TestContactPhone(t *testing.T) {
	r := NewResolver(nil, nil, Config{}, nil)
	assert.Equal(t, "5511999999999", r.ContactPhone("11999999999@s.whatsapp.net"))
	assert.Equal(t, "5511999999999", r.ContactPhone("5511999999999"))
	assert.Equal(t, "120363025246125888", r.ContactPhone("120363025246125888@g.us"))
}
