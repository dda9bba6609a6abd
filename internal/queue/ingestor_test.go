package queue

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"leadwire/internal/conversation"
	"leadwire/internal/credentials"
	"leadwire/internal/database"
	apperrors "leadwire/internal/errors"
	"leadwire/internal/events"
	"leadwire/internal/models"
	"leadwire/internal/normalizer"
	"leadwire/internal/webhook"
	"leadwire/pkg/provider/providertest"
	"leadwire/pkg/provider/types"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const textBody = `{
	"event": "messages.upsert",
	"instance": "acme-main",
	"data": {
		"key": {"remoteJid": "5511988887777@s.whatsapp.net", "fromMe": false, "id": "3EB0AA01"},
		"pushName": "Maria",
		"message": {"conversation": "Oi, tudo bem?"},
		"messageTimestamp": 1760000000
	}
}`

type stubCreds struct {
	mu       sync.Mutex
	provider types.Provider
	err      error
	calls    int
}

func (s *stubCreds) Provider(_ context.Context, instanceID string) (types.Provider, credentials.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, credentials.Credential{}, s.err
	}
	return s.provider, credentials.Credential{InstanceID: instanceID, Variant: types.VariantEvolution}, nil
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

func (p *recordingPublisher) has(eventType string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.events {
		if e.Type == eventType {
			return true
		}
	}
	return false
}

type fixture struct {
	db       *database.Database
	creds    *stubCreds
	pub      *recordingPublisher
	ingestor *Ingestor
	instance *models.ChannelInstance
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	t.Setenv("LEADWIRE_ENCRYPTION_SECRET", "")
	db, err := database.New(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	inst := &models.ChannelInstance{Name: "acme-main", TenantID: "tenant-1", Provider: types.VariantEvolution, APIKey: "tok"}
	require.NoError(t, db.CreateInstance(ctx, inst))

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	f := &fixture{
		db:       db,
		creds:    &stubCreds{provider: providertest.New(types.VariantEvolution, "acme-main")},
		pub:      &recordingPublisher{},
		instance: inst,
	}
	recorder := conversation.NewResolver(db, f.pub, conversation.Config{}, logger)
	f.ingestor = NewIngestor(db, webhook.NewParsers(nil), f.creds, normalizer.New(nil, time.Second, logger), recorder, f.pub, cfg, logger)
	return f
}

func (f *fixture) item(t *testing.T, id string) *models.QueueItem {
	t.Helper()
	item, err := f.db.GetQueueItem(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, item)
	return item
}

func TestHandle_ProcessesMessage(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	res, err := f.ingestor.Handle(ctx, types.VariantEvolution, []byte(textBody))
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, res.Status)
	assert.Equal(t, 1, res.Processed)
	assert.Zero(t, res.Skipped)

	item := f.item(t, res.QueueItemID)
	assert.Equal(t, models.QueueCompleted, item.Status)
	assert.Equal(t, 1, item.Attempts)
	assert.Equal(t, "acme-main", item.InstanceName)
	assert.Equal(t, "3EB0AA01", item.MessageID)
	assert.Equal(t, "5511988887777@s.whatsapp.net", item.RemoteJID)
	assert.Equal(t, 100, item.Priority)
	assert.NotNil(t, item.ProcessedAt)

	conv, err := f.db.GetConversation(ctx, "tenant-1", "5511988887777")
	require.NoError(t, err)
	require.NotNil(t, conv)
	assert.Equal(t, "Maria", conv.ContactName)
	assert.Equal(t, "Oi, tudo bem?", conv.LastMessage)
	assert.True(t, f.pub.has(events.TypeMessageReceived))
}

func TestHandle_RepeatedDeliveryIsSkipped(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	_, err := f.ingestor.Handle(ctx, types.VariantEvolution, []byte(textBody))
	require.NoError(t, err)
	res, err := f.ingestor.Handle(ctx, types.VariantEvolution, []byte(textBody))
	require.NoError(t, err)

	assert.Equal(t, StatusProcessed, res.Status)
	assert.Zero(t, res.Processed)
	assert.Equal(t, 1, res.Skipped)
}

func TestHandle_RejectsWithoutInstanceContext(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	res, err := f.ingestor.Handle(ctx, types.VariantEvolution, []byte(`{"event":"messages.upsert","data":{}}`))
	assert.ErrorIs(t, err, webhook.ErrNoInstance)
	assert.Equal(t, StatusError, res.Status)

	res, err = f.ingestor.Handle(ctx, types.VariantUazapi, []byte(`{not json`))
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodePayload))
	assert.Equal(t, StatusError, res.Status)

	depth, err := f.db.QueueDepth(ctx)
	require.NoError(t, err)
	assert.Empty(t, depth)
}

func TestHandle_IgnoredOutcomes(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		reason   string
		skipped  int
		hasError bool
	}{
		{
			name:   "non message event",
			body:   `{"event":"qrcode.updated","instance":"acme-main","data":{}}`,
			reason: "not a message event",
		},
		{
			name:   "unknown instance",
			body:   `{"event":"messages.upsert","instance":"ghost","data":{"key":{"remoteJid":"5511988887777@s.whatsapp.net","id":"X1"},"message":{"conversation":"hi"}}}`,
			reason: "unknown instance",
		},
		{
			name:    "broadcast only",
			body:    `{"event":"messages.upsert","instance":"acme-main","data":{"key":{"remoteJid":"status@broadcast","id":"S1"},"message":{"conversation":"story"}}}`,
			reason:  "no message entries",
			skipped: 1,
		},
		{
			name:     "malformed data",
			body:     `{"event":"messages.upsert","instance":"acme-main","data":{"messages":"nope"}}`,
			hasError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Config{})
			res, err := f.ingestor.Handle(context.Background(), types.VariantEvolution, []byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, StatusIgnored, res.Status)
			assert.Equal(t, tt.reason, res.Reason)
			assert.Equal(t, tt.skipped, res.Skipped)
			assert.Equal(t, tt.hasError, res.Error != "")
			assert.Equal(t, models.QueueIgnored, f.item(t, res.QueueItemID).Status)
			assert.Zero(t, f.creds.calls)
		})
	}
}

func TestHandle_ConnectionUpdate(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	res, err := f.ingestor.Handle(ctx, types.VariantEvolution, []byte(`{"event":"connection.update","instance":"acme-main","data":{"state":"open"}}`))
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, res.Status)
	assert.Equal(t, models.QueueCompleted, f.item(t, res.QueueItemID).Status)

	inst, err := f.db.GetInstance(ctx, f.instance.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusConnected, inst.Status)
	assert.True(t, f.pub.has(events.TypeInstanceStatus))
}

func TestHandle_FailureIsLeftForRedrive(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.creds.err = apperrors.NewCredentialError("acme-main")

	res, err := f.ingestor.Handle(ctx, types.VariantEvolution, []byte(textBody))
	require.NoError(t, err)
	assert.Equal(t, StatusQueuedForRetry, res.Status)
	assert.NotEmpty(t, res.Error)

	item := f.item(t, res.QueueItemID)
	assert.Equal(t, models.QueueFailed, item.Status)
	assert.Equal(t, 1, item.Attempts)
	assert.NotEmpty(t, item.Error)

	// operator fixes the token
	f.creds.err = nil
	report, err := f.ingestor.Redrive(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Processed)
	require.Len(t, report.Results, 1)
	assert.Equal(t, res.QueueItemID, report.Results[0].QueueItemID)

	item = f.item(t, res.QueueItemID)
	assert.Equal(t, models.QueueCompleted, item.Status)
	assert.Equal(t, 2, item.Attempts)

	// nothing left
	report, err = f.ingestor.Redrive(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, report.Results)
}

func TestRedrive_RespectsMaxAttempts(t *testing.T) {
	f := newFixture(t, Config{MaxAttempts: 1})
	ctx := context.Background()
	f.creds.err = errors.New("provider down")

	res, err := f.ingestor.Handle(ctx, types.VariantEvolution, []byte(textBody))
	require.NoError(t, err)
	require.Equal(t, StatusQueuedForRetry, res.Status)

	report, err := f.ingestor.Redrive(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, report.Results)

	// an explicit retry ignores the attempt budget
	f.creds.err = nil
	out, err := f.ingestor.RetryItem(ctx, res.QueueItemID)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, out.Status)
	assert.Equal(t, models.QueueCompleted, f.item(t, res.QueueItemID).Status)
}

func TestRetryItem_Errors(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	_, err := f.ingestor.RetryItem(ctx, "missing")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))

	res, err := f.ingestor.Handle(ctx, types.VariantEvolution, []byte(textBody))
	require.NoError(t, err)
	_, err = f.ingestor.RetryItem(ctx, res.QueueItemID)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))
}

func TestHandle_DeferredProcessing(t *testing.T) {
	f := newFixture(t, Config{DeferProcessing: true})
	ctx := context.Background()

	res, err := f.ingestor.Handle(ctx, types.VariantEvolution, []byte(textBody))
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, res.Status)
	assert.Equal(t, models.QueuePending, f.item(t, res.QueueItemID).Status)
	assert.Zero(t, f.creds.calls)

	// still inside the grace period
	report, err := f.ingestor.Redrive(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, report.Results)

	f.ingestor.now = func() time.Time { return time.Now().Add(time.Hour) }
	report, err = f.ingestor.Redrive(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, models.QueueCompleted, f.item(t, res.QueueItemID).Status)
}

type failingQueue struct {
	*database.Database
}

func (failingQueue) EnqueueWebhook(context.Context, *models.QueueItem) error {
	return errors.New("disk full")
}

func TestHandle_QueueErrorIsAcknowledged(t *testing.T) {
	f := newFixture(t, Config{})
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	ing := NewIngestor(failingQueue{f.db}, webhook.NewParsers(nil), f.creds, normalizer.New(nil, time.Second, logger), nil, nil, Config{}, logger)

	res, err := ing.Handle(context.Background(), types.VariantEvolution, []byte(textBody))
	require.NoError(t, err)
	assert.Equal(t, StatusQueueError, res.Status)
	assert.Equal(t, "disk full", res.Error)
	assert.Empty(t, res.QueueItemID)
	// nothing is processed without a stored queue item
	assert.Zero(t, f.creds.calls)
}

func TestHandle_UazapiMessage(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	uaz := &models.ChannelInstance{Name: "diogo", TenantID: "tenant-2", Provider: types.VariantUazapi, APIKey: "t"}
	require.NoError(t, f.db.CreateInstance(ctx, uaz))

	body := `{
		"EventType": "messages",
		"instanceName": "diogo",
		"message": {
			"id": "B1", "chatid": "5511977776666@s.whatsapp.net", "fromMe": false,
			"text": "Quero um orçamento", "messageType": "Conversation",
			"senderName": "Cleide", "messageTimestamp": 1760000000000
		}
	}`
	res, err := f.ingestor.Handle(ctx, types.VariantUazapi, []byte(body))
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, res.Status)
	assert.Equal(t, 1, res.Processed)

	conv, err := f.db.GetConversation(ctx, "tenant-2", "5511977776666")
	require.NoError(t, err)
	require.NotNil(t, conv)
	assert.Equal(t, "Cleide", conv.ContactName)
}
