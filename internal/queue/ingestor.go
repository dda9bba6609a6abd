// Package queue runs the webhook state machine: every delivery is stored
// as a pending queue item before it is processed, failures stay in the
// queue, and a re-drive picks them up again.
package queue

import (
	"context"
	"fmt"
	"time"

	"leadwire/internal/constants"
	"leadwire/internal/conversation"
	"leadwire/internal/credentials"
	apperrors "leadwire/internal/errors"
	"leadwire/internal/events"
	"leadwire/internal/metrics"
	"leadwire/internal/models"
	"leadwire/internal/normalizer"
	"leadwire/internal/privacy"
	"leadwire/internal/tracing"
	"leadwire/internal/webhook"
	"leadwire/pkg/provider/types"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// Status is the discriminator returned to the webhook caller.
type Status string

const (
	StatusProcessed      Status = "processed"
	StatusQueued         Status = "queued"
	StatusQueuedForRetry Status = "queued_for_retry"
	StatusIgnored        Status = "ignored"
	StatusQueueError     Status = "queue_error"
	StatusError          Status = "error"
)

// Result is the body of the webhook acknowledgment.
type Result struct {
	Status      Status `json:"status"`
	QueueItemID string `json:"queueId,omitempty"`
	Processed   int    `json:"processed"`
	Skipped     int    `json:"skipped"`
	Reason      string `json:"reason,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Store is the queue and instance persistence the ingestor needs.
type Store interface {
	EnqueueWebhook(ctx context.Context, item *models.QueueItem) error
	GetQueueItem(ctx context.Context, id string) (*models.QueueItem, error)
	TransitionQueueItem(ctx context.Context, id string, from []models.QueueStatus, to models.QueueStatus, errMsg string) (bool, error)
	ListRedrivable(ctx context.Context, maxAttempts, limit int) ([]*models.QueueItem, error)
	ListStalePending(ctx context.Context, before time.Time, limit int) ([]*models.QueueItem, error)
	GetInstanceByName(ctx context.Context, name string) (*models.ChannelInstance, error)
	UpdateInstanceStatusByName(ctx context.Context, name string, status types.ConnectionStatus) (bool, error)
}

type ProviderResolver interface {
	Provider(ctx context.Context, instanceID string) (types.Provider, credentials.Credential, error)
}

type Normalizer interface {
	Normalize(ctx context.Context, provider types.Variant, entry webhook.Entry, fetcher normalizer.MediaFetcher) models.UnifiedMessage
}

type Recorder interface {
	Record(ctx context.Context, scope conversation.Scope, msg models.UnifiedMessage) (conversation.Outcome, error)
}

type Config struct {
	MaxAttempts int
	BatchSize   int
	// DeferProcessing stores deliveries and leaves them to the re-drive.
	DeferProcessing bool
	// PendingGrace is how long a pending item may sit before the re-drive
	// treats it as abandoned.
	PendingGrace time.Duration
}

type Ingestor struct {
	store     Store
	parsers   webhook.Parsers
	creds     ProviderResolver
	norm      Normalizer
	recorder  Recorder
	publisher events.Publisher
	cfg       Config
	now       func() time.Time
	logger    *logrus.Logger
}

func NewIngestor(store Store, parsers webhook.Parsers, creds ProviderResolver, norm Normalizer, recorder Recorder, publisher events.Publisher, cfg Config, logger *logrus.Logger) *Ingestor {
	if logger == nil {
		logger = logrus.New()
	}
	if publisher == nil {
		publisher = events.Nop{}
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = constants.DefaultQueueMaxAttempts
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = constants.DefaultQueueBatchSize
	}
	if cfg.PendingGrace <= 0 {
		cfg.PendingGrace = constants.DefaultQueuePendingGrace
	}
	return &Ingestor{
		store:     store,
		parsers:   parsers,
		creds:     creds,
		norm:      norm,
		recorder:  recorder,
		publisher: publisher,
		cfg:       cfg,
		now:       time.Now,
		logger:    logger,
	}
}

// Handle ingests one webhook body. The returned error is non-nil only
// when the body carries no instance context at all; every other outcome
// is reported through Result.Status.
func (i *Ingestor) Handle(ctx context.Context, variant types.Variant, body []byte) (res Result, err error) {
	ctx, span := tracing.StartSpan(ctx, "webhook.ingest", attribute.String("provider", string(variant)))
	defer func() {
		span.SetAttributes(attribute.String("webhook.status", string(res.Status)))
		tracing.EndSpan(span, err)
		metrics.RecordWebhook(string(variant), string(res.Status))
	}()

	env, parseErr := i.parsers.Parse(variant, body)
	if env == nil {
		i.logger.WithError(parseErr).WithField("provider", variant).Warn("Rejected webhook without instance context")
		return Result{Status: StatusError, Error: parseErr.Error()}, parseErr
	}

	messageID, remoteJID := env.CorrelationIDs()
	item := &models.QueueItem{
		Provider:     string(variant),
		InstanceName: env.Instance,
		EventType:    env.Event,
		MessageID:    messageID,
		RemoteJID:    remoteJID,
		Payload:      body,
		Priority:     constants.DefaultQueuePriority,
	}
	log := i.logger.WithFields(logrus.Fields{
		"provider": variant,
		"instance": env.Instance,
		"event":    env.Event,
	})

	if err := i.store.EnqueueWebhook(ctx, item); err != nil {
		// Acknowledged anyway: the provider will not redeliver.
		log.WithError(err).Error("QUEUE PERSISTENCE FAILED: webhook acknowledged but not stored")
		return Result{Status: StatusQueueError, Error: err.Error()}, nil
	}
	metrics.RecordQueueTransition(string(models.QueuePending))
	span.SetAttributes(attribute.String("queue.item_id", item.ID))
	log = log.WithField("queue_item_id", item.ID)

	if parseErr != nil {
		i.finish(ctx, item.ID, models.QueueIgnored, parseErr.Error(), []models.QueueStatus{models.QueuePending})
		log.WithError(parseErr).Warn("Ignoring malformed webhook data")
		return Result{Status: StatusIgnored, QueueItemID: item.ID, Error: parseErr.Error()}, nil
	}

	if i.cfg.DeferProcessing {
		return Result{Status: StatusQueued, QueueItemID: item.ID, Reason: "deferred"}, nil
	}

	res = i.process(ctx, item, env)
	log.WithFields(logrus.Fields{
		"status":    res.Status,
		"processed": res.Processed,
		"skipped":   res.Skipped,
	}).Info("Webhook handled")
	return res, nil
}

// process runs one attempt for a pending item. It claims the item by
// moving it to processing; an item someone else claimed is left alone.
func (i *Ingestor) process(ctx context.Context, item *models.QueueItem, env *webhook.Envelope) Result {
	ctx, span := tracing.StartSpan(ctx, "queue.attempt",
		attribute.String("queue.item_id", item.ID),
		attribute.Int("queue.attempt", item.Attempts+1),
	)
	res := Result{QueueItemID: item.ID}

	claimed, err := i.store.TransitionQueueItem(ctx, item.ID, []models.QueueStatus{models.QueuePending}, models.QueueProcessing, "")
	if err != nil || !claimed {
		tracing.EndSpan(span, err)
		res.Status = StatusQueued
		res.Reason = "not claimed"
		if err != nil {
			res.Error = err.Error()
		}
		return res
	}
	metrics.RecordQueueTransition(string(models.QueueProcessing))

	to, reason, err := i.dispatch(ctx, env, &res)
	tracing.EndSpan(span, err)

	processing := []models.QueueStatus{models.QueueProcessing}
	switch to {
	case models.QueueCompleted:
		i.finish(ctx, item.ID, to, "", processing)
		res.Status = StatusProcessed
	case models.QueueIgnored:
		i.finish(ctx, item.ID, to, reason, processing)
		res.Status = StatusIgnored
		res.Reason = reason
	default:
		i.finish(ctx, item.ID, models.QueueFailed, err.Error(), processing)
		res.Status = StatusQueuedForRetry
		res.Error = err.Error()
		i.logger.WithError(err).WithFields(logrus.Fields{
			"queue_item_id": item.ID,
			"instance":      env.Instance,
			"retryable":     apperrors.IsRetryable(err),
		}).Warn("Webhook processing failed, left for re-drive")
	}
	return res
}

// dispatch applies the envelope and returns the terminal status. A
// non-nil error means the attempt failed.
func (i *Ingestor) dispatch(ctx context.Context, env *webhook.Envelope, res *Result) (models.QueueStatus, string, error) {
	res.Skipped = env.Filtered

	switch env.Kind {
	case webhook.KindConnection:
		return i.applyConnection(ctx, env)
	case webhook.KindMessage:
	default:
		return models.QueueIgnored, "not a message event", nil
	}

	if len(env.Entries) == 0 {
		return models.QueueIgnored, "no message entries", nil
	}

	inst, err := i.store.GetInstanceByName(ctx, env.Instance)
	if err != nil {
		return models.QueueFailed, "", err
	}
	if inst == nil {
		return models.QueueIgnored, "unknown instance", nil
	}

	provider, _, err := i.creds.Provider(ctx, inst.ID)
	if err != nil {
		// Retryable here: the operator may configure the token before the re-drive.
		return models.QueueFailed, "", apperrors.WrapRetryable(err, apperrors.GetCode(err), "resolve credentials")
	}

	scope := conversation.Scope{TenantID: inst.TenantID, InstanceID: inst.ID, Profiles: provider}
	for _, entry := range env.Entries {
		msg := i.norm.Normalize(ctx, env.Provider, entry, provider)
		out, err := i.recorder.Record(ctx, scope, msg)
		if err != nil {
			return models.QueueFailed, "", fmt.Errorf("record message %s: %w", privacy.MaskID(msg.ProviderMessageID), err)
		}
		if out.Skipped {
			res.Skipped++
		} else {
			res.Processed++
		}
	}
	return models.QueueCompleted, "", nil
}

func (i *Ingestor) applyConnection(ctx context.Context, env *webhook.Envelope) (models.QueueStatus, string, error) {
	if env.Connection == "" {
		return models.QueueIgnored, "no connection state", nil
	}
	found, err := i.store.UpdateInstanceStatusByName(ctx, env.Instance, env.Connection)
	if err != nil {
		return models.QueueFailed, "", err
	}
	if !found {
		return models.QueueIgnored, "unknown instance", nil
	}

	inst, err := i.store.GetInstanceByName(ctx, env.Instance)
	if err == nil && inst != nil {
		events.Emit(ctx, i.publisher, i.logger, events.TypeInstanceStatus, inst.TenantID, map[string]interface{}{
			"instanceId": inst.ID,
			"status":     env.Connection,
		})
	}
	return models.QueueCompleted, "", nil
}

// finish records the outcome even when the request context is gone.
func (i *Ingestor) finish(ctx context.Context, id string, to models.QueueStatus, errMsg string, from []models.QueueStatus) {
	moved, err := i.store.TransitionQueueItem(context.WithoutCancel(ctx), id, from, to, errMsg)
	if err != nil {
		i.logger.WithError(err).WithFields(logrus.Fields{
			"queue_item_id": id,
			"status":        to,
		}).Error("Failed to update queue item status")
		return
	}
	if moved {
		metrics.RecordQueueTransition(string(to))
	}
}
