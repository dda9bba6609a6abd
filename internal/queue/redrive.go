package queue

import (
	"context"

	apperrors "leadwire/internal/errors"
	"leadwire/internal/models"
	"leadwire/pkg/provider/types"

	"github.com/sirupsen/logrus"
)

// ItemResult is the re-drive outcome of one queue item.
type ItemResult struct {
	QueueItemID string `json:"queueId"`
	Status      Status `json:"status"`
	Error       string `json:"error,omitempty"`
}

// RedriveReport summarizes one re-drive pass.
type RedriveReport struct {
	Processed int          `json:"processed"`
	Failed    int          `json:"failed"`
	Ignored   int          `json:"ignored"`
	Results   []ItemResult `json:"results"`
}

func (r *RedriveReport) add(id string, res Result) {
	switch res.Status {
	case StatusProcessed:
		r.Processed++
	case StatusIgnored:
		r.Ignored++
	case StatusQueuedForRetry:
		r.Failed++
	default:
		return
	}
	r.Results = append(r.Results, ItemResult{QueueItemID: id, Status: res.Status, Error: res.Error})
}

// Redrive processes up to limit items: failed items with attempts left,
// then pending items older than the grace period. It is safe to run
// concurrently with webhook handling; every attempt claims its item.
func (i *Ingestor) Redrive(ctx context.Context, limit int) (RedriveReport, error) {
	if limit <= 0 || limit > i.cfg.BatchSize {
		limit = i.cfg.BatchSize
	}
	var report RedriveReport

	failed, err := i.store.ListRedrivable(ctx, i.cfg.MaxAttempts, limit)
	if err != nil {
		return report, err
	}
	for _, item := range failed {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		moved, err := i.store.TransitionQueueItem(ctx, item.ID, []models.QueueStatus{models.QueueFailed}, models.QueuePending, item.Error)
		if err != nil {
			return report, err
		}
		if !moved {
			continue
		}
		report.add(item.ID, i.replay(ctx, item))
	}

	if remaining := limit - len(failed); remaining > 0 {
		pending, err := i.store.ListStalePending(ctx, i.now().Add(-i.cfg.PendingGrace), remaining)
		if err != nil {
			return report, err
		}
		for _, item := range pending {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			report.add(item.ID, i.replay(ctx, item))
		}
	}

	if report.Processed+report.Failed+report.Ignored > 0 {
		i.logger.WithFields(logrus.Fields{
			"processed": report.Processed,
			"failed":    report.Failed,
			"ignored":   report.Ignored,
		}).Info("Queue re-drive complete")
	}
	return report, nil
}

// RetryItem re-drives one failed or pending item regardless of its
// attempt count. Completed and ignored items are left untouched.
func (i *Ingestor) RetryItem(ctx context.Context, id string) (Result, error) {
	item, err := i.store.GetQueueItem(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if item == nil {
		return Result{}, apperrors.NewNotFoundError("queue item", id)
	}

	switch item.Status {
	case models.QueueFailed:
		moved, err := i.store.TransitionQueueItem(ctx, id, []models.QueueStatus{models.QueueFailed}, models.QueuePending, item.Error)
		if err != nil {
			return Result{}, err
		}
		if !moved {
			return Result{Status: StatusQueued, QueueItemID: id, Reason: "not claimed"}, nil
		}
	case models.QueuePending:
	default:
		return Result{}, apperrors.NewValidationError("status", "queue item is "+string(item.Status))
	}
	return i.replay(ctx, item), nil
}

// replay parses a stored payload again and processes it. An item whose
// payload no longer parses is ignored.
func (i *Ingestor) replay(ctx context.Context, item *models.QueueItem) Result {
	env, err := i.parsers.Parse(types.Variant(item.Provider), item.Payload)
	if err != nil {
		i.finish(ctx, item.ID, models.QueueIgnored, err.Error(), []models.QueueStatus{models.QueuePending})
		return Result{Status: StatusIgnored, QueueItemID: item.ID, Error: err.Error()}
	}
	return i.process(ctx, item, env)
}
