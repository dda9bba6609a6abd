package main

import (
	"net/http"
	"strconv"

	"leadwire/internal/constants"
	apperrors "leadwire/internal/errors"
	"leadwire/internal/models"
	"leadwire/internal/tracing"
	"leadwire/pkg/provider/types"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

func (s *Server) webhookSecret(variant types.Variant) string {
	switch variant {
	case types.VariantEvolution:
		return s.cfg.Providers.Evolution.WebhookSecret
	case types.VariantUazapi:
		return s.cfg.Providers.Uazapi.WebhookSecret
	}
	return ""
}

// handleWebhook acknowledges every delivery that names an instance with 200
// and the ingestion result, so providers do not retry what is already
// queued. A bad signature answers 401 and a body without instance context
// answers 400.
func (s *Server) handleWebhook() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		variant, ok := types.ParseVariant(mux.Vars(r)["provider"])
		if !ok {
			s.writeError(w, r, apperrors.NewValidationError("provider", "unsupported provider "+mux.Vars(r)["provider"]))
			return
		}

		body, err := verifySignature(r, s.webhookSecret(variant), constants.DefaultWebhookSignatureHeader)
		if err != nil {
			s.logger.WithFields(tracing.Fields(r.Context())).WithFields(logrus.Fields{
				"provider": variant,
				"error":    err,
			}).Warn("Rejected webhook")
			s.writeError(w, r, apperrors.Wrap(err, apperrors.ErrCodeUnauthorized, "invalid webhook signature"))
			return
		}

		res, err := s.ingestor.Handle(r.Context(), variant, body)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, res)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) handleRedrive() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := queryInt(r, "limit", 0)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		report, err := s.ingestor.Redrive(r.Context(), limit)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

func (s *Server) handleListQueue() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := models.QueueStatus(r.URL.Query().Get("status"))
		if status == "" {
			status = models.QueueFailed
		}
		switch status {
		case models.QueuePending, models.QueueProcessing, models.QueueCompleted, models.QueueFailed, models.QueueIgnored:
		default:
			s.writeError(w, r, apperrors.NewValidationError("status", "unknown queue status "+string(status)))
			return
		}

		limit, err := queryInt(r, "limit", constants.DefaultQueueListLimit)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if limit <= 0 || limit > constants.MaxQueueListLimit {
			limit = constants.MaxQueueListLimit
		}

		items, err := s.db.ListQueueItems(r.Context(), status, limit)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if items == nil {
			items = []*models.QueueItem{}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": status, "items": items})
	}
}

func (s *Server) handleQueueStats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		depth, err := s.db.QueueDepth(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, depth)
	}
}

func (s *Server) handleGetQueueItem() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		item, err := s.db.GetQueueItem(r.Context(), id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if item == nil {
			s.writeError(w, r, apperrors.NewNotFoundError("queue item", id))
			return
		}
		writeJSON(w, http.StatusOK, item)
	}
}

func (s *Server) handleRetryQueueItem() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := s.ingestor.RetryItem(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) handleCacheStats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.creds.Stats())
	}
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperrors.NewValidationError(name, "must be a non-negative integer")
	}
	return n, nil
}
