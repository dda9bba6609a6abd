package main

import (
	stderrors "errors"
	"net/http"
	"strings"

	"leadwire/internal/database"
	apperrors "leadwire/internal/errors"
	"leadwire/internal/models"
	"leadwire/internal/privacy"
	"leadwire/internal/validation"
	"leadwire/pkg/provider/types"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

var webhookEvents = []string{"MESSAGES_UPSERT", "CONNECTION_UPDATE"}

type createInstanceRequest struct {
	Name       string `json:"name"`
	TenantID   string `json:"tenantId"`
	Provider   string `json:"provider"`
	WebhookURL string `json:"webhookUrl,omitempty"`
}

type createInstanceResponse struct {
	Instance *models.ChannelInstance `json:"instance"`
	QRCode   string                  `json:"qrCode,omitempty"`
}

type connectRequest struct {
	Phone string `json:"phone,omitempty"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

// defaultWebhookURL points a new instance at this service.
func (s *Server) defaultWebhookURL(variant types.Variant) string {
	if s.cfg.Server.PublicURL == "" {
		return ""
	}
	return strings.TrimRight(s.cfg.Server.PublicURL, "/") + "/webhook/" + string(variant)
}

// bootstrapToken is the credential used before an instance has its own.
func (s *Server) bootstrapToken(variant types.Variant) string {
	if variant == types.VariantEvolution {
		return s.cfg.Providers.Evolution.APIKey
	}
	return ""
}

func (s *Server) handleCreateInstance() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createInstanceRequest
		if err := decodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		variant, ok := types.ParseVariant(req.Provider)
		if !ok {
			s.writeError(w, r, apperrors.NewValidationError("provider", "unknown provider "+req.Provider))
			return
		}
		for _, err := range []error{
			validation.ValidateInstanceName(req.Name),
			validation.ValidateTenantID(req.TenantID),
			validation.ValidateWebhookURL(req.WebhookURL),
		} {
			if err != nil {
				s.writeError(w, r, err)
				return
			}
		}
		if existing, err := s.db.GetInstanceByName(r.Context(), req.Name); err != nil {
			s.writeError(w, r, err)
			return
		} else if existing != nil {
			s.writeError(w, r, apperrors.NewValidationError("name", "instance "+req.Name+" already exists"))
			return
		}

		p, err := s.factory.New(variant, req.Name, s.bootstrapToken(variant))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		webhookURL := req.WebhookURL
		if webhookURL == "" {
			webhookURL = s.defaultWebhookURL(variant)
		}
		info, err := p.CreateInstance(r.Context(), types.CreateInstanceRequest{
			Name:       req.Name,
			WebhookURL: webhookURL,
			Events:     webhookEvents,
		})
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		inst := &models.ChannelInstance{
			Name:     info.Name,
			TenantID: req.TenantID,
			Provider: variant,
			APIKey:   info.Token,
			Status:   info.Status,
		}
		if err := s.db.CreateInstance(r.Context(), inst); err != nil {
			if stderrors.Is(err, database.ErrDuplicate) {
				err = apperrors.NewValidationError("name", "instance "+inst.Name+" already exists")
			}
			s.writeError(w, r, err)
			return
		}

		// Evolution takes the webhook at creation time; Uazapi needs a
		// separate call with the new instance token.
		if variant == types.VariantUazapi && webhookURL != "" {
			if bound, err := s.factory.New(variant, inst.Name, inst.APIKey); err == nil {
				if err := bound.SetWebhook(r.Context(), webhookURL, nil); err != nil {
					s.logger.WithError(err).WithField("instance", inst.Name).Warn("Failed to register webhook for new instance")
				}
			}
		}

		s.logger.WithFields(logrus.Fields{
			"instance": inst.Name,
			"provider": variant,
			"tenant":   inst.TenantID,
		}).Info("Channel instance created")
		writeJSON(w, http.StatusCreated, createInstanceResponse{Instance: inst, QRCode: info.QRCode})
	}
}

func (s *Server) handleListInstances() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := s.db.ListInstances(r.Context(), r.URL.Query().Get("tenant"))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if list == nil {
			list = []*models.ChannelInstance{}
		}
		writeJSON(w, http.StatusOK, list)
	}
}

// instance loads the {id} path instance or writes a 404.
func (s *Server) instance(w http.ResponseWriter, r *http.Request) (*models.ChannelInstance, bool) {
	id := mux.Vars(r)["id"]
	inst, err := s.db.GetInstance(r.Context(), id)
	if err == nil && inst == nil {
		inst, err = s.db.GetInstanceByName(r.Context(), id)
	}
	if err != nil {
		s.writeError(w, r, err)
		return nil, false
	}
	if inst == nil {
		s.writeError(w, r, apperrors.NewNotFoundError("instance", id))
		return nil, false
	}
	return inst, true
}

// provider loads the {id} path instance and its bound provider.
func (s *Server) provider(w http.ResponseWriter, r *http.Request) (*models.ChannelInstance, types.Provider, bool) {
	inst, ok := s.instance(w, r)
	if !ok {
		return nil, nil, false
	}
	p, _, err := s.creds.Provider(r.Context(), inst.ID)
	if err != nil {
		s.writeError(w, r, err)
		return nil, nil, false
	}
	return inst, p, true
}

func (s *Server) handleGetInstance() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if inst, ok := s.instance(w, r); ok {
			writeJSON(w, http.StatusOK, inst)
		}
	}
}

// handleInstanceStatus asks the provider and persists what it reports.
func (s *Server) handleInstanceStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		inst, p, ok := s.provider(w, r)
		if !ok {
			return
		}
		res := p.GetStatus(r.Context())
		if res.Status != types.StatusError && res.Status != inst.Status {
			if err := s.db.UpdateInstanceStatus(r.Context(), inst.ID, res.Status, ""); err != nil {
				s.logger.WithError(err).WithField("instance", inst.Name).Warn("Failed to persist instance status")
			}
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) handleConnect() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req connectRequest
		if r.ContentLength > 0 {
			if err := decodeJSON(w, r, &req); err != nil {
				s.writeError(w, r, err)
				return
			}
		}
		inst, p, ok := s.provider(w, r)
		if !ok {
			return
		}
		res, err := p.RequestPairing(r.Context(), req.Phone)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if res.Status != "" {
			if err := s.db.UpdateInstanceStatus(r.Context(), inst.ID, res.Status, ""); err != nil {
				s.logger.WithError(err).WithField("instance", inst.Name).Warn("Failed to persist instance status")
			}
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) handleLogout() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		inst, p, ok := s.provider(w, r)
		if !ok {
			return
		}
		if err := p.Logout(r.Context()); err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := s.db.UpdateInstanceStatus(r.Context(), inst.ID, types.StatusDisconnected, ""); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleRestart() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, p, ok := s.provider(w, r)
		if !ok {
			return
		}
		if err := p.Restart(r.Context()); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

// handleRotateToken stores a new instance token and drops the cached one.
func (s *Server) handleRotateToken() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req tokenRequest
		if err := decodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		if strings.TrimSpace(req.Token) == "" {
			s.writeError(w, r, apperrors.NewValidationError("token", "token is required"))
			return
		}
		inst, ok := s.instance(w, r)
		if !ok {
			return
		}
		if err := s.db.UpdateInstanceToken(r.Context(), inst.ID, req.Token); err != nil {
			s.writeError(w, r, err)
			return
		}
		s.creds.InvalidateInstance(inst)
		s.logger.WithField("instance", inst.Name).Info("Instance token rotated")
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleDeleteInstance removes the instance at the provider, where
// supported, and then locally.
func (s *Server) handleDeleteInstance() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		inst, p, ok := s.provider(w, r)
		if !ok {
			return
		}
		if err := p.DeleteInstance(r.Context()); err != nil {
			if !apperrors.HasCode(err, apperrors.ErrCodeNotImplemented) {
				s.writeError(w, r, err)
				return
			}
			s.logger.WithField("instance", inst.Name).Info("Provider cannot delete instances; removing locally only")
		}
		if err := s.db.DeleteInstance(r.Context(), inst.ID); err != nil {
			s.writeError(w, r, err)
			return
		}
		s.creds.InvalidateInstance(inst)
		s.logger.WithField("instance", inst.Name).Info("Channel instance deleted")
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleProfile() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		number := mux.Vars(r)["number"]
		inst, p, ok := s.provider(w, r)
		if !ok {
			return
		}
		profile, err := p.FetchProfile(r.Context(), number)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if profile.PictureURL == "" {
			pic, err := p.FetchProfilePictureURL(r.Context(), number)
			if err != nil {
				s.logger.WithFields(privacy.Fields(logrus.Fields{
					"instance": inst.Name,
					"phone":    number,
					"error":    err,
				})).Debug("Profile picture unavailable")
			}
			profile.PictureURL = pic
		}
		writeJSON(w, http.StatusOK, profile)
	}
}
