package main

import (
	"net/http"
	"strings"

	apperrors "leadwire/internal/errors"
	"leadwire/internal/validation"
	"leadwire/pkg/provider/types"

	"github.com/gorilla/mux"
)

type sendOptions struct {
	ReplyTo      string `json:"replyTo,omitempty"`
	SkipPresence bool   `json:"skipPresence,omitempty"`
}

func (o sendOptions) toProvider() types.SendOptions {
	return types.SendOptions{ReplyTo: o.ReplyTo, SkipPresence: o.SkipPresence}
}

type sendTextRequest struct {
	sendOptions
	To   string `json:"to"`
	Text string `json:"text"`
}

type sendAudioRequest struct {
	sendOptions
	To          string `json:"to"`
	Audio       string `json:"audio"`
	DurationSec int    `json:"durationSec,omitempty"`
}

type sendMediaRequest struct {
	sendOptions
	To       string `json:"to"`
	Kind     string `json:"kind"`
	Media    string `json:"media"`
	MimeType string `json:"mimeType,omitempty"`
	Caption  string `json:"caption,omitempty"`
	FileName string `json:"fileName,omitempty"`
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return apperrors.NewValidationError(field, field+" is required")
	}
	return nil
}

func (s *Server) handleSendText() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sendTextRequest
		if err := decodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := required("to", req.To); err != nil {
			s.writeError(w, r, err)
			return
		}
		res, err := s.sender.SendText(r.Context(), mux.Vars(r)["id"], req.To, req.Text, req.toProvider())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) handleSendAudio() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sendAudioRequest
		if err := decodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := required("to", req.To); err != nil {
			s.writeError(w, r, err)
			return
		}
		if req.DurationSec < 0 {
			s.writeError(w, r, apperrors.NewValidationError("durationSec", "must not be negative"))
			return
		}
		res, err := s.sender.SendAudio(r.Context(), mux.Vars(r)["id"], req.To, req.Audio, req.DurationSec, req.toProvider())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) handleSendMedia() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sendMediaRequest
		if err := decodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := required("to", req.To); err != nil {
			s.writeError(w, r, err)
			return
		}
		media := types.MediaRequest{
			Kind:     types.MediaKind(strings.ToLower(req.Kind)),
			Media:    req.Media,
			MimeType: req.MimeType,
			Caption:  req.Caption,
			FileName: req.FileName,
		}
		res, err := s.sender.SendMedia(r.Context(), mux.Vars(r)["id"], req.To, media, req.toProvider())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) handleDeleteMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		if err := validation.ValidateMessageID(vars["messageID"]); err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := s.sender.DeleteMessage(r.Context(), vars["id"], vars["messageID"]); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
