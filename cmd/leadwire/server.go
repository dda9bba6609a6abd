package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"leadwire/internal/constants"
	"leadwire/internal/credentials"
	"leadwire/internal/database"
	apperrors "leadwire/internal/errors"
	"leadwire/internal/metrics"
	"leadwire/internal/middleware"
	"leadwire/internal/models"
	"leadwire/internal/outbound"
	"leadwire/internal/queue"
	"leadwire/internal/tracing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Dependencies are the collaborators the HTTP layer dispatches to. Hub and
// Media are optional.
type Dependencies struct {
	DB          *database.Database
	Factory     credentials.ProviderFactory
	Credentials *credentials.Resolver
	Sender      *outbound.Sender
	Ingestor    *queue.Ingestor
	Hub         http.Handler
	Media       http.Handler
	Limiter     *middleware.RateLimiter
}

type Server struct {
	cfg      *models.Config
	router   *mux.Router
	logger   *logrus.Logger
	db       *database.Database
	factory  credentials.ProviderFactory
	creds    *credentials.Resolver
	sender   *outbound.Sender
	ingestor *queue.Ingestor
	hub      http.Handler
	media    http.Handler
	limiter  *middleware.RateLimiter
	server   *http.Server
}

func NewServer(cfg *models.Config, deps Dependencies, logger *logrus.Logger) *Server {
	if deps.Limiter == nil {
		deps.Limiter = middleware.NewRateLimiter(float64(cfg.Server.RateLimitPerSec), cfg.Server.RateLimitBurst)
	}
	s := &Server{
		cfg:      cfg,
		router:   mux.NewRouter(),
		logger:   logger,
		db:       deps.DB,
		factory:  deps.Factory,
		creds:    deps.Credentials,
		sender:   deps.Sender,
		ingestor: deps.Ingestor,
		hub:      deps.Hub,
		media:    deps.Media,
		limiter:  deps.Limiter,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Observability(s.logger))
	s.router.Use(middleware.DetailedLogging(s.logger, middleware.DefaultDetailedLoggingConfig()))

	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	// Providers deliver every callback from a few addresses and do not
	// resend on 429, so webhooks are never rate limited.
	webhooks := s.router.PathPrefix("/webhook").Subrouter()
	webhooks.HandleFunc("/{provider}", s.handleWebhook()).Methods(http.MethodPost)

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(middleware.APIKey(s.cfg.Server.APIKey))
	api.Use(s.limiter.Middleware())

	api.HandleFunc("/instances", s.handleCreateInstance()).Methods(http.MethodPost)
	api.HandleFunc("/instances", s.handleListInstances()).Methods(http.MethodGet)
	api.HandleFunc("/instances/{id}", s.handleGetInstance()).Methods(http.MethodGet)
	api.HandleFunc("/instances/{id}", s.handleDeleteInstance()).Methods(http.MethodDelete)
	api.HandleFunc("/instances/{id}/status", s.handleInstanceStatus()).Methods(http.MethodGet)
	api.HandleFunc("/instances/{id}/connect", s.handleConnect()).Methods(http.MethodPost)
	api.HandleFunc("/instances/{id}/logout", s.handleLogout()).Methods(http.MethodPost)
	api.HandleFunc("/instances/{id}/restart", s.handleRestart()).Methods(http.MethodPost)
	api.HandleFunc("/instances/{id}/token", s.handleRotateToken()).Methods(http.MethodPut)
	api.HandleFunc("/instances/{id}/profile/{number}", s.handleProfile()).Methods(http.MethodGet)

	api.HandleFunc("/instances/{id}/send/text", s.handleSendText()).Methods(http.MethodPost)
	api.HandleFunc("/instances/{id}/send/audio", s.handleSendAudio()).Methods(http.MethodPost)
	api.HandleFunc("/instances/{id}/send/media", s.handleSendMedia()).Methods(http.MethodPost)
	api.HandleFunc("/instances/{id}/messages/{messageID}", s.handleDeleteMessage()).Methods(http.MethodDelete)

	api.HandleFunc("/queue", s.handleListQueue()).Methods(http.MethodGet)
	api.HandleFunc("/queue/stats", s.handleQueueStats()).Methods(http.MethodGet)
	api.HandleFunc("/queue/redrive", s.handleRedrive()).Methods(http.MethodPost)
	api.HandleFunc("/queue/{id}", s.handleGetQueueItem()).Methods(http.MethodGet)
	api.HandleFunc("/queue/{id}/retry", s.handleRetryQueueItem()).Methods(http.MethodPost)

	api.HandleFunc("/cache/stats", s.handleCacheStats()).Methods(http.MethodGet)

	if s.media != nil {
		s.router.PathPrefix("/media/").Handler(s.media).Methods(http.MethodGet, http.MethodHead)
	}
	if s.hub != nil {
		ws := s.router.PathPrefix("/ws").Subrouter()
		ws.Use(middleware.APIKey(s.cfg.Server.APIKey))
		ws.Handle("/events", s.hub).Methods(http.MethodGet)
	}
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(s.cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.Server.IdleTimeoutSec) * time.Second,
	}

	s.logger.Infof("Starting server on port %d", s.cfg.Server.Port)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := map[string]interface{}{"status": "healthy", "database": "ok"}
		code := http.StatusOK
		if err := s.db.Ping(ctx); err != nil {
			s.logger.WithError(err).Warn("Health check: database unreachable")
			status["status"] = "unhealthy"
			status["database"] = "unreachable"
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, status)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// writeError maps err onto its HTTP status and the standard error body.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	entry := s.logger.WithFields(tracing.Fields(r.Context())).WithError(err)
	if status >= http.StatusInternalServerError {
		entry.Error("Request failed")
	} else {
		entry.Debug("Request rejected")
	}
	writeJSON(w, status, apperrors.ToHTTPResponse(err, tracing.RequestID(r.Context())))
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxRequestBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid request body")
	}
	return nil
}
