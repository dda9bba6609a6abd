package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"leadwire/internal/config"
	"leadwire/internal/constants"
	"leadwire/internal/conversation"
	"leadwire/internal/credentials"
	"leadwire/internal/database"
	"leadwire/internal/events"
	"leadwire/internal/middleware"
	"leadwire/internal/models"
	"leadwire/internal/normalizer"
	"leadwire/internal/outbound"
	"leadwire/internal/queue"
	"leadwire/internal/retry"
	"leadwire/internal/storage"
	"leadwire/internal/tracing"
	"leadwire/internal/webhook"
	"leadwire/pkg/phone"
	"leadwire/pkg/provider"
	"leadwire/pkg/provider/types"

	"github.com/sirupsen/logrus"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	verbose    = flag.Bool("verbose", false, "Enable verbose logging (includes sensitive information)")
	configPath = flag.String("config", "config.json", "Path to configuration file")
	version    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("leadwire %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting leadwire")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	setLogLevel(logger, cfg.LogLevel)

	tracingManager := tracing.NewManager(cfg.Tracing, Version, logger)
	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	var db *database.Database
	backoff := retry.NewBackoff(retry.Config{
		InitialDelay: time.Duration(constants.DefaultRetryBackoffMs) * time.Millisecond,
		MaxDelay:     time.Duration(constants.DefaultMaxBackoffMs) * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  constants.DefaultDatabaseRetryAttempts,
		Jitter:       true,
	})
	err = backoff.Do(ctx, func(int) error {
		var initErr error
		db, initErr = database.New(cfg.Database.Path)
		if initErr != nil {
			logger.Warnf("Failed to initialize database: %v", initErr)
		}
		return initErr
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize database after retries: %w", err)
	}
	defer db.Close()

	app, err := wire(ctx, cfg, db, logger)
	if err != nil {
		return err
	}
	defer app.close()

	if err := app.sweeper.Start(ctx); err != nil {
		return fmt.Errorf("failed to start queue sweeper: %w", err)
	}
	defer app.sweeper.Stop()

	go pruneLimiter(ctx, app.limiter, logger)

	server := NewServer(cfg, app.deps(db), logger)
	serverErrCh := make(chan error, constants.DefaultServerErrorChanSize)
	go func() {
		if err := server.Start(); err != nil {
			serverErrCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErrCh:
		logger.Error(err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(constants.DefaultGracefulShutdownSec)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server gracefully: %w", err)
	}

	logger.Info("Server shutdown completed")
	return nil
}

func setLogLevel(logger *logrus.Logger, level string) {
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
		logger.Info("Verbose logging enabled - sensitive information will be logged")
		return
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		logger.Warnf("Invalid log level %q, defaulting to info", level)
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)
}

// application holds the wired components that outlive a single request.
type application struct {
	factory  *provider.Factory
	creds    *credentials.Resolver
	sender   *outbound.Sender
	ingestor *queue.Ingestor
	sweeper  *queue.Sweeper
	hub      *events.Hub
	media    *storage.LocalStore
	limiter  *middleware.RateLimiter
	amqp     *events.AMQPPublisher
	logger   *logrus.Logger
}

func wire(ctx context.Context, cfg *models.Config, db *database.Database, logger *logrus.Logger) (*application, error) {
	policy := phone.Policy{CountryCode: cfg.Phone.CountryCode, LocalLengths: cfg.Phone.LocalLengths}

	settings := provider.Settings{
		EvolutionURL:      cfg.Providers.Evolution.BaseURL,
		UazapiURL:         cfg.Providers.Uazapi.BaseURL,
		UazapiAdminToken:  cfg.Providers.Uazapi.AdminToken,
		Timeout:           time.Duration(cfg.Providers.TimeoutSec) * time.Second,
		MediaFetchTimeout: time.Duration(cfg.Providers.MediaFetchTimeout) * time.Second,
		Phone:             policy,
	}
	if cfg.Pacing.Disabled {
		settings.Sleeper = types.NoSleep
	}
	factory := provider.NewFactory(settings, logger)

	cache := credentials.NewCache(time.Duration(cfg.Credentials.CacheTTLSec)*time.Second, logger)
	creds := credentials.NewResolver(cache, db, factory, credentials.Fallbacks{
		types.VariantEvolution: cfg.Providers.Evolution.APIKey,
	}, logger)

	baseURL := cfg.Storage.BaseURL
	if baseURL == "" {
		baseURL = cfg.Server.PublicURL
	}
	media, err := storage.NewLocalStore(storage.Config{
		Dir:      cfg.Storage.Dir,
		BaseURL:  baseURL,
		Secret:   cfg.Storage.SigningSecret,
		MaxBytes: int64(cfg.Storage.MaxSizeMB) * constants.BytesPerMegabyte,
		URLTTL:   time.Duration(cfg.Storage.URLTTLSec) * time.Second,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize media storage: %w", err)
	}

	app := &application{
		factory: factory,
		creds:   creds,
		media:   media,
		limiter: middleware.NewRateLimiter(float64(cfg.Server.RateLimitPerSec), cfg.Server.RateLimitBurst),
		logger:  logger,
	}

	publisher := events.NewMulti(logger)
	if cfg.Events.Websocket {
		app.hub = events.NewHub(events.HubConfig{}, logger)
		publisher.Add("websocket", app.hub)
	}
	if cfg.Events.AMQPURL != "" {
		app.amqp, err = events.NewAMQPPublisher(ctx, events.AMQPConfig{
			URL:      cfg.Events.AMQPURL,
			Exchange: cfg.Events.Exchange,
			AppID:    "leadwire/" + Version,
			Retry:    retry.DefaultConfig(),
		}, logger)
		if err != nil {
			// Events are best effort; the CRM still reads the database.
			logger.WithError(err).Warn("AMQP publisher unavailable, continuing without it")
		} else {
			publisher.Add("amqp", app.amqp)
		}
	}

	resolver := conversation.NewResolver(db, publisher, conversation.Config{
		DedupWindow: constants.DefaultDedupWindow,
		Policy:      policy,
	}, logger)
	norm := normalizer.New(media, time.Duration(cfg.Providers.MediaFetchTimeout)*time.Second, logger)

	app.sender = outbound.NewSender(creds, resolver, db, media, publisher, logger)
	app.ingestor = queue.NewIngestor(db, webhook.NewParsers(nil), creds, norm, resolver, publisher, queue.Config{
		MaxAttempts:     cfg.Queue.MaxAttempts,
		BatchSize:       cfg.Queue.BatchSize,
		DeferProcessing: cfg.Queue.DeferProcessing,
	}, logger)

	app.sweeper = queue.NewSweeper(app.ingestor, db, queue.SweeperConfig{
		RedriveSchedule:        cfg.Queue.SweepSchedule,
		BatchSize:              cfg.Queue.BatchSize,
		Retention:              time.Duration(cfg.Queue.RetentionDays) * 24 * time.Hour,
		CredentialCleanupEvery: time.Duration(cfg.Credentials.CleanupIntervalSec) * time.Second,
	}, logger).
		WithCredentialCache(cache).
		WithMediaStore(media, time.Duration(cfg.Storage.URLTTLSec)*time.Second)

	return app, nil
}

func (a *application) deps(db *database.Database) Dependencies {
	d := Dependencies{
		DB:          db,
		Factory:     a.factory,
		Credentials: a.creds,
		Sender:      a.sender,
		Ingestor:    a.ingestor,
		Media:       a.media.Handler(),
		Limiter:     a.limiter,
	}
	if a.hub != nil {
		d.Hub = a.hub
	}
	return d
}

func (a *application) close() {
	if a.amqp != nil {
		if err := a.amqp.Close(); err != nil {
			a.logger.WithError(err).Warn("Failed to close AMQP publisher")
		}
	}
}

// pruneLimiter drops idle rate limiter buckets until ctx is done.
func pruneLimiter(ctx context.Context, limiter *middleware.RateLimiter, logger *logrus.Logger) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := limiter.Prune(); n > 0 {
				logger.WithField("pruned", n).Debug("Pruned idle rate limiter buckets")
			}
		}
	}
}
