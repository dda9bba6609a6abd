package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"leadwire/internal/constants"
	"leadwire/internal/metrics"
	"leadwire/internal/models"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Job names.
const (
	JobRedrive         = "queue.redrive"
	JobFailStale       = "queue.fail_stale"
	JobQueueRetention  = "queue.retention"
	JobQueueDepth      = "queue.depth"
	JobCredentialCache = "credentials.clean_expired"
	JobMediaCleanup    = "storage.cleanup"
)

type Redriver interface {
	Redrive(ctx context.Context, limit int) (RedriveReport, error)
}

// MaintenanceStore is the queue housekeeping surface of the database.
type MaintenanceStore interface {
	FailStaleQueueItems(ctx context.Context, cutoff time.Time) (int64, error)
	CleanupQueue(ctx context.Context, cutoff time.Time) (int64, error)
	QueueDepth(ctx context.Context) (map[models.QueueStatus]int, error)
}

type CacheCleaner interface {
	CleanExpired() int
}

type MediaCleaner interface {
	Cleanup(maxAge time.Duration) (int, error)
}

type SweeperConfig struct {
	RedriveSchedule        string
	BatchSize              int
	StaleAfter             time.Duration
	Retention              time.Duration
	CredentialCleanupEvery time.Duration
	MediaMaxAge            time.Duration
}

// Sweeper runs the out-of-band queue and cache housekeeping on cron
// schedules. Jobs never overlap with themselves.
type Sweeper struct {
	redriver Redriver
	store    MaintenanceStore
	cache    CacheCleaner
	media    MediaCleaner
	cfg      SweeperConfig
	cron     *cron.Cron
	now      func() time.Time
	logger   *logrus.Logger

	mu     sync.Mutex
	jobs   map[string]cron.EntryID
	ctx    context.Context
	cancel context.CancelFunc
}

func NewSweeper(redriver Redriver, store MaintenanceStore, cfg SweeperConfig, logger *logrus.Logger) *Sweeper {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.RedriveSchedule == "" {
		cfg.RedriveSchedule = constants.DefaultQueueSweepCron
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = constants.DefaultQueueBatchSize
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = constants.DefaultQueueStaleAfter
	}
	if cfg.Retention <= 0 {
		cfg.Retention = constants.DefaultQueueRetentionDay * 24 * time.Hour
	}
	if cfg.CredentialCleanupEvery <= 0 {
		cfg.CredentialCleanupEvery = constants.DefaultCredentialCleanupEvery
	}

	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(
		cron.WithParser(parser),
		cron.WithChain(cron.Recover(cron.PrintfLogger(logger)), cron.SkipIfStillRunning(cron.PrintfLogger(logger))),
	)
	return &Sweeper{
		redriver: redriver,
		store:    store,
		cfg:      cfg,
		cron:     c,
		now:      time.Now,
		logger:   logger,
		jobs:     map[string]cron.EntryID{},
	}
}

// WithCredentialCache schedules expired credential eviction.
func (s *Sweeper) WithCredentialCache(cache CacheCleaner) *Sweeper {
	s.cache = cache
	return s
}

// WithMediaStore schedules removal of media older than maxAge.
func (s *Sweeper) WithMediaStore(media MediaCleaner, maxAge time.Duration) *Sweeper {
	s.media = media
	s.cfg.MediaMaxAge = maxAge
	return s
}

// Start registers every job and starts the scheduler. Jobs run with a
// context derived from ctx that Stop cancels.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	if err := s.schedule(JobRedrive, s.cfg.RedriveSchedule, s.redrive); err != nil {
		return err
	}
	if err := s.schedule(JobFailStale, "@every 1m", s.failStale); err != nil {
		return err
	}
	if err := s.schedule(JobQueueRetention, "@daily", s.cleanupQueue); err != nil {
		return err
	}
	if err := s.schedule(JobQueueDepth, "@every 30s", s.updateDepth); err != nil {
		return err
	}
	if s.cache != nil {
		if err := s.schedule(JobCredentialCache, every(s.cfg.CredentialCleanupEvery), s.cleanCredentials); err != nil {
			return err
		}
	}
	if s.media != nil && s.cfg.MediaMaxAge > 0 {
		if err := s.schedule(JobMediaCleanup, "@daily", s.cleanupMedia); err != nil {
			return err
		}
	}

	s.cron.Start()
	s.logger.WithField("jobs", s.Jobs()).Info("Queue sweeper started")
	return nil
}

// Stop cancels running jobs and waits for them to return.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	<-s.cron.Stop().Done()
	s.logger.Info("Queue sweeper stopped")
}

// Jobs lists the registered job names.
func (s *Sweeper) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Sweeper) schedule(name, spec string, job func(context.Context)) error {
	id, err := s.cron.AddFunc(spec, func() {
		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()
		job(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule %s (%q): %w", name, spec, err)
	}
	s.mu.Lock()
	s.jobs[name] = id
	s.mu.Unlock()
	return nil
}

func every(d time.Duration) string {
	return "@every " + d.String()
}

func (s *Sweeper) redrive(ctx context.Context) {
	if _, err := s.redriver.Redrive(ctx, s.cfg.BatchSize); err != nil {
		s.logger.WithError(err).Error("Queue re-drive failed")
	}
}

func (s *Sweeper) failStale(ctx context.Context) {
	n, err := s.store.FailStaleQueueItems(ctx, s.now().Add(-s.cfg.StaleAfter))
	if err != nil {
		s.logger.WithError(err).Error("Failed to release stale queue items")
		return
	}
	if n > 0 {
		metrics.QueueTransitions.WithLabelValues(string(models.QueueFailed)).Add(float64(n))
		s.logger.WithField("count", n).Warn("Released stale queue items for re-drive")
	}
}

func (s *Sweeper) cleanupQueue(ctx context.Context) {
	n, err := s.store.CleanupQueue(ctx, s.now().Add(-s.cfg.Retention))
	if err != nil {
		s.logger.WithError(err).Error("Failed to clean up queue")
		return
	}
	s.logger.WithField("deleted", n).Info("Queue retention cleanup complete")
}

func (s *Sweeper) updateDepth(ctx context.Context) {
	depth, err := s.store.QueueDepth(ctx)
	if err != nil {
		s.logger.WithError(err).Debug("Failed to read queue depth")
		return
	}
	gauge := make(map[string]int, len(depth))
	for status, n := range depth {
		gauge[string(status)] = n
	}
	metrics.SetQueueDepth(gauge)
}

func (s *Sweeper) cleanCredentials(context.Context) {
	if n := s.cache.CleanExpired(); n > 0 {
		s.logger.WithField("evicted", n).Debug("Expired credentials evicted")
	}
}

func (s *Sweeper) cleanupMedia(context.Context) {
	n, err := s.media.Cleanup(s.cfg.MediaMaxAge)
	if err != nil {
		s.logger.WithError(err).Error("Media cleanup failed")
		return
	}
	s.logger.WithField("deleted", n).Info("Media cleanup complete")
}
