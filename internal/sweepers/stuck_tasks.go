package sweepers

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/leadforge/mission-service/internal/jobs"
	"github.com/leadforge/mission-service/internal/metrics"
	"github.com/leadforge/mission-service/internal/taskqueue"
)

const defaultCleanupEvery = 24 * time.Hour

// Rescuer returns stuck processing tasks to pending.
type Rescuer interface {
	RescueStuck(ctx context.Context, in taskqueue.RescueInput) (*taskqueue.RescueResult, error)
}

// Cleanup runs the retention policies.
type Cleanup interface {
	Run(ctx context.Context) (*jobs.CleanupResult, error)
}

type Config struct {
	Interval         time.Duration
	OlderThanMinutes int
	Limit            int
	// CleanupEvery is how often the retention cleanup runs. Defaults to daily.
	CleanupEvery time.Duration
}

// StuckTaskSweeper periodically rescues tasks whose worker stopped
// heartbeating and, less often, runs the retention cleanup.
type StuckTaskSweeper struct {
	rescuer  Rescuer
	cleanup  Cleanup
	config   Config
	metrics  *metrics.Recorder
	logger   zerolog.Logger
	now      func() time.Time
	stopChan chan struct{}
	stopOnce sync.Once

	mu          sync.Mutex
	lastCleanup time.Time
}

// NewStuckTaskSweeper creates a sweeper. cleanup may be nil.
func NewStuckTaskSweeper(rescuer Rescuer, cleanup Cleanup, cfg Config, logger zerolog.Logger) *StuckTaskSweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.CleanupEvery <= 0 {
		cfg.CleanupEvery = defaultCleanupEvery
	}
	return &StuckTaskSweeper{
		rescuer:  rescuer,
		cleanup:  cleanup,
		config:   cfg,
		metrics:  metrics.NewRecorder(),
		logger:   logger.With().Str("component", "sweeper").Logger(),
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
}

// Start runs the sweep on the configured interval until ctx is cancelled or
// Stop is called. It blocks.
func (s *StuckTaskSweeper) Start(ctx context.Context) {
	s.logger.Info().
		Dur("interval", s.config.Interval).
		Int("older_than_minutes", s.config.OlderThanMinutes).
		Msg("Starting stuck task sweeper")

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Stuck task sweeper stopping (context cancelled)")
			return
		case <-s.stopChan:
			s.logger.Info().Msg("Stuck task sweeper stopping (stop signal)")
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error().Err(err).Msg("Failed to rescue stuck tasks")
			}
			s.maybeCleanup(ctx)
		}
	}
}

// Stop signals the sweeper to stop
func (s *StuckTaskSweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}

// Sweep runs one rescue pass.
func (s *StuckTaskSweeper) Sweep(ctx context.Context) (*taskqueue.RescueResult, error) {
	res, err := s.rescuer.RescueStuck(ctx, taskqueue.RescueInput{
		OlderThanMinutes: s.config.OlderThanMinutes,
		Limit:            s.config.Limit,
	})
	if err != nil {
		return nil, err
	}
	if res.RescuedCount > 0 {
		s.metrics.RecordRescued(res.RescuedCount)
		s.logger.Warn().
			Int("rescued", res.RescuedCount).
			Time("cutoff", res.Cutoff).
			Msg("Rescued stuck tasks")
	}
	return res, nil
}

// maybeCleanup runs the retention cleanup when CleanupEvery has elapsed
// since the last run. The first call after start runs it.
func (s *StuckTaskSweeper) maybeCleanup(ctx context.Context) {
	if s.cleanup == nil {
		return
	}
	now := s.now()
	s.mu.Lock()
	due := s.lastCleanup.IsZero() || now.Sub(s.lastCleanup) >= s.config.CleanupEvery
	if due {
		s.lastCleanup = now
	}
	s.mu.Unlock()
	if !due {
		return
	}

	res, err := s.cleanup.Run(ctx)
	if res != nil {
		s.metrics.RecordCleanedUp(res.TasksDeleted)
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("Retention cleanup failed")
	}
}
