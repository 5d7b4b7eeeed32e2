package sweepers

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/leadforge/mission-service/internal/followup"
)

// FollowupRunner queues the follow-up steps that are due.
type FollowupRunner interface {
	Run(ctx context.Context) (*followup.RunResult, error)
}

// FollowupSweeper runs the follow-up scheduler on a fixed interval.
type FollowupSweeper struct {
	runner   FollowupRunner
	interval time.Duration
	logger   zerolog.Logger
	stopChan chan struct{}
	stopOnce sync.Once
}

func NewFollowupSweeper(runner FollowupRunner, interval time.Duration, logger zerolog.Logger) *FollowupSweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &FollowupSweeper{
		runner:   runner,
		interval: interval,
		logger:   logger.With().Str("component", "followup_sweeper").Logger(),
		stopChan: make(chan struct{}),
	}
}

// Start blocks until ctx is cancelled or Stop is called.
func (s *FollowupSweeper) Start(ctx context.Context) {
	s.logger.Info().Dur("interval", s.interval).Msg("Starting follow-up sweeper")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			s.logger.Info().Msg("Follow-up sweeper stopping")
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *FollowupSweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}

func (s *FollowupSweeper) runOnce(ctx context.Context) {
	res, err := s.runner.Run(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Follow-up run failed")
		return
	}
	s.logger.Info().
		Int("campaigns", res.Campaigns).
		Int("eligible", res.Eligible).
		Int("enqueued", res.Enqueued).
		Int("existing", res.Existing).
		Int("capped", res.Capped).
		Msg("Follow-up run finished")
}
