package captcha

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultSweepInterval is how often the retention sweep runs.
const DefaultSweepInterval = time.Hour

// Sweeper runs Store.Sweep on a fixed schedule.
type Sweeper struct {
	store  *Store
	clock  clock
	cron   *cron.Cron
	logger *zap.Logger
}

// NewSweeper schedules a sweep every interval.
func NewSweeper(store *Store, clk clock, interval time.Duration, logger *zap.Logger) (*Sweeper, error) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Sweeper{
		store:  store,
		clock:  clk,
		cron:   cron.New(),
		logger: logger,
	}
	if _, err := s.cron.AddFunc("@every "+interval.String(), s.RunOnce); err != nil {
		return nil, fmt.Errorf("schedule captcha sweep: %w", err)
	}
	return s, nil
}

// RunOnce performs one sweep immediately.
func (s *Sweeper) RunOnce() {
	removed := s.store.Sweep(s.clock.Now())
	if removed > 0 {
		s.logger.Info("captcha sweep evicted records",
			zap.Int("removed", removed),
			zap.Int("remaining", s.store.Len()),
		)
	}
}

// Start begins the schedule in the background.
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running sweep, bounded by ctx.
func (s *Sweeper) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for captcha sweep: %w", ctx.Err())
	}
}
