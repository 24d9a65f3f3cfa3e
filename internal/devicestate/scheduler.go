package devicestate

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/usbshare/internal/logging"
)

// DefaultRefreshInterval is how often the scheduler refreshes the cache.
const DefaultRefreshInterval = 10 * time.Second

// Refresher is the part of Cache the scheduler drives.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Scheduler keeps a cache warm by refreshing it periodically.
type Scheduler struct {
	target   Refresher
	interval time.Duration
	logger   *zap.Logger
}

// NewScheduler creates a scheduler. A zero interval uses
// DefaultRefreshInterval. A nil logger uses the global logger.
func NewScheduler(target Refresher, interval time.Duration, logger *zap.Logger) (*Scheduler, error) {
	if target == nil {
		return nil, fmt.Errorf("refresh target must not be nil")
	}
	if interval == 0 {
		interval = DefaultRefreshInterval
	}
	if interval < 0 {
		return nil, fmt.Errorf("refresh interval must be positive, got %s", interval)
	}
	if logger == nil {
		logger = logging.Named("scheduler")
	}
	return &Scheduler{target: target, interval: interval, logger: logger}, nil
}

// Run refreshes once immediately and then every interval until ctx is done.
// Refresh failures are logged and never stop the loop. It returns nil on
// cancellation.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("Device refresh scheduler started", zap.Duration("interval", s.interval))
	defer s.logger.Info("Device refresh scheduler stopped")

	s.refresh(ctx, "initial")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.refresh(ctx, "periodic")
		}
	}
}

func (s *Scheduler) refresh(ctx context.Context, reason string) {
	if err := s.target.Refresh(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Error("Scheduled device refresh failed", zap.String("reason", reason), zap.Error(err))
		return
	}
	s.logger.Debug("Scheduled device refresh completed", zap.String("reason", reason))
}
