package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Scheduler refreshes the shard cache on a fixed interval.
type Scheduler struct {
	pipeline *Pipeline
	interval time.Duration
}

// NewScheduler creates a background refresher. A non-positive interval
// defaults to 24 hours.
func NewScheduler(p *Pipeline, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Scheduler{pipeline: p, interval: interval}
}

// Run starts the periodic refresh loop. It blocks until ctx is cancelled.
// Each tick reconciles against today's date; failures are logged and the
// previous snapshot stays in service.
func (s *Scheduler) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "pipeline.scheduler"))
	log.Info("starting refresh scheduler", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("refresh scheduler stopped")
			return
		case <-ticker.C:
			if _, err := s.pipeline.Refresh(ctx, ""); err != nil {
				log.Warn("pipeline: scheduled refresh failed", zap.Error(err))
			}
		}
	}
}
