package services

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const DefaultSweepSchedule = "@every 1m"

// Sweeper runs SessionManager.Sweep on a cron schedule.
type Sweeper struct {
	cron    *cron.Cron
	manager *SessionManager
	logger  *zap.Logger
}

func NewSweeper(manager *SessionManager, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		cron:    cron.New(),
		manager: manager,
		logger:  logger,
	}
}

// Start schedules the sweep with a cron spec such as "@every 1m".
func (s *Sweeper) Start(spec string) error {
	if spec == "" {
		spec = DefaultSweepSchedule
	}
	if _, err := s.cron.AddFunc(spec, s.RunOnce); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("session sweeper started", zap.String("schedule", spec))
	return nil
}

func (s *Sweeper) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	stats := s.manager.Sweep(ctx)
	if stats.Expired+stats.Stale+stats.Evicted > 0 {
		s.logger.Info("sweep finished",
			zap.Int("expired", stats.Expired),
			zap.Int("stale", stats.Stale),
			zap.Int("evicted", stats.Evicted))
	}
}

// Stop waits for a running sweep to return.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}
