package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CampaignScheduler starts a campaign run on a fixed interval.
// A tick while a run is still active is skipped.
type CampaignScheduler struct {
	svc      *CampaignService
	interval time.Duration
	log      *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCampaignScheduler creates a new campaign scheduler
func NewCampaignScheduler(svc *CampaignService, interval time.Duration, log *zap.Logger) *CampaignScheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &CampaignScheduler{svc: svc, interval: interval, log: log.Named("scheduler")}
}

// Start starts the scheduler
func (s *CampaignScheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.loop(ctx)

	s.log.Info("scheduler started", zap.Duration("interval", s.interval))
}

// Stop stops the scheduler and cancels a run it started
func (s *CampaignScheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.log.Info("scheduler stopped")
}

func (s *CampaignScheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs one campaign in the loop goroutine, so ticks never overlap
func (s *CampaignScheduler) tick(ctx context.Context) {
	summary, err := s.svc.Run(ctx)
	switch {
	case IsRunInProgress(err):
		s.log.Info("run already in progress, skipping tick")
	case err != nil:
		s.log.Error("scheduled run failed", zap.Error(err))
	default:
		s.log.Info("scheduled run finished", zap.String("run_id", summary.RunID))
	}
}
