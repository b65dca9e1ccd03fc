package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/reviewharvest/review-bridge/internal/biz/domain"
)

// CampaignRunner is the part of the usecase runner the service drives
type CampaignRunner interface {
	Run(ctx context.Context) (*domain.RunSummary, error)
}

// RunState describes the current and the last finished run
type RunState struct {
	Running   bool               `json:"running"`
	StartedAt time.Time          `json:"started_at,omitempty"`
	Last      *domain.RunSummary `json:"last,omitempty"`
	LastError string             `json:"last_error,omitempty"`
}

// CampaignService allows one campaign run at a time and remembers the last result.
// It is shared by the CLI, the HTTP API and the scheduler.
type CampaignService struct {
	runner CampaignRunner
	log    *zap.Logger

	mu        sync.Mutex
	running   bool
	startedAt time.Time
	cancel    context.CancelFunc
	done      chan struct{}
	last      *domain.RunSummary
	lastErr   error
}

// NewCampaignService creates a campaign service
func NewCampaignService(runner CampaignRunner, log *zap.Logger) *CampaignService {
	if log == nil {
		log = zap.NewNop()
	}
	return &CampaignService{runner: runner, log: log.Named("campaign")}
}

// Run runs a campaign and blocks until it finishes.
// It returns domain.ErrRunInProgress when another run is active.
func (s *CampaignService) Run(ctx context.Context) (*domain.RunSummary, error) {
	runCtx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	return s.execute(runCtx)
}

// StartAsync starts a run in the background; it outlives the caller's ctx
// and ends on Stop
func (s *CampaignService) StartAsync(ctx context.Context) error {
	runCtx, err := s.begin(context.WithoutCancel(ctx))
	if err != nil {
		return err
	}
	go func() {
		if _, err := s.execute(runCtx); err != nil {
			s.log.Error("background run failed", zap.Error(err))
		}
	}()
	return nil
}

// State returns the run state
func (s *CampaignService) State() RunState {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := RunState{Running: s.running, Last: s.last}
	if s.running {
		state.StartedAt = s.startedAt
	}
	if s.lastErr != nil {
		state.LastError = s.lastErr.Error()
	}
	return state
}

// LastRun returns the summary of the last finished run, nil if none
func (s *CampaignService) LastRun() *domain.RunSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Stop cancels the active run, if any, and waits for it to end
func (s *CampaignService) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *CampaignService) begin(ctx context.Context) (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil, domain.ErrRunInProgress
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.startedAt = time.Now()
	s.cancel = cancel
	s.done = make(chan struct{})
	return runCtx, nil
}

func (s *CampaignService) execute(ctx context.Context) (*domain.RunSummary, error) {
	summary, err := s.runner.Run(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if summary != nil {
		s.last = summary
	}
	s.lastErr = err
	s.running = false
	s.cancel()
	s.cancel = nil
	close(s.done)

	switch {
	case err != nil:
		s.log.Error("campaign run failed", zap.Error(err))
	case summary == nil:
	case summary.Aborted:
		s.log.Warn("campaign run aborted", zap.String("reason", summary.AbortReason), zap.String("summary", summary.String()))
	default:
		s.log.Info("campaign run finished", zap.String("summary", summary.String()))
	}
	return summary, err
}

// IsRunInProgress reports whether err means another run is active
func IsRunInProgress(err error) bool {
	return errors.Is(err, domain.ErrRunInProgress)
}
