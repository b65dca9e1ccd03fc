package biz

import (
	"time"

	"go.uber.org/zap"

	"github.com/reviewharvest/review-bridge/internal/biz/repo"
	"github.com/reviewharvest/review-bridge/internal/biz/usecase"
)

// Options configures the usecase layer
type Options struct {
	Orchestrator usecase.OrchestratorConfig
	Runner       usecase.RunnerConfig
	Gate         usecase.GateConfig
	Templates    usecase.MessageTemplates
	PollInterval time.Duration
}

// Usecases contains all usecases
type Usecases struct {
	Customers    *usecase.CustomerUsecase
	Orchestrator *usecase.Orchestrator
	Runner       *usecase.CampaignRunner
}

// NewUsecases wires the usecases over the repositories.
// events may be nil.
func NewUsecases(
	store repo.CustomerRepo,
	channel repo.Channel,
	classifier repo.Classifier,
	events repo.EventPublisher,
	opts Options,
	log *zap.Logger,
) *Usecases {
	// Admin operations and runs share the locks so a reset never races a run
	locks := usecase.NewKeyedLock()

	waiter := usecase.NewPollingWaiter(opts.PollInterval, opts.Orchestrator.SendRetry, log)
	gate := usecase.NewSendGate(opts.Gate)
	orch := usecase.NewOrchestrator(store, classifier, waiter, gate, opts.Templates, events, opts.Orchestrator, log)

	return &Usecases{
		Customers:    usecase.NewCustomerUsecase(store, locks, log),
		Orchestrator: orch,
		Runner:       usecase.NewCampaignRunner(store, channel, orch, locks, events, opts.Runner, log),
	}
}
