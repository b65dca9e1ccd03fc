package usecase

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/reviewharvest/review-bridge/internal/biz/domain"
	"github.com/reviewharvest/review-bridge/internal/biz/repo"
)

// RunnerConfig represents campaign runner configuration
type RunnerConfig struct {
	Concurrency     int           // Customers processed at once; sends are still serialized by the gate
	RecheckTimedOut bool          // Include timed out customers for a late reply check
	LeaseTTL        time.Duration // Store run lease, renewed every third of it
}

// DefaultLeaseTTL is used when RunnerConfig.LeaseTTL is unset
const DefaultLeaseTTL = 2 * time.Minute

// CampaignRunner drives every eligible customer through the orchestrator
type CampaignRunner struct {
	store   repo.CustomerRepo
	channel repo.Channel
	orch    *Orchestrator
	locks   *KeyedLock
	events  repo.EventPublisher // optional

	cfg RunnerConfig
	log *zap.Logger
	now func() time.Time
}

// NewCampaignRunner creates a campaign runner
func NewCampaignRunner(
	store repo.CustomerRepo,
	channel repo.Channel,
	orch *Orchestrator,
	locks *KeyedLock,
	events repo.EventPublisher,
	cfg RunnerConfig,
	log *zap.Logger,
) *CampaignRunner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = DefaultLeaseTTL
	}
	if locks == nil {
		locks = NewKeyedLock()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &CampaignRunner{
		store:   store,
		channel: channel,
		orch:    orch,
		locks:   locks,
		events:  events,
		cfg:     cfg,
		log:     log.Named("runner"),
		now:     time.Now,
	}
}

// Run processes all eligible customers and returns the run summary.
// Only the holder of the store run lease works; another process gets domain.ErrRunInProgress.
// The channel session is opened once for the run and closed on every exit path.
// Cancelling ctx stops the run at the next state boundary of each customer.
func (r *CampaignRunner) Run(ctx context.Context) (*domain.RunSummary, error) {
	summary := domain.NewRunSummary(uuid.NewString(), r.now())
	log := r.log.With(zap.String("run_id", summary.RunID))

	ok, err := r.store.AcquireRunLease(ctx, summary.RunID, r.cfg.LeaseTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire run lease: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: another process holds the run lease", domain.ErrRunInProgress)
	}
	defer func() {
		if err := r.store.ReleaseRunLease(context.WithoutCancel(ctx), summary.RunID); err != nil {
			log.Warn("failed to release run lease", zap.Error(err))
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var leaseLost atomic.Bool
	stopRenew := r.renewLease(runCtx, summary.RunID, log, func() {
		leaseLost.Store(true)
		cancel()
	})
	defer stopRenew()

	customers, err := r.eligible(runCtx)
	if err != nil {
		return nil, err
	}
	if len(customers) == 0 {
		log.Info("no eligible customers")
		summary.Finish(r.now())
		return summary, nil
	}

	session, err := r.channel.Open(runCtx)
	if err != nil {
		return nil, fmt.Errorf("open %s session: %w: %w", r.channel.Name(), domain.ErrChannelUnavailable, err)
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			log.Warn("failed to close channel session", zap.Error(cerr))
		}
	}()

	log.Info("run started",
		zap.String("channel", r.channel.Name()),
		zap.Int("eligible", len(customers)),
		zap.Int("concurrency", r.cfg.Concurrency))

	var (
		mu           sync.Mutex
		stopStarting atomic.Bool
	)
	record := func(a *domain.CampaignAttempt) {
		mu.Lock()
		defer mu.Unlock()
		summary.Record(a)
	}

	g := new(errgroup.Group)
	g.SetLimit(r.cfg.Concurrency)

	for _, c := range customers {
		if runCtx.Err() != nil || stopStarting.Load() {
			break
		}
		g.Go(func() error {
			// Checked again: the slot may have been granted after a stop
			if runCtx.Err() != nil || stopStarting.Load() {
				return nil
			}

			unlock, ok := r.locks.TryLock(c.ID)
			if !ok {
				log.Info("customer locked by another worker", zap.Int64("customer_id", c.ID))
				a := domain.NewAttempt(c.ID, r.now())
				a.Name = c.Name
				a.StartStatus = c.Status
				record(a.Finish(domain.OutcomeSkipped, c.Status, r.now()))
				return nil
			}
			defer unlock()

			a := r.orch.Process(runCtx, session, c.ID)
			record(a)

			switch {
			case a.Blocked:
				mu.Lock()
				summary.Abort("channel blocked: " + a.Error)
				mu.Unlock()
				log.Error("channel blocked, aborting run", zap.String("error", a.Error))
				cancel()
			case a.RateLimited:
				if stopStarting.CompareAndSwap(false, true) {
					mu.Lock()
					summary.Abort("send rate limit reached")
					mu.Unlock()
					log.Warn("send cap reached, no new customers will be started")
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	switch {
	case ctx.Err() != nil:
		summary.Abort("cancelled")
	case leaseLost.Load():
		summary.Abort("run lease lost")
	}
	summary.Finish(r.now())

	log.Info("run finished", zap.String("summary", summary.String()))
	if r.events != nil {
		if err := r.events.PublishRunSummary(context.WithoutCancel(ctx), summary); err != nil {
			log.Warn("failed to publish run summary", zap.Error(err))
		}
	}
	return summary, nil
}

// renewLease extends the run lease until stopped. onLost runs once if another
// owner took the lease. The returned stop func waits for the renewal goroutine.
func (r *CampaignRunner) renewLease(ctx context.Context, owner string, log *zap.Logger, onLost func()) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(r.cfg.LeaseTTL / 3)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			ok, err := r.store.AcquireRunLease(ctx, owner, r.cfg.LeaseTTL)
			switch {
			case ctx.Err() != nil:
				return
			case err != nil:
				// the lease is still ours until it expires, so try again next tick
				log.Warn("failed to renew run lease", zap.Error(err))
			case !ok:
				log.Error("run lease taken by another process, stopping run")
				onLost()
				return
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// eligible lists in-flight customers plus, when enabled, timed out ones
func (r *CampaignRunner) eligible(ctx context.Context) ([]*domain.Customer, error) {
	customers, err := r.store.ListPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pending customers: %w", err)
	}
	if !r.cfg.RecheckTimedOut {
		return customers, nil
	}

	timedOut, err := r.store.List(ctx, domain.ListFilter{Statuses: []domain.Status{domain.StatusTimedOut}})
	if err != nil {
		return nil, fmt.Errorf("list timed out customers: %w", err)
	}
	return append(customers, timedOut...), nil
}
