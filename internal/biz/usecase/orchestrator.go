package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/reviewharvest/review-bridge/internal/biz/domain"
	"github.com/reviewharvest/review-bridge/internal/biz/repo"
)

// OrchestratorConfig represents orchestrator configuration
type OrchestratorConfig struct {
	ReplyCeiling       time.Duration // Maximum wait for a reply, measured from the request send
	MaxRequestFailures int           // Failed request sends before a customer is persisted Errored (0 = never)
	RecheckTimedOut    bool          // Look once for late replies of timed out customers
	SendRetry          RetryPolicy   // Local retries of channel calls
	StoreRetry         RetryPolicy   // Local retries of store calls; Retries also bounds conflict retries
}

// DefaultOrchestratorConfig returns the default orchestrator configuration
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		ReplyCeiling:       5 * time.Minute,
		MaxRequestFailures: 3,
		RecheckTimedOut:    true,
		SendRetry:          DefaultRetryPolicy(),
		StoreRetry:         RetryPolicy{Retries: 3, Delay: 200 * time.Millisecond, MaxDelay: 2 * time.Second},
	}
}

// Orchestrator drives one customer through the campaign state machine:
// pending -> request_sent -> awaiting_reply -> classified -> redirected|thanked_only -> completed.
// Every transition is committed to the store before the next action starts, so a
// customer always resumes from its last persisted status.
type Orchestrator struct {
	store      repo.CustomerRepo
	classifier repo.Classifier
	waiter     ReplyWaiter
	gate       *SendGate
	templates  MessageTemplates
	events     repo.EventPublisher // optional

	cfg OrchestratorConfig
	log *zap.Logger
	now func() time.Time
}

// NewOrchestrator creates a campaign orchestrator
func NewOrchestrator(
	store repo.CustomerRepo,
	classifier repo.Classifier,
	waiter ReplyWaiter,
	gate *SendGate,
	templates MessageTemplates,
	events repo.EventPublisher,
	cfg OrchestratorConfig,
	log *zap.Logger,
) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{
		store:      store,
		classifier: classifier,
		waiter:     waiter,
		gate:       gate,
		templates:  templates,
		events:     events,
		cfg:        cfg,
		log:        log.Named("orchestrator"),
		now:        time.Now,
	}
}

// Process drives one customer as far as it can go in this run.
// Cancelling ctx stops it at the next state boundary: sends, classification and
// store writes run detached and always finish.
func (o *Orchestrator) Process(ctx context.Context, session repo.ChannelSession, id int64) *domain.CampaignAttempt {
	a := domain.NewAttempt(id, o.now())
	dctx := context.WithoutCancel(ctx)

	c, err := o.fetch(dctx, id)
	if err != nil {
		return a.Fail(err, "", o.now())
	}
	a.Name = c.Name
	a.StartStatus = c.Status
	log := o.log.With(zap.Int64("customer_id", c.ID), zap.String("name", c.Name))

	switch c.Status {
	case domain.StatusCompleted, domain.StatusErrored:
		log.Debug("customer already finished", zap.String("status", string(c.Status)))
		return a.Finish(domain.OutcomeSkipped, c.Status, o.now())
	case domain.StatusTimedOut:
		if !o.cfg.RecheckTimedOut {
			return a.Finish(domain.OutcomeSkipped, c.Status, o.now())
		}
	}

	rechecked := false
	for {
		if !c.Status.IsTerminal() && ctx.Err() != nil {
			log.Info("run cancelled, customer left at persisted status", zap.String("status", string(c.Status)))
			return a.Finish(domain.OutcomeInterrupted, c.Status, o.now())
		}

		var next *domain.Customer
		switch c.Status {
		case domain.StatusPending:
			next, err = o.sendRequest(ctx, session, a, c)

		case domain.StatusRequestSent:
			next, err = o.commit(dctx, c, c.Update(domain.StatusAwaitingReply, o.now()))

		case domain.StatusAwaitingReply:
			if c.HasCachedReply() {
				next, err = o.classify(dctx, a, c)
			} else {
				next, err = o.awaitReply(ctx, session, a, c)
			}

		case domain.StatusClassified:
			next, err = o.sendFollowUp(ctx, session, a, c)

		case domain.StatusRedirected, domain.StatusThankedOnly:
			next, err = o.commit(dctx, c, c.Update(domain.StatusCompleted, o.now()))

		case domain.StatusCompleted:
			a.Sentiment = c.Sentiment
			outcome := domain.OutcomeThanked
			if c.Sentiment == domain.SentimentPositive {
				outcome = domain.OutcomeRedirected
			}
			log.Info("customer completed", zap.String("sentiment", string(c.Sentiment)))
			return a.Finish(outcome, c.Status, o.now())

		case domain.StatusTimedOut:
			if a.StartStatus != domain.StatusTimedOut || rechecked {
				return a.Finish(domain.OutcomeTimedOut, c.Status, o.now())
			}
			rechecked = true
			next, err = o.recheckLateReply(ctx, session, a, c)
			if next == nil && err == nil {
				return a.Finish(domain.OutcomeTimedOut, c.Status, o.now())
			}

		case domain.StatusErrored:
			a.Error = c.LastError
			return a.Finish(domain.OutcomeErrored, c.Status, o.now())

		default:
			return a.Fail(fmt.Errorf("%w: unhandled status %q", domain.ErrInvalidTransition, c.Status), c.Status, o.now())
		}

		if next != nil {
			c = next
		}
		if err != nil {
			return o.finishWithError(ctx, log, a, c, err)
		}
	}
}

func (o *Orchestrator) finishWithError(ctx context.Context, log *zap.Logger, a *domain.CampaignAttempt, c *domain.Customer, err error) *domain.CampaignAttempt {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		log.Info("run cancelled while waiting", zap.String("status", string(c.Status)))
		return a.Finish(domain.OutcomeInterrupted, c.Status, o.now())
	case errors.Is(err, domain.ErrRateLimited):
		log.Info("send cap reached, customer left pending")
		a.RateLimited = true
		a.Error = err.Error()
		return a.Finish(domain.OutcomeSkipped, c.Status, o.now())
	case errors.Is(err, domain.ErrChannelBlocked):
		a.Blocked = true
	}
	log.Warn("attempt failed",
		zap.String("status", string(c.Status)),
		zap.String("kind", string(domain.KindOf(err))),
		zap.Error(err))
	return a.Fail(err, c.Status, o.now())
}

// sendRequest sends the review request and commits RequestSent.
// A failed send leaves the customer Pending with the failure recorded,
// or Errored once MaxRequestFailures is reached.
func (o *Orchestrator) sendRequest(ctx context.Context, session repo.ChannelSession, a *domain.CampaignAttempt, c *domain.Customer) (*domain.Customer, error) {
	dctx := context.WithoutCancel(ctx)

	if strings.TrimSpace(c.Contact) == "" {
		u := c.Update(domain.StatusErrored, o.now())
		u.LastError = "missing contact"
		next, err := o.commit(dctx, c, u)
		if err != nil {
			return next, err
		}
		return next, &domain.AttemptError{Kind: domain.KindChannelUnavailable, Op: "send request", Err: errors.New("missing contact")}
	}

	text := o.templates.RenderRequest(c)
	err := o.gate.Request(ctx, func(sctx context.Context) error {
		return o.cfg.SendRetry.Do(sctx, func(sctx context.Context) error {
			return session.Send(sctx, c.Contact, text)
		})
	})
	if err == nil {
		a.RequestSent = true
		a.MessageSent = text

		u := c.Update(domain.StatusRequestSent, o.now())
		u.RequestSentAt = u.At
		u.LastError = ""
		u.FailureCount = 0
		if t, ok := session.(repo.ConversationTracker); ok {
			u.Conversation = t.ConversationOf(c.Contact)
		}
		return o.commit(dctx, c, u)
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, domain.ErrRateLimited) {
		return nil, err
	}

	sendErr := &domain.AttemptError{Kind: domain.KindChannelUnavailable, Op: "send request", Err: err}
	u := c.Update(domain.StatusPending, o.now())
	u.LastError = sendErr.Error()
	if !errors.Is(err, domain.ErrChannelBlocked) {
		u.FailureCount = c.FailureCount + 1
		if o.cfg.MaxRequestFailures > 0 && u.FailureCount >= o.cfg.MaxRequestFailures {
			u.Status = domain.StatusErrored
		}
	}
	next, cerr := o.commit(dctx, c, u)
	if cerr != nil {
		o.log.Error("failed to record send failure", zap.Int64("customer_id", c.ID), zap.Error(cerr))
	}
	return next, sendErr
}

// awaitReply waits for the first reply within the ceiling and caches it,
// or commits TimedOut. The window is anchored at the request send time so
// resuming after a restart never extends it.
func (o *Orchestrator) awaitReply(ctx context.Context, session repo.ChannelSession, a *domain.CampaignAttempt, c *domain.Customer) (*domain.Customer, error) {
	dctx := context.WithoutCancel(ctx)

	since := c.RequestSentAt
	if since.IsZero() {
		since = c.UpdatedAt
	}
	deadline := since.Add(o.cfg.ReplyCeiling)

	restoreConversation(session, c)
	reply, err := o.waiter.Wait(ctx, session, c.Contact, since, deadline)
	switch {
	case errors.Is(err, domain.ErrTimeout):
		o.log.Info("no reply within ceiling",
			zap.Int64("customer_id", c.ID),
			zap.Duration("ceiling", o.cfg.ReplyCeiling))
		u := c.Update(domain.StatusTimedOut, o.now())
		u.LastError = ""
		return o.commit(dctx, c, u)

	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, err

	case err != nil:
		u := c.Update(domain.StatusAwaitingReply, o.now())
		u.LastError = err.Error()
		next, cerr := o.commit(dctx, c, u)
		if cerr != nil {
			o.log.Error("failed to record poll failure", zap.Int64("customer_id", c.ID), zap.Error(cerr))
		}
		return next, err
	}

	a.ReplyText = reply.Text
	a.ReplyAt = reply.At
	o.log.Info("reply received", zap.Int64("customer_id", c.ID), zap.Time("reply_at", reply.At))

	u := c.Update(domain.StatusAwaitingReply, o.now())
	u.ReplyText = reply.Text
	u.ReplyAt = reply.At
	u.LastError = ""
	return o.commit(dctx, c, u)
}

// recheckLateReply looks once, without waiting, for a reply that arrived after
// the customer timed out. A found reply is cached and the customer resumes at
// AwaitingReply; the request is never sent again.
func (o *Orchestrator) recheckLateReply(ctx context.Context, session repo.ChannelSession, a *domain.CampaignAttempt, c *domain.Customer) (*domain.Customer, error) {
	since := c.RequestSentAt
	if since.IsZero() {
		since = c.UpdatedAt
	}

	restoreConversation(session, c)
	var reply *domain.Reply
	err := o.cfg.SendRetry.Do(ctx, func(ctx context.Context) error {
		var perr error
		reply, perr = session.PollReply(ctx, c.Contact, since)
		return perr
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, &domain.AttemptError{Kind: domain.KindChannelUnavailable, Op: "recheck reply", Err: err}
	}
	if reply == nil {
		return nil, nil
	}

	a.ReplyText = reply.Text
	a.ReplyAt = reply.At
	o.log.Info("late reply found", zap.Int64("customer_id", c.ID), zap.Time("reply_at", reply.At))

	u := c.Update(domain.StatusAwaitingReply, o.now())
	u.ReplyText = reply.Text
	u.ReplyAt = reply.At
	return o.commit(context.WithoutCancel(ctx), c, u)
}

// classify classifies the cached reply. On failure the customer stays at
// AwaitingReply with the reply kept so a later run can retry without re-sending.
// restoreConversation hands a conversation recorded by an earlier run to the session
func restoreConversation(session repo.ChannelSession, c *domain.Customer) {
	if t, ok := session.(repo.ConversationTracker); ok && c.Conversation != "" {
		t.RestoreConversation(c.Contact, c.Conversation)
	}
}

func (o *Orchestrator) classify(ctx context.Context, a *domain.CampaignAttempt, c *domain.Customer) (*domain.Customer, error) {
	a.ReplyText = c.ReplyText
	a.ReplyAt = c.ReplyAt

	sentiment, err := o.classifier.Classify(ctx, c.ReplyText)
	if err == nil && sentiment == domain.SentimentNone {
		err = errors.New("classifier returned no label")
	}
	if err != nil {
		classErr := &domain.AttemptError{Kind: domain.KindClassificationFailure, Op: "classify", Err: err}
		u := c.Update(domain.StatusAwaitingReply, o.now())
		u.LastError = classErr.Error()
		next, cerr := o.commit(ctx, c, u)
		if cerr != nil {
			o.log.Error("failed to record classification failure", zap.Int64("customer_id", c.ID), zap.Error(cerr))
		}
		return next, classErr
	}

	a.Sentiment = sentiment
	u := c.Update(domain.StatusClassified, o.now())
	u.Sentiment = sentiment
	u.LastError = ""
	return o.commit(ctx, c, u)
}

// sendFollowUp sends the redirect (Positive) or thank-you message.
// On failure the customer stays Classified; the next run sends only the follow-up.
func (o *Orchestrator) sendFollowUp(ctx context.Context, session repo.ChannelSession, a *domain.CampaignAttempt, c *domain.Customer) (*domain.Customer, error) {
	dctx := context.WithoutCancel(ctx)
	a.Sentiment = c.Sentiment

	text, target := o.templates.RenderFollowUp(c)
	err := o.gate.FollowUp(ctx, func(sctx context.Context) error {
		return o.cfg.SendRetry.Do(sctx, func(sctx context.Context) error {
			return session.Send(sctx, c.Contact, text)
		})
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		sendErr := &domain.AttemptError{Kind: domain.KindChannelUnavailable, Op: "send follow-up", Err: err}
		u := c.Update(domain.StatusClassified, o.now())
		u.LastError = sendErr.Error()
		next, cerr := o.commit(dctx, c, u)
		if cerr != nil {
			o.log.Error("failed to record follow-up failure", zap.Int64("customer_id", c.ID), zap.Error(cerr))
		}
		return next, sendErr
	}

	a.FollowUpSent = text
	u := c.Update(target, o.now())
	u.LastError = ""
	return o.commit(dctx, c, u)
}

// commit writes an update, retrying transient store errors locally.
// On a version conflict the record is re-fetched: if only non-campaign fields
// changed the write is retried against the new version, otherwise the conflict
// is surfaced with the fresh record.
func (o *Orchestrator) commit(ctx context.Context, c *domain.Customer, u domain.StatusUpdate) (*domain.Customer, error) {
	for conflicts := 0; ; conflicts++ {
		var next *domain.Customer
		err := o.cfg.StoreRetry.Do(ctx, func(ctx context.Context) error {
			var cerr error
			next, cerr = o.store.CommitStatus(ctx, u)
			return cerr
		})
		if err == nil {
			o.log.Info("status committed",
				zap.Int64("customer_id", c.ID),
				zap.String("from", string(c.Status)),
				zap.String("to", string(next.Status)),
				zap.Int64("version", next.Version))
			o.publish(ctx, next, c.Status)
			return next, nil
		}

		op := "commit " + string(u.Status)
		if !errors.Is(err, domain.ErrVersionConflict) {
			return nil, &domain.AttemptError{Kind: domain.KindStore, Op: op, Err: err}
		}
		if conflicts >= o.cfg.StoreRetry.Retries {
			return nil, &domain.AttemptError{Kind: domain.KindStoreWriteConflict, Op: op, Err: err}
		}

		fresh, ferr := o.fetch(ctx, c.ID)
		if ferr != nil {
			return nil, ferr
		}
		if fresh.Status != c.Status || fresh.Sentiment != c.Sentiment || fresh.ReplyText != c.ReplyText {
			return fresh, &domain.AttemptError{
				Kind: domain.KindStoreWriteConflict,
				Op:   op,
				Err:  fmt.Errorf("%w: customer moved to %s", err, fresh.Status),
			}
		}
		o.log.Debug("version conflict, retrying commit",
			zap.Int64("customer_id", c.ID),
			zap.Int64("version", fresh.Version))
		u.ExpectedVersion = fresh.Version
		c = fresh
	}
}

func (o *Orchestrator) fetch(ctx context.Context, id int64) (*domain.Customer, error) {
	var c *domain.Customer
	err := o.cfg.StoreRetry.Do(ctx, func(ctx context.Context) error {
		var gerr error
		c, gerr = o.store.GetByID(ctx, id)
		return gerr
	})
	if err != nil {
		return nil, &domain.AttemptError{Kind: domain.KindStore, Op: "get customer", Err: err}
	}
	if c == nil {
		return nil, fmt.Errorf("customer %d: %w", id, domain.ErrCustomerNotFound)
	}
	return c, nil
}

func (o *Orchestrator) publish(ctx context.Context, c *domain.Customer, from domain.Status) {
	if o.events == nil || c.Status == from {
		return
	}
	if err := o.events.PublishTransition(ctx, c, from); err != nil {
		o.log.Warn("failed to publish transition", zap.Int64("customer_id", c.ID), zap.Error(err))
	}
}
