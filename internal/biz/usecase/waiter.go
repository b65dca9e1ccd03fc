package usecase

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/reviewharvest/review-bridge/internal/biz/domain"
	"github.com/reviewharvest/review-bridge/internal/biz/repo"
)

// ReplyWaiter suspends until a contact replies or the deadline passes.
// It returns the first reply received after since and no later than deadline,
// domain.ErrTimeout when there is none, or ctx.Err() when cancelled.
type ReplyWaiter interface {
	Wait(ctx context.Context, session repo.ChannelSession, contact string, since, deadline time.Time) (*domain.Reply, error)
}

// PollingWaiter polls the channel on an interval.
// Sessions implementing repo.ReplyNotifier wake the waiter early on inbound events.
type PollingWaiter struct {
	interval time.Duration
	retry    RetryPolicy
	log      *zap.Logger
	now      func() time.Time
}

// NewPollingWaiter creates a polling reply waiter
func NewPollingWaiter(interval time.Duration, retry RetryPolicy, log *zap.Logger) *PollingWaiter {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &PollingWaiter{
		interval: interval,
		retry:    retry,
		log:      log.Named("waiter"),
		now:      time.Now,
	}
}

// Wait implements ReplyWaiter
func (w *PollingWaiter) Wait(ctx context.Context, session repo.ChannelSession, contact string, since, deadline time.Time) (*domain.Reply, error) {
	var notify <-chan struct{}
	if n, ok := session.(repo.ReplyNotifier); ok {
		ch, cancel := n.NotifyReply(contact)
		defer cancel()
		notify = ch
	}

	for {
		var reply *domain.Reply
		err := w.retry.Do(ctx, func(ctx context.Context) error {
			var perr error
			reply, perr = session.PollReply(ctx, contact, since)
			return perr
		})
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			return nil, &domain.AttemptError{Kind: domain.KindChannelUnavailable, Op: "poll reply", Err: err}
		}

		if reply != nil {
			// Earliest reply is past the ceiling: nothing arrived in time
			if reply.At.After(deadline) {
				w.log.Debug("reply after ceiling ignored",
					zap.String("contact", contact),
					zap.Time("reply_at", reply.At),
					zap.Time("deadline", deadline))
				return nil, domain.ErrTimeout
			}
			return reply, nil
		}

		remaining := deadline.Sub(w.now())
		if remaining <= 0 {
			return nil, domain.ErrTimeout
		}

		wait := w.interval
		if remaining < wait {
			wait = remaining
		}
		w.log.Debug("no reply yet", zap.String("contact", contact), zap.Duration("remaining", remaining))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		case <-notify:
			timer.Stop()
		}
	}
}
