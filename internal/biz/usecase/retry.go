package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/reviewharvest/review-bridge/internal/biz/domain"
)

// RetryPolicy retries transient failures a bounded number of times with exponential backoff
type RetryPolicy struct {
	Retries  int           // Extra attempts after the first
	Delay    time.Duration // First backoff, doubled on each retry
	MaxDelay time.Duration
}

// DefaultRetryPolicy returns the policy used for channel and store calls
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Retries: 2, Delay: time.Second, MaxDelay: 10 * time.Second}
}

// Do runs fn until it succeeds, fails permanently or the attempts are used up.
// Cancellation during a backoff returns ctx.Err(), not the last failure.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	delay := p.Delay
	for attempt := 0; ; attempt++ {
		err = fn(ctx)
		if err == nil || !retryable(err) || attempt >= p.Retries {
			return err
		}

		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			delay *= 2
			if p.MaxDelay > 0 && delay > p.MaxDelay {
				delay = p.MaxDelay
			}
		}
	}
}

// retryable reports whether a local retry can help
func retryable(err error) bool {
	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, domain.ErrChannelBlocked),
		errors.Is(err, domain.ErrRateLimited),
		errors.Is(err, domain.ErrVersionConflict),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrCustomerNotFound):
		return false
	}
	return true
}
