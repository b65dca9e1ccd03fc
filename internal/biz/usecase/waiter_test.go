package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewharvest/review-bridge/internal/biz/domain"
)

// notifyingSession wakes waiters when a reply is pushed
type notifyingSession struct {
	*fakeSession
	mu      sync.Mutex
	waiters map[string][]chan struct{}
}

func newNotifyingSession() *notifyingSession {
	return &notifyingSession{fakeSession: newFakeSession(), waiters: make(map[string][]chan struct{})}
}

func (s *notifyingSession) NotifyReply(contact string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	s.waiters[contact] = append(s.waiters[contact], ch)
	s.mu.Unlock()
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		list := s.waiters[contact]
		for i, w := range list {
			if w == ch {
				s.waiters[contact] = append(list[:i], list[i+1:]...)
				break
			}
		}
	}
}

func (s *notifyingSession) push(contact, text string) {
	s.addReply(contact, time.Now(), text)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.waiters[contact] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func TestPollingWaiter_ReturnsFirstReply(t *testing.T) {
	session := newFakeSession()
	since := time.Now()
	session.addReply("amira", since.Add(-time.Second), "old conversation")
	session.addReply("amira", since.Add(time.Millisecond), "great")

	w := NewPollingWaiter(5*time.Millisecond, RetryPolicy{}, nil)
	reply, err := w.Wait(context.Background(), session, "amira", since, since.Add(time.Second))

	require.NoError(t, err)
	assert.Equal(t, "great", reply.Text)
}

func TestPollingWaiter_TimesOut(t *testing.T) {
	session := newFakeSession()
	since := time.Now()
	w := NewPollingWaiter(5*time.Millisecond, RetryPolicy{}, nil)

	_, err := w.Wait(context.Background(), session, "sam", since, since.Add(30*time.Millisecond))

	assert.ErrorIs(t, err, domain.ErrTimeout)
	assert.False(t, time.Now().Before(since.Add(30*time.Millisecond)))
}

func TestPollingWaiter_ReplyPastDeadlineIsTimeout(t *testing.T) {
	session := newFakeSession()
	since := time.Now().Add(-time.Hour)
	session.addReply("sam", since.Add(10*time.Minute), "late")
	w := NewPollingWaiter(5*time.Millisecond, RetryPolicy{}, nil)

	_, err := w.Wait(context.Background(), session, "sam", since, since.Add(5*time.Minute))

	assert.ErrorIs(t, err, domain.ErrTimeout)
}

func TestPollingWaiter_NotifierWakesEarly(t *testing.T) {
	session := newNotifyingSession()
	since := time.Now()
	w := NewPollingWaiter(time.Hour, RetryPolicy{}, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		time.Sleep(20 * time.Millisecond)
		session.push("amira", "lovely")
	}()

	start := time.Now()
	reply, err := w.Wait(context.Background(), session, "amira", since, since.Add(10*time.Second))
	<-done

	require.NoError(t, err)
	assert.Equal(t, "lovely", reply.Text)
	assert.Less(t, time.Since(start), time.Second)

	session.mu.Lock()
	assert.Empty(t, session.waiters["amira"], "subscription released")
	session.mu.Unlock()
}

func TestPollingWaiter_ChannelErrorKind(t *testing.T) {
	session := newFakeSession()
	session.pollErr = errors.New("chat list unavailable")
	w := NewPollingWaiter(5*time.Millisecond, RetryPolicy{Retries: 1, Delay: time.Millisecond}, nil)

	_, err := w.Wait(context.Background(), session, "amira", time.Now(), time.Now().Add(time.Second))

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrChannelUnavailable)
	assert.Equal(t, domain.KindChannelUnavailable, domain.KindOf(err))
}

func TestPollingWaiter_Cancelled(t *testing.T) {
	session := newFakeSession()
	w := NewPollingWaiter(5*time.Millisecond, RetryPolicy{}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := w.Wait(ctx, session, "amira", time.Now(), time.Now().Add(time.Minute))

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRetryPolicy(t *testing.T) {
	t.Run("retries transient errors", func(t *testing.T) {
		calls := 0
		err := RetryPolicy{Retries: 2, Delay: time.Millisecond}.Do(context.Background(), func(ctx context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("flaky")
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up after retries", func(t *testing.T) {
		calls := 0
		err := RetryPolicy{Retries: 1}.Do(context.Background(), func(ctx context.Context) error {
			calls++
			return errors.New("down")
		})
		assert.EqualError(t, err, "down")
		assert.Equal(t, 2, calls)
	})

	t.Run("permanent errors are not retried", func(t *testing.T) {
		for _, perm := range []error{
			domain.ErrChannelBlocked,
			domain.ErrRateLimited,
			domain.ErrVersionConflict,
			domain.ErrInvalidTransition,
			context.Canceled,
		} {
			calls := 0
			err := RetryPolicy{Retries: 3}.Do(context.Background(), func(ctx context.Context) error {
				calls++
				return perm
			})
			assert.ErrorIs(t, err, perm)
			assert.Equal(t, 1, calls, "%v must not be retried", perm)
		}
	})

	t.Run("backoff observes cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		err := RetryPolicy{Retries: 5, Delay: time.Hour}.Do(ctx, func(ctx context.Context) error {
			calls++
			cancel()
			return errors.New("flaky")
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})
}

func TestPollingWaiter_CancelDuringPollBackoff(t *testing.T) {
	session := newFakeSession()
	session.pollErr = errors.New("chat list unavailable")
	w := NewPollingWaiter(5*time.Millisecond, RetryPolicy{Retries: 5, Delay: time.Hour}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := w.Wait(ctx, session, "amira", time.Now(), time.Now().Add(time.Minute))

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, domain.ErrChannelUnavailable)
}

func TestKeyedLock(t *testing.T) {
	l := NewKeyedLock()

	unlock, ok := l.TryLock(7)
	require.True(t, ok)
	_, ok = l.TryLock(7)
	assert.False(t, ok)

	other, ok := l.TryLock(8)
	require.True(t, ok)
	assert.Equal(t, 2, l.Held())

	unlock()
	unlock()
	other()
	assert.Equal(t, 0, l.Held())

	_, ok = l.TryLock(7)
	assert.True(t, ok)
}
