package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRunSummary_EveryAttemptInOneBucket(t *testing.T) {
	now := time.Now()
	s := NewRunSummary("run-1", now)

	outcomes := []Outcome{
		OutcomeRedirected,
		OutcomeThanked,
		OutcomeThanked,
		OutcomeTimedOut,
		OutcomeErrored,
		OutcomeSkipped,
		OutcomeInterrupted,
		"",
	}
	for i, o := range outcomes {
		a := NewAttempt(int64(i), now)
		a.RequestSent = o != OutcomeSkipped
		a.Finish(o, StatusCompleted, now)
		s.Record(a)
	}
	s.Finish(now.Add(time.Second))

	assert.Equal(t, len(outcomes), s.Attempted)
	assert.True(t, s.Accounted())
	assert.Equal(t, 2, s.Errored, "missing outcome counts as error")
	assert.Equal(t, 7, s.Sent)
	assert.Equal(t, time.Second, s.Elapsed)
}

func TestAttemptFail_CarriesKind(t *testing.T) {
	a := NewAttempt(1, time.Now())
	err := &AttemptError{Kind: KindClassificationFailure, Op: "classify", Err: errors.New("bad label")}
	a.Fail(fmt.Errorf("customer 1: %w", err), StatusAwaitingReply, time.Now())

	assert.Equal(t, OutcomeErrored, a.Outcome)
	assert.Equal(t, KindClassificationFailure, a.ErrKind)
	assert.True(t, errors.Is(a.Err(), ErrClassificationFailure))
	assert.False(t, errors.Is(a.Err(), ErrChannelUnavailable))
}

func TestStats_ConversionRate(t *testing.T) {
	s := NewStats()
	s.Add(StatusCompleted, SentimentPositive, 3)
	s.Add(StatusCompleted, SentimentNegative, 1)
	s.Add(StatusPending, SentimentNone, 6)

	assert.Equal(t, 10, s.Total)
	assert.Equal(t, 3, s.Positive)
	assert.Equal(t, 4, s.Completed)
	assert.InDelta(t, 0.75, s.ConversionRate, 0.0001)
	assert.Equal(t, 6, s.ByStatus[StatusPending])
}
