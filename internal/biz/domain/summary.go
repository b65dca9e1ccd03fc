package domain

import (
	"fmt"
	"time"
)

// RunSummary aggregates the outcome of one campaign run
type RunSummary struct {
	RunID      string        `json:"run_id"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Elapsed    time.Duration `json:"elapsed"`

	Attempted   int `json:"attempted"`
	Sent        int `json:"sent"`
	Redirected  int `json:"redirected"`
	Thanked     int `json:"thanked"`
	TimedOut    int `json:"timed_out"`
	Errored     int `json:"errored"`
	Skipped     int `json:"skipped"`
	Interrupted int `json:"interrupted"`

	Aborted     bool   `json:"aborted"`
	AbortReason string `json:"abort_reason,omitempty"`

	Attempts []*CampaignAttempt `json:"attempts"`
}

// NewRunSummary starts a summary
func NewRunSummary(runID string, now time.Time) *RunSummary {
	return &RunSummary{RunID: runID, StartedAt: now}
}

// Record adds an attempt to exactly one outcome bucket
func (s *RunSummary) Record(a *CampaignAttempt) {
	s.Attempted++
	if a.RequestSent {
		s.Sent++
	}
	switch a.Outcome {
	case OutcomeRedirected:
		s.Redirected++
	case OutcomeThanked:
		s.Thanked++
	case OutcomeTimedOut:
		s.TimedOut++
	case OutcomeSkipped:
		s.Skipped++
	case OutcomeInterrupted:
		s.Interrupted++
	default:
		// Unknown or missing outcomes are counted as errors so nothing drops out
		s.Errored++
	}
	s.Attempts = append(s.Attempts, a)
}

// Abort marks the run as stopped early
func (s *RunSummary) Abort(reason string) {
	if s.Aborted {
		return
	}
	s.Aborted = true
	s.AbortReason = reason
}

// Finish stamps the end of the run
func (s *RunSummary) Finish(now time.Time) {
	s.FinishedAt = now
	s.Elapsed = now.Sub(s.StartedAt)
}

// Accounted reports whether every attempted customer landed in one bucket
func (s *RunSummary) Accounted() bool {
	return s.Redirected+s.Thanked+s.TimedOut+s.Errored+s.Skipped+s.Interrupted == s.Attempted
}

// String renders a one-line summary for logs and the CLI
func (s *RunSummary) String() string {
	return fmt.Sprintf("attempted=%d sent=%d redirected=%d thanked=%d timed_out=%d errored=%d skipped=%d interrupted=%d elapsed=%s",
		s.Attempted, s.Sent, s.Redirected, s.Thanked, s.TimedOut, s.Errored, s.Skipped, s.Interrupted,
		s.Elapsed.Round(time.Millisecond))
}

// Stats are dashboard counters over the whole customer store
type Stats struct {
	Total          int            `json:"total"`
	ByStatus       map[Status]int `json:"by_status"`
	Positive       int            `json:"positive"`
	Completed      int            `json:"completed"`
	ConversionRate float64        `json:"conversion_rate"`
}

// NewStats creates empty stats
func NewStats() *Stats {
	return &Stats{ByStatus: make(map[Status]int)}
}

// Add counts n customers with the given status and sentiment
func (s *Stats) Add(status Status, sentiment Sentiment, n int) {
	s.Total += n
	s.ByStatus[status] += n
	if status == StatusCompleted {
		s.Completed += n
		if sentiment == SentimentPositive {
			s.Positive += n
		}
	}
	if s.Completed > 0 {
		s.ConversionRate = float64(s.Positive) / float64(s.Completed)
	}
}
