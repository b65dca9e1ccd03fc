package domain

import "time"

// Reply is an inbound message observed on the channel
type Reply struct {
	ID   string
	Text string
	At   time.Time
}

// Outcome is the run summary bucket of one attempt
type Outcome string

const (
	OutcomeRedirected  Outcome = "redirected"
	OutcomeThanked     Outcome = "thanked"
	OutcomeTimedOut    Outcome = "timed_out"
	OutcomeErrored     Outcome = "errored"
	OutcomeSkipped     Outcome = "skipped"
	OutcomeInterrupted Outcome = "interrupted"
)

// CampaignAttempt records what happened to one customer during one run
type CampaignAttempt struct {
	CustomerID  int64     `json:"customer_id"`
	Name        string    `json:"name"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	StartStatus Status    `json:"start_status"`

	RequestSent  bool      `json:"request_sent"`
	MessageSent  string    `json:"message_sent,omitempty"`
	ReplyText    string    `json:"reply_text,omitempty"`
	ReplyAt      time.Time `json:"reply_at,omitempty"`
	Sentiment    Sentiment `json:"sentiment,omitempty"`
	FollowUpSent string    `json:"follow_up_sent,omitempty"`

	FinalStatus Status    `json:"final_status"`
	Outcome     Outcome   `json:"outcome"`
	ErrKind     ErrorKind `json:"error_kind,omitempty"`
	Error       string    `json:"error,omitempty"`

	RateLimited bool `json:"rate_limited,omitempty"`
	Blocked     bool `json:"blocked,omitempty"`

	err error
}

// NewAttempt starts an attempt for a customer
func NewAttempt(customerID int64, now time.Time) *CampaignAttempt {
	return &CampaignAttempt{CustomerID: customerID, StartedAt: now}
}

// Finish closes the attempt with an outcome and the last persisted status
func (a *CampaignAttempt) Finish(outcome Outcome, final Status, now time.Time) *CampaignAttempt {
	a.Outcome = outcome
	a.FinalStatus = final
	a.FinishedAt = now
	return a
}

// Fail closes the attempt as errored
func (a *CampaignAttempt) Fail(err error, final Status, now time.Time) *CampaignAttempt {
	a.err = err
	a.Error = err.Error()
	a.ErrKind = KindOf(err)
	return a.Finish(OutcomeErrored, final, now)
}

// Err returns the error that ended the attempt, if any
func (a *CampaignAttempt) Err() error {
	return a.err
}

// Duration returns how long the attempt took
func (a *CampaignAttempt) Duration() time.Duration {
	if a.FinishedAt.IsZero() {
		return 0
	}
	return a.FinishedAt.Sub(a.StartedAt)
}
