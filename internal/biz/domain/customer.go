package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status is the campaign status of a customer
type Status string

const (
	StatusPending       Status = "pending"
	StatusRequestSent   Status = "request_sent"
	StatusAwaitingReply Status = "awaiting_reply"
	StatusClassified    Status = "classified"
	StatusRedirected    Status = "redirected"
	StatusThankedOnly   Status = "thanked_only"
	StatusCompleted     Status = "completed"
	StatusTimedOut      Status = "timed_out"
	StatusErrored       Status = "errored"
)

// AllStatuses lists every status in state machine order
var AllStatuses = []Status{
	StatusPending,
	StatusRequestSent,
	StatusAwaitingReply,
	StatusClassified,
	StatusRedirected,
	StatusThankedOnly,
	StatusCompleted,
	StatusTimedOut,
	StatusErrored,
}

// InFlightStatuses are the statuses a run picks up and drives forward
var InFlightStatuses = []Status{
	StatusPending,
	StatusRequestSent,
	StatusAwaitingReply,
	StatusClassified,
	StatusRedirected,
	StatusThankedOnly,
}

// transitions is the state machine. Reset back to Pending is an
// administrative operation of the store and is not listed here.
var transitions = map[Status][]Status{
	StatusPending:       {StatusRequestSent, StatusErrored},
	StatusRequestSent:   {StatusAwaitingReply, StatusTimedOut, StatusErrored},
	StatusAwaitingReply: {StatusClassified, StatusTimedOut, StatusErrored},
	StatusClassified:    {StatusRedirected, StatusThankedOnly, StatusErrored},
	StatusRedirected:    {StatusCompleted, StatusErrored},
	StatusThankedOnly:   {StatusCompleted, StatusErrored},
	StatusCompleted:     {},
	StatusTimedOut:      {StatusAwaitingReply},
	StatusErrored:       {},
}

// ParseStatus converts a stored string into a Status
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := transitions[st]; !ok {
		return "", fmt.Errorf("unknown status %q", s)
	}
	return st, nil
}

// Valid reports whether the status is part of the state machine
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// IsTerminal reports whether a run stops at this status
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusTimedOut, StatusErrored:
		return true
	}
	return false
}

// HasSentiment reports whether a customer at this status must carry a sentiment
func (s Status) HasSentiment() bool {
	switch s {
	case StatusClassified, StatusRedirected, StatusThankedOnly, StatusCompleted:
		return true
	}
	return false
}

// CanTransition checks whether from -> to is an edge of the state machine
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Sentiment is the classifier output bucket
type Sentiment string

const (
	SentimentNone     Sentiment = ""
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// ParseSentiment converts a label such as "Positive" or "negative." into a Sentiment
func ParseSentiment(s string) (Sentiment, error) {
	label := strings.ToLower(strings.Trim(strings.TrimSpace(s), ".!,;:'\"`*"))
	switch Sentiment(label) {
	case SentimentPositive, SentimentNeutral, SentimentNegative:
		return Sentiment(label), nil
	case SentimentNone:
		return SentimentNone, nil
	}
	return SentimentNone, fmt.Errorf("unknown sentiment %q", s)
}

// Label returns the display label (Positive, Neutral, Negative)
func (s Sentiment) Label() string {
	if s == SentimentNone {
		return ""
	}
	return strings.ToUpper(string(s[:1])) + string(s[1:])
}

// Customer represents a customer record owned by the customer store
type Customer struct {
	ID      int64
	Name    string
	Contact string // channel address: phone number, open_id or chat_id
	Product string

	Status        Status
	Sentiment     Sentiment
	ReplyText     string    // First reply, cached until the customer is completed
	ReplyAt       time.Time // When the reply was received
	RequestSentAt time.Time // When the review request went out
	LastError     string
	FailureCount  int    // Consecutive failed request sends
	Conversation  string // Channel-side conversation the request went to, e.g. a Feishu chat_id

	CreatedAt time.Time
	UpdatedAt time.Time // Last action timestamp
	Version   int64     // Optimistic lock version, bumped by every write
}

// HasCachedReply reports whether a reply is waiting to be classified
func (c *Customer) HasCachedReply() bool {
	return strings.TrimSpace(c.ReplyText) != ""
}

// Update starts a status update from the customer's current campaign fields
func (c *Customer) Update(to Status, at time.Time) StatusUpdate {
	return StatusUpdate{
		CustomerID:      c.ID,
		ExpectedVersion: c.Version,
		Status:          to,
		Sentiment:       c.Sentiment,
		At:              at,
		ReplyText:       c.ReplyText,
		ReplyAt:         c.ReplyAt,
		RequestSentAt:   c.RequestSentAt,
		LastError:       c.LastError,
		FailureCount:    c.FailureCount,
		Conversation:    c.Conversation,
	}
}

// StatusUpdate is a versioned write of the campaign fields of one customer
type StatusUpdate struct {
	CustomerID      int64
	ExpectedVersion int64
	Status          Status
	Sentiment       Sentiment
	At              time.Time

	ReplyText     string
	ReplyAt       time.Time
	RequestSentAt time.Time
	LastError     string
	FailureCount  int
	Conversation  string
}

// CheckUpdate validates an update against the current record.
// It returns noop=true when the update repeats the record's terminal
// (status, sentiment) and must not be written again.
func (c *Customer) CheckUpdate(u StatusUpdate) (noop bool, err error) {
	if !u.Status.Valid() {
		return false, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, u.Status)
	}
	if c.Status == u.Status && c.Sentiment == u.Sentiment && u.Status.IsTerminal() {
		return true, nil
	}
	if c.Version != u.ExpectedVersion {
		return false, fmt.Errorf("%w: customer %d at version %d, expected %d",
			ErrVersionConflict, c.ID, c.Version, u.ExpectedVersion)
	}
	if c.Status != u.Status && !CanTransition(c.Status, u.Status) {
		return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, u.Status)
	}
	if c.Status == u.Status && u.Status.IsTerminal() {
		return false, fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, u.Status)
	}
	if u.Status.HasSentiment() && u.Sentiment == SentimentNone {
		return false, fmt.Errorf("%w: %s requires a sentiment", ErrInvalidTransition, u.Status)
	}
	if !u.Status.HasSentiment() && u.Status != StatusErrored && u.Sentiment != SentimentNone {
		return false, fmt.Errorf("%w: %s cannot carry a sentiment", ErrInvalidTransition, u.Status)
	}
	return false, nil
}

// Apply returns a copy of the customer with the update written and the version bumped
func (c *Customer) Apply(u StatusUpdate) *Customer {
	next := *c
	next.Status = u.Status
	next.Sentiment = u.Sentiment
	next.ReplyText = u.ReplyText
	next.ReplyAt = u.ReplyAt
	next.RequestSentAt = u.RequestSentAt
	next.LastError = u.LastError
	next.FailureCount = u.FailureCount
	next.Conversation = u.Conversation
	next.UpdatedAt = u.At
	next.Version = c.Version + 1
	return &next
}

// Reset returns a copy of the customer back at Pending with campaign fields cleared
func (c *Customer) Reset(at time.Time) *Customer {
	next := *c
	next.Status = StatusPending
	next.Sentiment = SentimentNone
	next.ReplyText = ""
	next.ReplyAt = time.Time{}
	next.RequestSentAt = time.Time{}
	next.LastError = ""
	next.FailureCount = 0
	next.Conversation = ""
	next.UpdatedAt = at
	next.Version = c.Version + 1
	return &next
}

// ListFilter filters customer listings
type ListFilter struct {
	Statuses []Status
	Limit    int
}
