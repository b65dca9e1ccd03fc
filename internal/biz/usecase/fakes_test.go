package usecase

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/reviewharvest/review-bridge/internal/biz/domain"
	"github.com/reviewharvest/review-bridge/internal/biz/repo"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// Mock implementations

type fakeStore struct {
	mu        sync.Mutex
	customers map[int64]*domain.Customer
	nextID    int64
	commits   int

	// beforeCommit runs outside the lock, e.g. to simulate a concurrent dashboard edit
	beforeCommit func(u domain.StatusUpdate)
	commitErr    func(u domain.StatusUpdate) error

	leaseOwner string
	leaseUntil time.Time
}

func newFakeStore(customers ...*domain.Customer) *fakeStore {
	s := &fakeStore{customers: make(map[int64]*domain.Customer)}
	for _, c := range customers {
		if c.ID == 0 {
			s.nextID++
			c.ID = s.nextID
		} else if c.ID > s.nextID {
			s.nextID = c.ID
		}
		if c.Status == "" {
			c.Status = domain.StatusPending
		}
		if c.Version == 0 {
			c.Version = 1
		}
		cp := *c
		s.customers[c.ID] = &cp
	}
	return s
}

func (s *fakeStore) sorted(keep func(*domain.Customer) bool) []*domain.Customer {
	var result []*domain.Customer
	for _, c := range s.customers {
		if keep(c) {
			cp := *c
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

func (s *fakeStore) ListPending(ctx context.Context) ([]*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sorted(func(c *domain.Customer) bool {
		for _, st := range domain.InFlightStatuses {
			if c.Status == st {
				return true
			}
		}
		return false
	}), nil
}

func (s *fakeStore) List(ctx context.Context, filter domain.ListFilter) ([]*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sorted(func(c *domain.Customer) bool {
		if len(filter.Statuses) == 0 {
			return true
		}
		for _, st := range filter.Statuses {
			if c.Status == st {
				return true
			}
		}
		return false
	}), nil
}

func (s *fakeStore) GetByID(ctx context.Context, id int64) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.customers[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (s *fakeStore) CommitStatus(ctx context.Context, u domain.StatusUpdate) (*domain.Customer, error) {
	if s.beforeCommit != nil {
		s.beforeCommit(u)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.commitErr != nil {
		if err := s.commitErr(u); err != nil {
			return nil, err
		}
	}
	cur, ok := s.customers[u.CustomerID]
	if !ok {
		return nil, domain.ErrCustomerNotFound
	}
	noop, err := cur.CheckUpdate(u)
	if err != nil {
		return nil, err
	}
	if noop {
		cp := *cur
		return &cp, nil
	}
	next := cur.Apply(u)
	s.customers[u.CustomerID] = next
	s.commits++
	cp := *next
	return &cp, nil
}

func (s *fakeStore) Add(ctx context.Context, c *domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.customers {
		if existing.Contact == c.Contact {
			return nil, domain.ErrDuplicateContact
		}
	}
	s.nextID++
	cp := *c
	cp.ID = s.nextID
	cp.Version = 1
	s.customers[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (s *fakeStore) Reset(ctx context.Context, id int64) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.customers[id]
	if !ok {
		return nil, domain.ErrCustomerNotFound
	}
	next := c.Reset(time.Now())
	s.customers[id] = next
	cp := *next
	return &cp, nil
}

func (s *fakeStore) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.customers[id]; !ok {
		return domain.ErrCustomerNotFound
	}
	delete(s.customers, id)
	return nil
}

func (s *fakeStore) Stats(ctx context.Context) (*domain.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := domain.NewStats()
	for _, c := range s.customers {
		stats.Add(c.Status, c.Sentiment, 1)
	}
	return stats, nil
}

func (s *fakeStore) AcquireRunLease(ctx context.Context, owner string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if s.leaseOwner != "" && s.leaseOwner != owner && now.Before(s.leaseUntil) {
		return false, nil
	}
	s.leaseOwner = owner
	s.leaseUntil = now.Add(ttl)
	return true, nil
}

func (s *fakeStore) ReleaseRunLease(ctx context.Context, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.leaseOwner == owner {
		s.leaseOwner = ""
		s.leaseUntil = time.Time{}
	}
	return nil
}

func (s *fakeStore) Close() error {
	return nil
}

// holder returns the current lease owner, empty when free or expired
func (s *fakeStore) holder() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if time.Now().After(s.leaseUntil) {
		return ""
	}
	return s.leaseOwner
}

// steal hands the lease to another owner, as a second process would after expiry
func (s *fakeStore) steal(owner string, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leaseOwner = owner
	s.leaseUntil = time.Now().Add(ttl)
}

// get returns a copy of the stored record
func (s *fakeStore) get(id int64) *domain.Customer {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s.customers[id]
	return &cp
}

// touch simulates a dashboard edit of non-campaign fields
func (s *fakeStore) touch(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.customers[id]
	c.Name = c.Name + " (edited)"
	c.Version++
}

type scheduledReply struct {
	after time.Duration
	text  string
}

type sentMessage struct {
	contact string
	text    string
	at      time.Time
}

type fakeSession struct {
	mu        sync.Mutex
	scheduled map[string][]scheduledReply // Materialized relative to the first send to the contact
	replies   map[string][]domain.Reply
	sent      []sentMessage
	sendErr   func(contact, text string) error
	pollErr   error
	sendDelay time.Duration

	inFlight    int
	maxInFlight int
	closed      int32
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		scheduled: make(map[string][]scheduledReply),
		replies:   make(map[string][]domain.Reply),
	}
}

func (s *fakeSession) replyAfter(contact string, after time.Duration, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduled[contact] = append(s.scheduled[contact], scheduledReply{after: after, text: text})
}

func (s *fakeSession) addReply(contact string, at time.Time, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies[contact] = append(s.replies[contact], domain.Reply{
		ID:   contact + "-" + at.Format(time.RFC3339Nano),
		Text: text,
		At:   at,
	})
}

func (s *fakeSession) Send(ctx context.Context, contact, text string) error {
	s.mu.Lock()
	s.inFlight++
	if s.inFlight > s.maxInFlight {
		s.maxInFlight = s.inFlight
	}
	s.mu.Unlock()

	if s.sendDelay > 0 {
		time.Sleep(s.sendDelay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight--
	if s.sendErr != nil {
		if err := s.sendErr(contact, text); err != nil {
			return err
		}
	}

	now := time.Now()
	s.sent = append(s.sent, sentMessage{contact: contact, text: text, at: now})
	for _, r := range s.scheduled[contact] {
		at := now.Add(r.after)
		s.replies[contact] = append(s.replies[contact], domain.Reply{
			ID:   contact + "-" + r.text,
			Text: r.text,
			At:   at,
		})
	}
	delete(s.scheduled, contact)
	return nil
}

// PollReply only sees replies whose time has come
func (s *fakeSession) PollReply(ctx context.Context, contact string, since time.Time) (*domain.Reply, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pollErr != nil {
		return nil, s.pollErr
	}

	now := time.Now()
	var best *domain.Reply
	for i := range s.replies[contact] {
		r := s.replies[contact][i]
		if !r.At.After(since) || r.At.After(now) {
			continue
		}
		if best == nil || r.At.Before(best.At) {
			cp := r
			best = &cp
		}
	}
	return best, nil
}

func (s *fakeSession) Close() error {
	atomic.AddInt32(&s.closed, 1)
	return nil
}

func (s *fakeSession) sentTo(contact string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var texts []string
	for _, m := range s.sent {
		if m.contact == contact {
			texts = append(texts, m.text)
		}
	}
	return texts
}

// trackingSession only sees replies in conversations it knows, like a chat based channel
type trackingSession struct {
	*fakeSession

	convMu        sync.Mutex
	conversations map[string]string
	restored      []string
}

func newTrackingSession() *trackingSession {
	return &trackingSession{fakeSession: newFakeSession(), conversations: make(map[string]string)}
}

func (s *trackingSession) Send(ctx context.Context, contact, text string) error {
	if err := s.fakeSession.Send(ctx, contact, text); err != nil {
		return err
	}
	s.convMu.Lock()
	defer s.convMu.Unlock()
	s.conversations[contact] = "chat-" + contact
	return nil
}

func (s *trackingSession) PollReply(ctx context.Context, contact string, since time.Time) (*domain.Reply, error) {
	if s.ConversationOf(contact) == "" {
		return nil, domain.ErrChannelUnavailable
	}
	return s.fakeSession.PollReply(ctx, contact, since)
}

func (s *trackingSession) ConversationOf(contact string) string {
	s.convMu.Lock()
	defer s.convMu.Unlock()
	return s.conversations[contact]
}

func (s *trackingSession) RestoreConversation(contact, conversation string) {
	s.convMu.Lock()
	defer s.convMu.Unlock()
	s.restored = append(s.restored, contact)
	if _, ok := s.conversations[contact]; !ok {
		s.conversations[contact] = conversation
	}
}

type fakeChannel struct {
	session *fakeSession
	openErr error
	opens   int32
}

func (f *fakeChannel) Name() string {
	return "fake"
}

func (f *fakeChannel) Open(ctx context.Context) (repo.ChannelSession, error) {
	atomic.AddInt32(&f.opens, 1)
	if f.openErr != nil {
		return nil, f.openErr
	}
	return f.session, nil
}

type fakeClassifier struct {
	mu     sync.Mutex
	labels map[string]domain.Sentiment
	err    error
	calls  []string
}

func (f *fakeClassifier) Classify(ctx context.Context, text string) (domain.Sentiment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, text)
	if f.err != nil {
		return domain.SentimentNone, f.err
	}
	if s, ok := f.labels[text]; ok {
		return s, nil
	}
	return domain.SentimentNeutral, nil
}

func (f *fakeClassifier) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

type recordingPublisher struct {
	mu          sync.Mutex
	transitions []string
	summaries   int
}

func (p *recordingPublisher) PublishTransition(ctx context.Context, c *domain.Customer, from domain.Status) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.transitions = append(p.transitions, string(from)+">"+string(c.Status))
	return nil
}

func (p *recordingPublisher) PublishRunSummary(ctx context.Context, s *domain.RunSummary) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.summaries++
	return nil
}

func (p *recordingPublisher) Close() error {
	return nil
}

const testReviewLink = "https://g.page/r/test-review"

func testConfig() OrchestratorConfig {
	return OrchestratorConfig{
		ReplyCeiling:       200 * time.Millisecond,
		MaxRequestFailures: 3,
		RecheckTimedOut:    true,
		SendRetry:          RetryPolicy{},
		StoreRetry:         RetryPolicy{Retries: 3},
	}
}

func newTestOrchestrator(store repo.CustomerRepo, classifier repo.Classifier, events repo.EventPublisher, cfg OrchestratorConfig) *Orchestrator {
	tmpl := DefaultMessageTemplates
	tmpl.ReviewLink = testReviewLink
	waiter := NewPollingWaiter(5*time.Millisecond, RetryPolicy{}, nil)
	return NewOrchestrator(store, classifier, waiter, NewSendGate(GateConfig{}), tmpl, events, cfg, nil)
}

func isRedirect(text string) bool {
	return strings.Contains(text, testReviewLink)
}

func isThankYou(text string) bool {
	return strings.HasPrefix(text, "Thank you for your feedback")
}
