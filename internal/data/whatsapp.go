package data

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/reviewharvest/review-bridge/internal/biz/domain"
	"github.com/reviewharvest/review-bridge/internal/biz/repo"
	"github.com/reviewharvest/review-bridge/internal/infra/whatsapp"
)

// whatsappAPI is the part of the WhatsApp Web client the channel uses
type whatsappAPI interface {
	Start(ctx context.Context) error
	SendText(ctx context.Context, phone, text string) error
	Messages(ctx context.Context, phone string) ([]whatsapp.Message, error)
	Close() error
}

// whatsappChannel implements repo.Channel on WhatsApp Web
type whatsappChannel struct {
	newClient func() whatsappAPI
	log       *zap.Logger
}

// NewWhatsAppChannel creates a WhatsApp channel; every Open launches a browser
func NewWhatsAppChannel(opts whatsapp.Options, log *zap.Logger) repo.Channel {
	if log == nil {
		log = zap.NewNop()
	}
	return &whatsappChannel{
		newClient: func() whatsappAPI { return whatsapp.NewClient(opts, log) },
		log:       log.Named("whatsapp"),
	}
}

func (c *whatsappChannel) Name() string {
	return "whatsapp"
}

// Open launches the browser and waits for the logged-in chat list
func (c *whatsappChannel) Open(ctx context.Context) (repo.ChannelSession, error) {
	client := c.newClient()
	if err := client.Start(ctx); err != nil {
		_ = client.Close()
		return nil, mapWhatsAppError(err)
	}
	return newWhatsAppSession(client, c.log), nil
}

// whatsappSession finds replies by diffing the incoming messages of a chat
// against the ones visible when the last message was sent
type whatsappSession struct {
	api whatsappAPI
	log *zap.Logger
	now func() time.Time

	mu        sync.Mutex
	baseline  map[string]map[string]bool // contact -> incoming ids seen at send
	lastEmpty map[string]time.Time       // contact -> last send or poll that found nothing new
	firstSeen map[string]time.Time       // message id -> arrival time assigned when first seen
}

func newWhatsAppSession(api whatsappAPI, log *zap.Logger) *whatsappSession {
	return &whatsappSession{
		api:       api,
		log:       log,
		now:       time.Now,
		baseline:  make(map[string]map[string]bool),
		lastEmpty: make(map[string]time.Time),
		firstSeen: make(map[string]time.Time),
	}
}

// Send implements repo.ChannelSession
func (s *whatsappSession) Send(ctx context.Context, contact, text string) error {
	messages, err := s.api.Messages(ctx, contact)
	if err != nil {
		return mapWhatsAppError(err)
	}

	seen := make(map[string]bool)
	for _, m := range messages {
		if m.Incoming {
			seen[m.ID] = true
		}
	}
	s.mu.Lock()
	s.baseline[contact] = seen
	s.lastEmpty[contact] = s.now()
	s.mu.Unlock()

	return mapWhatsAppError(s.api.SendText(ctx, contact, text))
}

// PollReply implements repo.ChannelSession.
// With a baseline from this session, a reply is the first incoming message
// not in it. It arrived after the last poll that saw nothing new, so it is
// stamped just after that poll, or at its header minute when that is later.
// Without a baseline (after a restart) the header time decides; since it only
// has minute resolution a reply in the send minute is placed just after since.
func (s *whatsappSession) PollReply(ctx context.Context, contact string, since time.Time) (*domain.Reply, error) {
	messages, err := s.api.Messages(ctx, contact)
	if err != nil {
		return nil, mapWhatsAppError(err)
	}

	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	baseline, haveBaseline := s.baseline[contact]
	for _, m := range messages {
		if !m.Incoming || m.Text == "" {
			continue
		}

		if haveBaseline {
			if baseline[m.ID] {
				continue
			}
			at, ok := s.firstSeen[m.ID]
			if !ok {
				at = arrivalTime(s.lastEmpty[contact], m.SentAt, now)
				s.firstSeen[m.ID] = at
			}
			if !at.After(since) {
				at = since.Add(time.Millisecond)
			}
			return &domain.Reply{ID: m.ID, Text: m.Text, At: at}, nil
		}

		if m.SentAt.IsZero() || m.SentAt.Before(since.Truncate(time.Minute)) {
			continue
		}
		at := m.SentAt
		if !at.After(since) {
			at = since.Add(time.Millisecond)
		}
		return &domain.Reply{ID: m.ID, Text: m.Text, At: at}, nil
	}

	if haveBaseline {
		s.lastEmpty[contact] = now
	}
	return nil, nil
}

// arrivalTime is the earliest time a message first seen at now can have
// arrived: just after the last empty look, or its header minute if later
func arrivalTime(lastEmpty, header, now time.Time) time.Time {
	if lastEmpty.IsZero() {
		return now
	}
	at := lastEmpty.Add(time.Millisecond)
	if header.After(at) && !header.After(now) {
		at = header
	}
	if at.After(now) {
		return now
	}
	return at
}

// Close implements repo.ChannelSession
func (s *whatsappSession) Close() error {
	return s.api.Close()
}

// mapWhatsAppError turns a ban page into the channel-blocked sentinel
func mapWhatsAppError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, whatsapp.ErrBlocked) {
		return fmt.Errorf("%w: %v", domain.ErrChannelBlocked, err)
	}
	return err
}
