package data

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/reviewharvest/review-bridge/internal/biz/domain"
	"github.com/reviewharvest/review-bridge/internal/biz/repo"
	"github.com/reviewharvest/review-bridge/internal/infra/feishu"
)

// feishuAPI is the part of the Feishu client the channel uses
type feishuAPI interface {
	SendText(ctx context.Context, receiveIDType, receiveID, text string) (string, error)
	ListMessages(ctx context.Context, chatID string, since time.Time, pageSize int) ([]*feishu.Message, error)
}

// FeishuOptions configures the Feishu channel
type FeishuOptions struct {
	ReceiveIDType string // open_id by default; contacts starting with oc_ are always chat ids
	Events        bool   // Listen on the WebSocket for inbound messages
}

// feishuChannel implements repo.Channel on a Feishu bot
type feishuChannel struct {
	client *feishu.Client
	api    feishuAPI
	opts   FeishuOptions
	log    *zap.Logger
}

// NewFeishuChannel creates a Feishu channel
func NewFeishuChannel(client *feishu.Client, opts FeishuOptions, log *zap.Logger) repo.Channel {
	if opts.ReceiveIDType == "" {
		opts.ReceiveIDType = "open_id"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &feishuChannel{client: client, api: client, opts: opts, log: log.Named("feishu")}
}

func (c *feishuChannel) Name() string {
	return "feishu"
}

// Open starts the event listener when enabled and returns a session
func (c *feishuChannel) Open(ctx context.Context) (repo.ChannelSession, error) {
	s := newFeishuSession(c.api, c.opts.ReceiveIDType, c.log)
	if !c.opts.Events || c.client == nil {
		return s, nil
	}

	wsCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.stop = cancel
	s.events = true
	c.client.OnMessage(s.handleMessage)
	go func() {
		if err := c.client.Start(wsCtx); err != nil && wsCtx.Err() == nil {
			c.log.Warn("websocket stopped, falling back to polling", zap.Error(err))
		}
	}()
	return s, nil
}

// feishuSession tracks where each contact's conversation lives.
// Replies come from the event inbox when the WebSocket is on and from the
// chat history otherwise.
type feishuSession struct {
	api           feishuAPI
	receiveIDType string
	log           *zap.Logger
	stop          context.CancelFunc
	events        bool // inbound messages arrive in the inbox

	mu       sync.Mutex
	chats    map[string]string // contact -> chat_id
	inbox    map[string][]*feishu.Message
	watchers map[string][]chan struct{}
}

func newFeishuSession(api feishuAPI, receiveIDType string, log *zap.Logger) *feishuSession {
	return &feishuSession{
		api:           api,
		receiveIDType: receiveIDType,
		log:           log,
		chats:         make(map[string]string),
		inbox:         make(map[string][]*feishu.Message),
		watchers:      make(map[string][]chan struct{}),
	}
}

func (s *feishuSession) idType(contact string) string {
	if strings.HasPrefix(contact, "oc_") {
		return "chat_id"
	}
	return s.receiveIDType
}

// Send implements repo.ChannelSession
func (s *feishuSession) Send(ctx context.Context, contact, text string) error {
	chatID, err := s.api.SendText(ctx, s.idType(contact), contact, text)
	if err != nil {
		return err
	}
	if chatID != "" {
		s.mu.Lock()
		s.chats[contact] = chatID
		s.mu.Unlock()
	}
	return nil
}

// PollReply implements repo.ChannelSession
func (s *feishuSession) PollReply(ctx context.Context, contact string, since time.Time) (*domain.Reply, error) {
	chatID := s.chatFor(contact)
	if reply := s.fromInbox(since, contact, chatID); reply != nil {
		return reply, nil
	}
	if chatID == "" {
		if s.events {
			// The reply will land in the inbox under the sender
			return nil, nil
		}
		return nil, fmt.Errorf("%w: no chat known for %s", domain.ErrChannelUnavailable, contact)
	}

	messages, err := s.api.ListMessages(ctx, chatID, since, 50)
	if err != nil {
		return nil, err
	}
	return earliestUserMessage(messages, since), nil
}

// ConversationOf implements repo.ConversationTracker
func (s *feishuSession) ConversationOf(contact string) string {
	return s.chatFor(contact)
}

// RestoreConversation implements repo.ConversationTracker
func (s *feishuSession) RestoreConversation(contact, chatID string) {
	if chatID == "" || chatID == contact {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chats[contact]; !ok {
		s.chats[contact] = chatID
	}
}

// NotifyReply implements repo.ReplyNotifier
func (s *feishuSession) NotifyReply(contact string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	s.watchers[contact] = append(s.watchers[contact], ch)
	s.mu.Unlock()

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		list := s.watchers[contact]
		for i, w := range list {
			if w == ch {
				s.watchers[contact] = append(list[:i], list[i+1:]...)
				break
			}
		}
		if len(s.watchers[contact]) == 0 {
			delete(s.watchers, contact)
		}
	}
}

// Close implements repo.ChannelSession
func (s *feishuSession) Close() error {
	if s.stop != nil {
		s.stop()
	}
	return nil
}

// handleMessage files an inbound message under its sender and chat
func (s *feishuSession) handleMessage(msg *feishu.Message) {
	if !msg.Sender.IsUser() {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.inbox[msg.ChatID] = append(s.inbox[msg.ChatID], msg)
	if id := msg.Sender.SenderID; id != "" && id != msg.ChatID {
		s.inbox[id] = append(s.inbox[id], msg)
	}

	// Wake waiters on the chat, the sender or any contact mapped to the chat
	keys := map[string]bool{msg.ChatID: true, msg.Sender.SenderID: true}
	for contact, chatID := range s.chats {
		if chatID == msg.ChatID {
			keys[contact] = true
		}
	}
	for key := range keys {
		for _, ch := range s.watchers[key] {
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	}
}

func (s *feishuSession) fromInbox(since time.Time, keys ...string) *domain.Reply {
	s.mu.Lock()
	defer s.mu.Unlock()
	var messages []*feishu.Message
	for _, key := range keys {
		if key != "" {
			messages = append(messages, s.inbox[key]...)
		}
	}
	return earliestUserMessage(messages, since)
}

func (s *feishuSession) chatFor(contact string) string {
	if strings.HasPrefix(contact, "oc_") {
		return contact
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chats[contact]
}

// earliestUserMessage picks the first message a person sent after since
func earliestUserMessage(messages []*feishu.Message, since time.Time) *domain.Reply {
	var best *feishu.Message
	for _, m := range messages {
		if !m.Sender.IsUser() || !m.CreateTime.After(since) || strings.TrimSpace(m.Content) == "" {
			continue
		}
		if best == nil || m.CreateTime.Before(best.CreateTime) {
			best = m
		}
	}
	if best == nil {
		return nil
	}
	return &domain.Reply{ID: best.MsgID, Text: best.Content, At: best.CreateTime}
}
