package repo

import (
	"context"
	"time"

	"github.com/reviewharvest/review-bridge/internal/biz/domain"
)

// Channel is the messaging transport
// A channel is one logical account; Open acquires its session for the length of a run
type Channel interface {
	// Name identifies the channel in logs
	Name() string

	// Open connects and returns the session handle; the caller must Close it
	Open(ctx context.Context) (ChannelSession, error)
}

// ChannelSession is an open session on a channel
type ChannelSession interface {
	// Send sends a text message to a contact
	Send(ctx context.Context, contact, text string) error

	// PollReply returns the earliest inbound message from contact received after since,
	// or nil if there is none yet. It never blocks waiting for a message.
	PollReply(ctx context.Context, contact string, since time.Time) (*domain.Reply, error)

	// Close releases the session
	Close() error
}

// ReplyNotifier is implemented by sessions that receive inbound events.
// The returned channel is signalled when something arrives from contact;
// the cancel func must be called to unsubscribe.
type ReplyNotifier interface {
	NotifyReply(contact string) (<-chan struct{}, func())
}

// ConversationTracker is implemented by sessions whose replies live in a
// channel-side conversation that differs from the contact, such as a Feishu chat.
// The conversation is stored on the customer so a later run can poll it.
type ConversationTracker interface {
	// ConversationOf returns the conversation the last send to contact went to, or ""
	ConversationOf(contact string) string

	// RestoreConversation records a conversation learned by an earlier session
	RestoreConversation(contact, conversation string)
}
