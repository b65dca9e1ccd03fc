package feishu

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	"github.com/larksuite/oapi-sdk-go/v3/event/dispatcher"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	larkws "github.com/larksuite/oapi-sdk-go/v3/ws"
	"go.uber.org/zap"
)

// Message represents a received Feishu message
type Message struct {
	ChatID     string
	MsgID      string
	MsgType    string // text, post, image...
	ChatType   string // p2p (private), group
	Content    string // Text content
	Sender     *Sender
	CreateTime time.Time
}

// Sender represents the message sender
type Sender struct {
	SenderID   string // open_id for users, app id for bots
	SenderType string // user, app
}

// IsUser reports whether a person sent the message
func (s *Sender) IsUser() bool {
	return s != nil && s.SenderType == "user"
}

// MessageHandler is the callback for received messages
type MessageHandler func(msg *Message)

// Client is the Feishu API client
type Client struct {
	appID     string
	appSecret string
	larkCli   *lark.Client
	wsCli     *larkws.Client
	onMessage MessageHandler
	log       *zap.Logger
}

// NewClient creates a new Feishu client
func NewClient(appID, appSecret string, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		appID:     appID,
		appSecret: appSecret,
		larkCli:   lark.NewClient(appID, appSecret),
		log:       log.Named("feishu"),
	}
}

// OnMessage sets the message handler
func (c *Client) OnMessage(handler MessageHandler) {
	c.onMessage = handler
}

// Start connects to Feishu via WebSocket and listens for messages.
// It blocks for the life of the connection.
func (c *Client) Start(ctx context.Context) error {
	// Must return quickly so the SDK can ACK, otherwise Feishu redelivers
	eventHandler := dispatcher.NewEventDispatcher("", "").
		OnP2MessageReceiveV1(func(ctx context.Context, event *larkim.P2MessageReceiveV1) error {
			go c.handleMessage(event)
			return nil
		})

	c.wsCli = larkws.NewClient(c.appID, c.appSecret,
		larkws.WithEventHandler(eventHandler),
		larkws.WithLogLevel(larkcore.LogLevelInfo),
	)

	c.log.Info("starting websocket connection")
	return c.wsCli.Start(ctx)
}

// handleMessage converts an inbound event and hands it to the handler
func (c *Client) handleMessage(event *larkim.P2MessageReceiveV1) {
	if event == nil || event.Event == nil || event.Event.Message == nil {
		return
	}
	rawMsg := event.Event.Message

	msg := &Message{
		ChatID:  deref(rawMsg.ChatId),
		MsgID:   deref(rawMsg.MessageId),
		MsgType: deref(rawMsg.MessageType),
	}
	msg.ChatType = deref(rawMsg.ChatType)
	msg.CreateTime = parseMillis(deref(rawMsg.CreateTime))

	if s := event.Event.Sender; s != nil {
		msg.Sender = &Sender{SenderType: deref(s.SenderType)}
		if s.SenderId != nil {
			msg.Sender.SenderID = deref(s.SenderId.OpenId)
		}
	}

	// Messages sent by the app itself
	if !msg.Sender.IsUser() {
		return
	}

	msg.Content = ParseContent(msg.MsgType, deref(rawMsg.Content))
	c.log.Debug("message received",
		zap.String("chat_id", msg.ChatID),
		zap.String("msg_type", msg.MsgType),
		zap.String("sender", msg.Sender.SenderID))

	if c.onMessage != nil {
		c.onMessage(msg)
	}
}

// SendText sends a text message and returns the chat it landed in.
// receiveIDType is one of open_id, user_id, union_id, email or chat_id.
func (c *Client) SendText(ctx context.Context, receiveIDType, receiveID, text string) (string, error) {
	content := map[string]string{"text": text}
	contentJSON, _ := json.Marshal(content)

	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(receiveIDType).
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(receiveID).
			MsgType(larkim.MsgTypeText).
			Content(string(contentJSON)).
			Build()).
		Build()

	resp, err := c.larkCli.Im.Message.Create(ctx, req)
	if err != nil {
		return "", fmt.Errorf("send message failed: %w", err)
	}
	if !resp.Success() {
		return "", &APIError{Op: "send message", Code: resp.Code, Msg: resp.Msg}
	}

	chatID := ""
	if resp.Data != nil {
		chatID = deref(resp.Data.ChatId)
	}
	c.log.Info("message sent", zap.String("receive_id", receiveID), zap.String("chat_id", chatID))
	return chatID, nil
}

// ListMessages lists messages of a chat created after since, oldest first
func (c *Client) ListMessages(ctx context.Context, chatID string, since time.Time, pageSize int) ([]*Message, error) {
	if pageSize > 50 {
		pageSize = 50
	}
	if pageSize <= 0 {
		pageSize = 20
	}

	// start_time has second resolution; exact filtering is left to the caller
	req := larkim.NewListMessageReqBuilder().
		ContainerIdType("chat").
		ContainerId(chatID).
		StartTime(strconv.FormatInt(since.Unix(), 10)).
		SortType("ByCreateTimeAsc").
		PageSize(pageSize).
		Build()

	resp, err := c.larkCli.Im.Message.List(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("list messages failed: %w", err)
	}
	if !resp.Success() {
		return nil, &APIError{Op: "list messages", Code: resp.Code, Msg: resp.Msg}
	}
	if resp.Data == nil {
		return nil, nil
	}

	var messages []*Message
	for _, item := range resp.Data.Items {
		msg := &Message{
			ChatID:     chatID,
			MsgID:      deref(item.MessageId),
			MsgType:    deref(item.MsgType),
			CreateTime: parseMillis(deref(item.CreateTime)),
		}
		if item.Body != nil {
			msg.Content = ParseContent(msg.MsgType, deref(item.Body.Content))
		}
		if item.Sender != nil {
			msg.Sender = &Sender{
				SenderID:   deref(item.Sender.Id),
				SenderType: deref(item.Sender.SenderType),
			}
		}
		messages = append(messages, msg)
	}

	c.log.Debug("listed messages", zap.String("chat_id", chatID), zap.Int("count", len(messages)))
	return messages, nil
}

// APIError is a non-success response of the open platform
type APIError struct {
	Op   string
	Code int
	Msg  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s error: code=%d msg=%s", e.Op, e.Code, e.Msg)
}

// ParseContent extracts readable text from message content JSON
func ParseContent(msgType, rawContent string) string {
	switch msgType {
	case "text":
		var parsed struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal([]byte(rawContent), &parsed); err == nil {
			return parsed.Text
		}
	case "post":
		var parsed struct {
			Title   string `json:"title"`
			Content [][]struct {
				Tag  string `json:"tag"`
				Text string `json:"text,omitempty"`
			} `json:"content"`
		}
		if err := json.Unmarshal([]byte(rawContent), &parsed); err == nil {
			var parts []string
			if parsed.Title != "" {
				parts = append(parts, parsed.Title)
			}
			for _, line := range parsed.Content {
				var lineParts []string
				for _, elem := range line {
					if elem.Tag == "text" && elem.Text != "" {
						lineParts = append(lineParts, elem.Text)
					}
				}
				if len(lineParts) > 0 {
					parts = append(parts, strings.Join(lineParts, ""))
				}
			}
			return strings.Join(parts, "\n")
		}
	case "image":
		return "[Image]"
	case "file":
		return "[File]"
	case "audio":
		return "[Audio]"
	case "sticker":
		return "[Sticker]"
	}
	return rawContent
}

func parseMillis(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
