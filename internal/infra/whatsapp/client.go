package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

const webURL = "https://web.whatsapp.com/"

// ErrBlocked is returned when WhatsApp Web shows a ban or verification page
var ErrBlocked = errors.New("whatsapp account blocked")

// Page selectors of WhatsApp Web
var (
	searchBoxSelector = `div[contenteditable="true"][data-tab="3"]`

	messageInputSelectors = []string{
		`div[contenteditable="true"][data-tab="10"]`,
		`footer div[contenteditable="true"]`,
		`div[title="Type a message"]`,
	}
)

// blockIndicators are phrases WhatsApp shows when the account is restricted
var blockIndicators = []string{
	"temporarily banned",
	"account is temporarily",
	"verify your phone",
	"unusual activity",
}

// collectMessagesJS returns every rendered message bubble of the open chat
const collectMessagesJS = `() => Array.from(document.querySelectorAll('div[data-pre-plain-text]')).map(el => {
	const row = el.closest('[data-id]');
	const span = el.querySelector('span.selectable-text.copyable-text > span, span.selectable-text, span[dir="ltr"]');
	return {
		id: row ? (row.getAttribute('data-id') || '') : '',
		pre: el.getAttribute('data-pre-plain-text') || '',
		text: ((span ? span.innerText : el.innerText) || '').trim(),
	};
})`

// Options configures the browser
type Options struct {
	ProfileDir        string        // Chrome user data dir; keeps the WhatsApp login
	Headless          bool          // QR login needs a visible browser on first use
	LoginTimeout      time.Duration // How long to wait for the chat list (QR scan)
	NavigationTimeout time.Duration // How long to wait for a chat to open
}

// Message is a rendered chat message
type Message struct {
	ID       string
	Text     string
	Incoming bool
	SentAt   time.Time // Parsed from the bubble header, minute resolution; zero if unknown
}

// process is a launched Chrome; *launcher.Launcher satisfies it
type process interface {
	Kill()
}

// Client drives one logged-in WhatsApp Web tab.
// Page operations are serialized: the tab shows one chat at a time.
type Client struct {
	opts   Options
	log    *zap.Logger
	launch func(opts Options) (process, string, error) // starts Chrome, returns its control URL

	mu          sync.Mutex
	proc        process
	browser     *rod.Browser
	page        *rod.Page
	currentChat string
}

// NewClient creates a client; Start launches the browser
func NewClient(opts Options, log *zap.Logger) *Client {
	if opts.LoginTimeout <= 0 {
		opts.LoginTimeout = 2 * time.Minute
	}
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{opts: opts, log: log.Named("whatsapp"), launch: launchChrome}
}

func launchChrome(opts Options) (process, string, error) {
	l := launcher.New().Headless(opts.Headless)
	if opts.ProfileDir != "" {
		if err := os.MkdirAll(opts.ProfileDir, 0755); err != nil {
			return nil, "", fmt.Errorf("create profile dir: %w", err)
		}
		l = l.UserDataDir(opts.ProfileDir)
	}
	controlURL, err := l.Launch()
	if err != nil {
		l.Kill()
		return nil, "", err
	}
	return l, controlURL, nil
}

// Start launches Chrome with the persistent profile, opens WhatsApp Web
// and waits until the chat list is visible
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.browser != nil {
		return nil
	}

	proc, controlURL, err := c.launch(c.opts)
	if err != nil {
		return fmt.Errorf("launch chrome: %w", err)
	}

	// Chrome outlives a failed connect, so every failure below kills it
	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		proc.Kill()
		return fmt.Errorf("connect to chrome: %w", err)
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: webURL})
	if err != nil {
		_ = browser.Close()
		proc.Kill()
		return fmt.Errorf("open whatsapp web: %w", err)
	}

	c.log.Info("waiting for whatsapp web login", zap.Duration("timeout", c.opts.LoginTimeout))
	if _, err := page.Context(ctx).Timeout(c.opts.LoginTimeout).Element(searchBoxSelector); err != nil {
		blocked := c.checkBlocked(page)
		_ = browser.Close()
		proc.Kill()
		if blocked != nil {
			return blocked
		}
		return fmt.Errorf("whatsapp web login: %w", err)
	}

	c.proc = proc
	c.browser = browser
	c.page = page
	c.log.Info("whatsapp web ready")
	return nil
}

// SendText opens the chat of phone and sends text
func (c *Client) SendText(ctx context.Context, phone, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	box, err := c.openChat(ctx, phone)
	if err != nil {
		return err
	}

	if err := box.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("focus message input: %w", err)
	}
	if err := c.page.InsertText(text); err != nil {
		return fmt.Errorf("type message: %w", err)
	}
	if err := c.page.Keyboard.Type(input.Enter); err != nil {
		return fmt.Errorf("submit message: %w", err)
	}

	c.log.Info("message sent", zap.String("phone", phone), zap.Int("length", len(text)))
	return nil
}

// Messages returns the rendered messages of the chat with phone, oldest first
func (c *Client) Messages(ctx context.Context, phone string) ([]Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.openChat(ctx, phone); err != nil {
		return nil, err
	}

	res, err := c.page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:      collectMessagesJS,
		ByValue: true,
	})
	if err != nil || res == nil {
		return nil, fmt.Errorf("read messages: %w", err)
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("marshal messages: %w", err)
	}

	var bubbles []bubble
	if err := json.Unmarshal(raw, &bubbles); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}

	messages := make([]Message, 0, len(bubbles))
	for _, b := range bubbles {
		messages = append(messages, b.message())
	}
	c.log.Debug("read messages", zap.String("phone", phone), zap.Int("count", len(messages)))
	return messages, nil
}

// Close shuts the browser down; the profile stays on disk
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	if c.browser != nil {
		err = c.browser.Close()
	}
	if c.proc != nil {
		c.proc.Kill()
	}
	c.proc = nil
	c.browser = nil
	c.page = nil
	c.currentChat = ""
	return err
}

// openChat navigates to the chat of phone unless it is already open
// and returns the message input
func (c *Client) openChat(ctx context.Context, phone string) (*rod.Element, error) {
	if c.page == nil {
		return nil, errors.New("whatsapp client not started")
	}
	if err := c.checkBlocked(c.page); err != nil {
		return nil, err
	}

	digits := NormalizePhone(phone)
	if digits == "" {
		return nil, fmt.Errorf("invalid phone number %q", phone)
	}

	page := c.page.Context(ctx).Timeout(c.opts.NavigationTimeout)
	if c.currentChat != digits {
		if err := page.Navigate(SendURL(digits)); err != nil {
			return nil, fmt.Errorf("open chat: %w", err)
		}
		c.currentChat = ""
	}

	race := page.Race()
	for _, sel := range messageInputSelectors {
		race = race.Element(sel)
	}
	box, err := race.Do()
	if err != nil {
		if blocked := c.checkBlocked(c.page); blocked != nil {
			return nil, blocked
		}
		return nil, fmt.Errorf("chat with %s did not open: %w", digits, err)
	}

	c.currentChat = digits
	return box, nil
}

func (c *Client) checkBlocked(page *rod.Page) error {
	html, err := page.HTML()
	if err != nil {
		return nil
	}
	if indicator, ok := DetectBlock(html); ok {
		c.log.Error("block indicator detected", zap.String("indicator", indicator))
		return fmt.Errorf("%w: %q", ErrBlocked, indicator)
	}
	return nil
}

type bubble struct {
	ID   string `json:"id"`
	Pre  string `json:"pre"`
	Text string `json:"text"`
}

func (b bubble) message() Message {
	sentAt, sender := ParseHeader(b.Pre)
	m := Message{ID: b.ID, Text: b.Text, SentAt: sentAt}

	// data-id is "true_<chat>_<id>" for messages from the other side
	switch {
	case strings.HasPrefix(b.ID, "true_"):
		m.Incoming = true
	case strings.HasPrefix(b.ID, "false_"):
		m.Incoming = false
	default:
		m.Incoming = sender != "" && sender != "You"
	}

	if m.ID == "" {
		m.ID = b.Pre + "|" + b.Text
	}
	return m
}

// SendURL is the deep link that opens the chat of a phone number
func SendURL(digits string) string {
	return webURL + "send?phone=" + url.QueryEscape(digits)
}

// NormalizePhone keeps the digits of an international number.
// A leading 00 international prefix is dropped.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return strings.TrimPrefix(b.String(), "00")
}

// DetectBlock reports the first block indicator found in page text
func DetectBlock(pageText string) (string, bool) {
	lower := strings.ToLower(pageText)
	for _, indicator := range blockIndicators {
		if strings.Contains(lower, indicator) {
			return indicator, true
		}
	}
	return "", false
}

var headerRe = regexp.MustCompile(`^\[([^\]]+)\]\s*(.*?):\s*$`)

var headerLayouts = []string{
	"15:04, 02/01/2006",
	"15:04, 2/1/2006",
	"3:04 PM, 1/2/2006",
	"15:04, 2.1.2006",
	"15:04, 2006-01-02",
}

// ParseHeader parses a bubble header such as "[10:42, 19/10/2026] Amira: "
// into the local send time and the sender name
func ParseHeader(pre string) (time.Time, string) {
	m := headerRe.FindStringSubmatch(strings.TrimSpace(pre))
	if m == nil {
		return time.Time{}, ""
	}
	stamp := strings.Join(strings.Fields(m[1]), " ")
	for _, layout := range headerLayouts {
		if t, err := time.ParseInLocation(layout, stamp, time.Local); err == nil {
			return t, m[2]
		}
	}
	return time.Time{}, m[2]
}
