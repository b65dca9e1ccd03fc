package usecase

import (
	"strings"

	"github.com/reviewharvest/review-bridge/internal/biz/domain"
)

// MessageTemplates holds the outbound message templates.
// Placeholders: {name}, {product}, {link}.
type MessageTemplates struct {
	Request        string
	Redirect       string
	ThankYou       string
	ReviewLink     string
	DefaultProduct string
}

// DefaultMessageTemplates is the default template set
var DefaultMessageTemplates = MessageTemplates{
	Request: "Hi {name}, we noticed you recently purchased {product}. " +
		"We hope you're satisfied! Would you mind sharing a quick review about your experience?",
	Redirect: "Thank you so much for your kind words, {name}! We really appreciate it. " +
		"If you have a moment, we would be grateful if you could share your experience on Google: {link}",
	ThankYou: "Thank you for your feedback, {name}. " +
		"We appreciate you taking the time to share your thoughts with us.",
	DefaultProduct: "your recent purchase",
}

// RenderRequest renders the review request for a customer
func (t MessageTemplates) RenderRequest(c *domain.Customer) string {
	return t.render(t.Request, c)
}

// RenderFollowUp renders the follow-up for a classified customer and
// returns the status the customer moves to once it is sent
func (t MessageTemplates) RenderFollowUp(c *domain.Customer) (string, domain.Status) {
	if c.Sentiment == domain.SentimentPositive {
		return t.render(t.Redirect, c), domain.StatusRedirected
	}
	return t.render(t.ThankYou, c), domain.StatusThankedOnly
}

func (t MessageTemplates) render(tmpl string, c *domain.Customer) string {
	product := strings.TrimSpace(c.Product)
	if product == "" {
		product = t.DefaultProduct
	}
	r := strings.NewReplacer(
		"{name}", strings.TrimSpace(c.Name),
		"{product}", product,
		"{link}", t.ReviewLink,
	)
	return strings.TrimSpace(r.Replace(tmpl))
}
