package data

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/reviewharvest/review-bridge/internal/biz/domain"
	"github.com/reviewharvest/review-bridge/internal/biz/repo"
)

// GeminiOptions configures the Gemini classifier
type GeminiOptions struct {
	APIKey  string
	Model   string
	BaseURL string // Empty for the public endpoint
	Timeout time.Duration
}

// geminiClassifier classifies through the Gemini API
type geminiClassifier struct {
	client  *genai.Client
	model   string
	timeout time.Duration
	log     *zap.Logger
}

// NewGeminiClassifier creates a Gemini-backed classifier
func NewGeminiClassifier(ctx context.Context, opts GeminiOptions, log *zap.Logger) (repo.Classifier, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if opts.Model == "" {
		opts.Model = "gemini-2.0-flash"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      opts.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: opts.BaseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &geminiClassifier{
		client:  client,
		model:   opts.Model,
		timeout: opts.Timeout,
		log:     log.Named("classifier"),
	}, nil
}

// Classify implements repo.Classifier
func (c *geminiClassifier) Classify(ctx context.Context, text string) (domain.Sentiment, error) {
	if tooShortToClassify(text) {
		return domain.SentimentNeutral, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.Models.GenerateContent(ctx, c.model,
		genai.Text(sentimentRequest(text)),
		&genai.GenerateContentConfig{
			Temperature:     genai.Ptr[float32](0),
			MaxOutputTokens: sentimentMaxTokens,
		},
	)
	if err != nil {
		return domain.SentimentNone, fmt.Errorf("classify with %s: %w", c.model, err)
	}

	sentiment, err := parseSentimentLabel(resp.Text())
	if err != nil {
		return domain.SentimentNone, err
	}
	c.log.Debug("classified", zap.String("model", c.model), zap.String("sentiment", string(sentiment)))
	return sentiment, nil
}
