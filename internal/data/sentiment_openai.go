package data

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/reviewharvest/review-bridge/internal/biz/domain"
	"github.com/reviewharvest/review-bridge/internal/biz/repo"
	"github.com/reviewharvest/review-bridge/internal/infra/llm"
)

// openAIClassifier classifies through an OpenAI-compatible chat API (OpenRouter by default)
type openAIClassifier struct {
	client *llm.Client
	log    *zap.Logger
}

// NewOpenAIClassifier creates a classifier backed by client
func NewOpenAIClassifier(client *llm.Client, log *zap.Logger) repo.Classifier {
	if client == nil {
		return nil
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &openAIClassifier{client: client, log: log.Named("classifier")}
}

// Classify implements repo.Classifier
func (c *openAIClassifier) Classify(ctx context.Context, text string) (domain.Sentiment, error) {
	if tooShortToClassify(text) {
		return domain.SentimentNeutral, nil
	}

	answer, err := c.client.Complete(ctx, sentimentRequest(text), sentimentMaxTokens)
	if err != nil {
		return domain.SentimentNone, fmt.Errorf("classify with %s: %w", c.client.Model(), err)
	}

	sentiment, err := parseSentimentLabel(answer)
	if err != nil {
		return domain.SentimentNone, err
	}
	c.log.Debug("classified", zap.String("model", c.client.Model()), zap.String("sentiment", string(sentiment)))
	return sentiment, nil
}
