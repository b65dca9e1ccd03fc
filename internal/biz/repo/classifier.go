package repo

import (
	"context"

	"github.com/reviewharvest/review-bridge/internal/biz/domain"
)

// Classifier maps a reply text to a sentiment
type Classifier interface {
	// Classify returns Positive, Neutral or Negative.
	// API errors and malformed model output are returned as errors, never guessed.
	Classify(ctx context.Context, text string) (domain.Sentiment, error)
}
