package data

import (
	"context"
	"strings"

	"github.com/reviewharvest/review-bridge/internal/biz/domain"
	"github.com/reviewharvest/review-bridge/internal/biz/repo"
)

var (
	positiveKeywords = []string{
		"great", "good", "love", "loved", "excellent", "awesome",
		"amazing", "happy", "satisfied", "wonderful", "fantastic",
		"perfect", "best", "thank", "thanks", "appreciate",
	}
	negativeKeywords = []string{
		"bad", "terrible", "disappoint", "disappointed", "poor",
		"hate", "unhappy", "problem", "issue", "worst", "awful",
		"horrible", "never", "waste", "refund", "angry", "upset",
	}
)

// keywordClassifier is the offline heuristic used without an LLM key.
// Keywords match as substrings, so "unhappy" counts as both sides and lands Neutral.
type keywordClassifier struct{}

// NewKeywordClassifier creates the keyword heuristic classifier
func NewKeywordClassifier() repo.Classifier {
	return keywordClassifier{}
}

// Classify implements repo.Classifier
func (keywordClassifier) Classify(ctx context.Context, text string) (domain.Sentiment, error) {
	if tooShortToClassify(text) {
		return domain.SentimentNeutral, nil
	}

	lower := strings.ToLower(text)
	positive := containsAny(lower, positiveKeywords)
	negative := containsAny(lower, negativeKeywords)

	switch {
	case positive && !negative:
		return domain.SentimentPositive, nil
	case negative && !positive:
		return domain.SentimentNegative, nil
	}
	return domain.SentimentNeutral, nil
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
