package repo

import (
	"context"

	"github.com/reviewharvest/review-bridge/internal/biz/domain"
)

// EventPublisher publishes campaign events to external consumers
type EventPublisher interface {
	// PublishTransition publishes a committed status change
	PublishTransition(ctx context.Context, c *domain.Customer, from domain.Status) error

	// PublishRunSummary publishes the summary of a finished run
	PublishRunSummary(ctx context.Context, s *domain.RunSummary) error

	Close() error
}
