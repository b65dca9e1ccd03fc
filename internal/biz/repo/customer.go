package repo

import (
	"context"
	"time"

	"github.com/reviewharvest/review-bridge/internal/biz/domain"
)

// CustomerRepo is the customer store interface
// Owns every customer record; campaign fields are written only through CommitStatus and Reset
type CustomerRepo interface {
	// ListPending lists customers a run should drive forward (Pending and in-flight statuses)
	ListPending(ctx context.Context) ([]*domain.Customer, error)

	// List lists customers, optionally filtered by status
	List(ctx context.Context, filter domain.ListFilter) ([]*domain.Customer, error)

	// GetByID gets a customer, returns nil if not found
	GetByID(ctx context.Context, id int64) (*domain.Customer, error)

	// CommitStatus writes a status update, optimistic-version-checked.
	// Repeating the current terminal (status, sentiment) is a no-op returning the stored record.
	CommitStatus(ctx context.Context, u domain.StatusUpdate) (*domain.Customer, error)

	// Add creates a customer at Pending
	Add(ctx context.Context, c *domain.Customer) (*domain.Customer, error)

	// Reset puts a customer back at Pending and clears its campaign fields
	Reset(ctx context.Context, id int64) (*domain.Customer, error)

	// Delete deletes a customer
	Delete(ctx context.Context, id int64) error

	// Stats counts customers by status and sentiment
	Stats(ctx context.Context) (*domain.Stats, error)

	RunLease

	// Close releases the underlying database
	Close() error
}

// RunLease is a store-wide lock held for the length of a campaign run,
// so processes sharing one store never drive the same customers at once
type RunLease interface {
	// AcquireRunLease takes the lease for owner until ttl from now, or extends it
	// when owner already holds it. It returns false while another owner holds
	// an unexpired lease.
	AcquireRunLease(ctx context.Context, owner string, ttl time.Duration) (bool, error)

	// ReleaseRunLease drops the lease if owner holds it
	ReleaseRunLease(ctx context.Context, owner string) error
}
