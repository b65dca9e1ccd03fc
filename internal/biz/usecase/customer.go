package usecase

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/reviewharvest/review-bridge/internal/biz/domain"
	"github.com/reviewharvest/review-bridge/internal/biz/repo"
)

// CustomerUsecase handles customer administration for the CLI, API and MCP tools
type CustomerUsecase struct {
	store repo.CustomerRepo
	locks *KeyedLock
	log   *zap.Logger
}

// NewCustomerUsecase creates a customer usecase.
// locks is shared with the runner so a reset never races a customer being processed.
func NewCustomerUsecase(store repo.CustomerRepo, locks *KeyedLock, log *zap.Logger) *CustomerUsecase {
	if locks == nil {
		locks = NewKeyedLock()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &CustomerUsecase{store: store, locks: locks, log: log.Named("customers")}
}

var (
	// ErrCustomerBusy is returned when a customer is being processed by a run
	ErrCustomerBusy = errors.New("customer is being processed")
	// ErrInvalidCustomer is returned when name or contact is missing
	ErrInvalidCustomer = errors.New("name and contact are required")
)

// List lists customers, optionally by status
func (uc *CustomerUsecase) List(ctx context.Context, statuses ...domain.Status) ([]*domain.Customer, error) {
	return uc.store.List(ctx, domain.ListFilter{Statuses: statuses})
}

// Get gets a customer
func (uc *CustomerUsecase) Get(ctx context.Context, id int64) (*domain.Customer, error) {
	c, err := uc.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("customer %d: %w", id, domain.ErrCustomerNotFound)
	}
	return c, nil
}

// Add adds a pending customer
func (uc *CustomerUsecase) Add(ctx context.Context, name, contact, product string) (*domain.Customer, error) {
	name = strings.TrimSpace(name)
	contact = strings.TrimSpace(contact)
	if name == "" || contact == "" {
		return nil, ErrInvalidCustomer
	}

	c, err := uc.store.Add(ctx, &domain.Customer{
		Name:    name,
		Contact: contact,
		Product: strings.TrimSpace(product),
		Status:  domain.StatusPending,
	})
	if err != nil {
		return nil, err
	}
	uc.log.Info("customer added", zap.Int64("customer_id", c.ID), zap.String("name", c.Name))
	return c, nil
}

// ImportResult reports what an import did
type ImportResult struct {
	Added      int      `json:"added"`
	Duplicates int      `json:"duplicates"`
	Invalid    []string `json:"invalid,omitempty"`
}

// Import adds customers from CSV rows of name,contact[,product].
// A header row whose second column is "contact" or "phone" is skipped.
func (uc *CustomerUsecase) Import(ctx context.Context, r io.Reader) (*ImportResult, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	result := &ImportResult{}
	for line := 1; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return result, fmt.Errorf("read csv line %d: %w", line, err)
		}
		if line == 1 && len(record) >= 2 {
			header := strings.ToLower(strings.TrimSpace(record[1]))
			if header == "contact" || header == "phone" {
				continue
			}
		}
		if len(record) < 2 {
			result.Invalid = append(result.Invalid, fmt.Sprintf("line %d: expected name,contact[,product]", line))
			continue
		}

		product := ""
		if len(record) > 2 {
			product = record[2]
		}
		_, err = uc.Add(ctx, record[0], record[1], product)
		switch {
		case errors.Is(err, domain.ErrDuplicateContact):
			result.Duplicates++
		case errors.Is(err, ErrInvalidCustomer):
			result.Invalid = append(result.Invalid, fmt.Sprintf("line %d: %v", line, err))
		case err != nil:
			return result, err
		default:
			result.Added++
		}
	}
	return result, nil
}

// Reset puts a customer back at Pending for a fresh campaign cycle
func (uc *CustomerUsecase) Reset(ctx context.Context, id int64) (*domain.Customer, error) {
	unlock, ok := uc.locks.TryLock(id)
	if !ok {
		return nil, ErrCustomerBusy
	}
	defer unlock()

	c, err := uc.store.Reset(ctx, id)
	if err != nil {
		return nil, err
	}
	uc.log.Info("customer reset", zap.Int64("customer_id", id))
	return c, nil
}

// Delete deletes a customer
func (uc *CustomerUsecase) Delete(ctx context.Context, id int64) error {
	unlock, ok := uc.locks.TryLock(id)
	if !ok {
		return ErrCustomerBusy
	}
	defer unlock()

	if err := uc.store.Delete(ctx, id); err != nil {
		return err
	}
	uc.log.Info("customer deleted", zap.Int64("customer_id", id))
	return nil
}

// Stats returns dashboard counters
func (uc *CustomerUsecase) Stats(ctx context.Context) (*domain.Stats, error) {
	return uc.store.Stats(ctx)
}
