package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewharvest/review-bridge/internal/biz/domain"
)

func TestCustomerUsecase_Add(t *testing.T) {
	uc := NewCustomerUsecase(newFakeStore(), nil, nil)

	c, err := uc.Add(context.Background(), "  Amira ", " +4917012345 ", "blender")
	require.NoError(t, err)
	assert.Equal(t, "Amira", c.Name)
	assert.Equal(t, "+4917012345", c.Contact)
	assert.Equal(t, domain.StatusPending, c.Status)

	_, err = uc.Add(context.Background(), "Sam", "   ", "")
	assert.ErrorIs(t, err, ErrInvalidCustomer)

	_, err = uc.Add(context.Background(), "Amira again", "+4917012345", "")
	assert.ErrorIs(t, err, domain.ErrDuplicateContact)
}

func TestCustomerUsecase_Import(t *testing.T) {
	store := newFakeStore(&domain.Customer{Name: "Existing", Contact: "+100"})
	uc := NewCustomerUsecase(store, nil, nil)

	csv := strings.Join([]string{
		"name,phone,product",
		"Amira,+101,desk lamp",
		"Sam,+102",
		"Existing,+100,",
		"Broken",
		",+103,chair",
	}, "\n")

	result, err := uc.Import(context.Background(), strings.NewReader(csv))
	require.NoError(t, err)

	assert.Equal(t, 2, result.Added)
	assert.Equal(t, 1, result.Duplicates)
	assert.Len(t, result.Invalid, 2)
	assert.Contains(t, result.Invalid[0], "line 5")

	pending, err := uc.List(context.Background(), domain.StatusPending)
	require.NoError(t, err)
	assert.Len(t, pending, 3)
}

func TestCustomerUsecase_ImportWithoutHeader(t *testing.T) {
	uc := NewCustomerUsecase(newFakeStore(), nil, nil)

	result, err := uc.Import(context.Background(), strings.NewReader("Amira,+101\nSam,+102,mug\n"))
	require.NoError(t, err)
	assert.Equal(t, 2, result.Added)
	assert.Empty(t, result.Invalid)
}

func TestCustomerUsecase_Get(t *testing.T) {
	uc := NewCustomerUsecase(newFakeStore(&domain.Customer{ID: 3, Name: "Amira", Contact: "+1"}), nil, nil)

	c, err := uc.Get(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, "Amira", c.Name)

	_, err = uc.Get(context.Background(), 99)
	assert.True(t, errors.Is(err, domain.ErrCustomerNotFound))
}

func TestCustomerUsecase_ResetAndDeleteRespectLocks(t *testing.T) {
	store := newFakeStore(&domain.Customer{
		ID: 1, Name: "Sam", Contact: "+1",
		Status:       domain.StatusErrored,
		LastError:    "invalid contact",
		FailureCount: 3,
	})
	locks := NewKeyedLock()
	uc := NewCustomerUsecase(store, locks, nil)

	unlock, ok := locks.TryLock(1)
	require.True(t, ok)
	_, err := uc.Reset(context.Background(), 1)
	assert.ErrorIs(t, err, ErrCustomerBusy)
	assert.ErrorIs(t, uc.Delete(context.Background(), 1), ErrCustomerBusy)
	unlock()

	c, err := uc.Reset(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, c.Status)
	assert.Equal(t, 0, c.FailureCount)
	assert.Empty(t, c.LastError)
	assert.Equal(t, 0, locks.Held())

	require.NoError(t, uc.Delete(context.Background(), 1))
	assert.ErrorIs(t, uc.Delete(context.Background(), 1), domain.ErrCustomerNotFound)
}

func TestCustomerUsecase_Stats(t *testing.T) {
	store := newFakeStore(
		&domain.Customer{Name: "A", Contact: "1", Status: domain.StatusCompleted, Sentiment: domain.SentimentPositive},
		&domain.Customer{Name: "B", Contact: "2", Status: domain.StatusCompleted, Sentiment: domain.SentimentNegative},
		&domain.Customer{Name: "C", Contact: "3"},
	)
	uc := NewCustomerUsecase(store, nil, nil)

	stats, err := uc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 1, stats.Positive)
	assert.Equal(t, 2, stats.Completed)
	assert.InDelta(t, 0.5, stats.ConversionRate, 0.0001)
}
