package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewharvest/review-bridge/internal/biz/domain"
	"github.com/reviewharvest/review-bridge/internal/biz/usecase"
	"github.com/reviewharvest/review-bridge/internal/service"
)

// MockCustomerAdmin keeps customers in memory
type MockCustomerAdmin struct {
	mu        sync.Mutex
	customers map[int64]*domain.Customer
	nextID    int64
	busy      map[int64]bool
}

func newMockCustomerAdmin() *MockCustomerAdmin {
	return &MockCustomerAdmin{customers: make(map[int64]*domain.Customer), busy: make(map[int64]bool)}
}

func (m *MockCustomerAdmin) List(ctx context.Context, statuses ...domain.Status) ([]*domain.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Customer
	for _, c := range m.customers {
		if len(statuses) == 0 {
			out = append(out, c)
			continue
		}
		for _, s := range statuses {
			if c.Status == s {
				out = append(out, c)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MockCustomerAdmin) Get(ctx context.Context, id int64) (*domain.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.customers[id]
	if !ok {
		return nil, fmt.Errorf("customer %d: %w", id, domain.ErrCustomerNotFound)
	}
	return c, nil
}

func (m *MockCustomerAdmin) Add(ctx context.Context, name, contact, product string) (*domain.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if name == "" || contact == "" {
		return nil, usecase.ErrInvalidCustomer
	}
	for _, c := range m.customers {
		if c.Contact == contact {
			return nil, domain.ErrDuplicateContact
		}
	}
	m.nextID++
	c := &domain.Customer{ID: m.nextID, Name: name, Contact: contact, Product: product, Status: domain.StatusPending, Version: 1}
	m.customers[c.ID] = c
	return c, nil
}

func (m *MockCustomerAdmin) Reset(ctx context.Context, id int64) (*domain.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.busy[id] {
		return nil, usecase.ErrCustomerBusy
	}
	c, ok := m.customers[id]
	if !ok {
		return nil, domain.ErrCustomerNotFound
	}
	next := c.Reset(time.Now())
	m.customers[id] = next
	return next, nil
}

func (m *MockCustomerAdmin) Delete(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.customers[id]; !ok {
		return domain.ErrCustomerNotFound
	}
	delete(m.customers, id)
	return nil
}

func (m *MockCustomerAdmin) Stats(ctx context.Context) (*domain.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := domain.NewStats()
	for _, c := range m.customers {
		stats.Add(c.Status, c.Sentiment, 1)
	}
	return stats, nil
}

// MockCampaign records started runs
type MockCampaign struct {
	mu      sync.Mutex
	running bool
	last    *domain.RunSummary
}

func (m *MockCampaign) StartAsync(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return domain.ErrRunInProgress
	}
	m.running = true
	return nil
}

func (m *MockCampaign) State() service.RunState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return service.RunState{Running: m.running, Last: m.last}
}

func newTestServer() (*Server, *MockCustomerAdmin, *MockCampaign) {
	customers := newMockCustomerAdmin()
	campaign := &MockCampaign{}
	return NewServer(customers, campaign, "127.0.0.1:0", nil), customers, campaign
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	server, _, _ := newTestServer()
	w := do(t, server.Routes(), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}

func TestCustomerLifecycle(t *testing.T) {
	server, customers, _ := newTestServer()
	h := server.Routes()

	w := do(t, h, http.MethodPost, "/api/customers", AddCustomerRequest{Name: "Amira", Contact: "+212600000001", Product: "desk lamp"})
	require.Equal(t, http.StatusCreated, w.Code)
	var created Customer
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "pending", created.Status)
	assert.Nil(t, created.RequestSentAt)

	w = do(t, h, http.MethodPost, "/api/customers", AddCustomerRequest{Name: "Other", Contact: "+212600000001"})
	assert.Equal(t, http.StatusConflict, w.Code, "duplicate contact")

	w = do(t, h, http.MethodPost, "/api/customers", AddCustomerRequest{Name: "No contact"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, http.MethodGet, fmt.Sprintf("/api/customers/%d", created.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)

	// Simulate a finished campaign, then reset it
	customers.customers[created.ID].Status = domain.StatusCompleted
	customers.customers[created.ID].Sentiment = domain.SentimentPositive

	w = do(t, h, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats domain.Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Completed)
	assert.InDelta(t, 1.0, stats.ConversionRate, 0.001)

	w = do(t, h, http.MethodPost, fmt.Sprintf("/api/customers/%d/reset", created.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var reset Customer
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &reset))
	assert.Equal(t, "pending", reset.Status)
	assert.Empty(t, reset.Sentiment)

	w = do(t, h, http.MethodDelete, fmt.Sprintf("/api/customers/%d", created.ID), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, h, http.MethodGet, fmt.Sprintf("/api/customers/%d", created.ID), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListCustomers_StatusFilter(t *testing.T) {
	server, customers, _ := newTestServer()
	h := server.Routes()

	for i, status := range []domain.Status{domain.StatusPending, domain.StatusTimedOut, domain.StatusCompleted} {
		c, err := customers.Add(context.Background(), fmt.Sprintf("c%d", i), fmt.Sprintf("+1%d", i), "")
		require.NoError(t, err)
		c.Status = status
	}

	var result struct {
		Customers []Customer `json:"customers"`
	}
	w := do(t, h, http.MethodGet, "/api/customers?status=timed_out,completed", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	require.Len(t, result.Customers, 2)
	assert.Equal(t, "timed_out", result.Customers[0].Status)

	w = do(t, h, http.MethodGet, "/api/customers?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCustomerID_Invalid(t *testing.T) {
	server, _, _ := newTestServer()
	w := do(t, server.Routes(), http.MethodGet, "/api/customers/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "invalid customer id"))
}

func TestResetCustomer_Busy(t *testing.T) {
	server, customers, _ := newTestServer()
	c, err := customers.Add(context.Background(), "Amira", "+1", "")
	require.NoError(t, err)
	customers.busy[c.ID] = true

	w := do(t, server.Routes(), http.MethodPost, fmt.Sprintf("/api/customers/%d/reset", c.ID), nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestStartRun(t *testing.T) {
	server, _, campaign := newTestServer()
	h := server.Routes()

	w := do(t, h, http.MethodPost, "/api/runs", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = do(t, h, http.MethodPost, "/api/runs", nil)
	assert.Equal(t, http.StatusConflict, w.Code, "a second run while one is active")

	campaign.mu.Lock()
	campaign.running = false
	campaign.last = domain.NewRunSummary("run-1", time.Now())
	campaign.mu.Unlock()

	w = do(t, h, http.MethodGet, "/api/runs/last", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var state service.RunState
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &state))
	assert.False(t, state.Running)
	require.NotNil(t, state.Last)
	assert.Equal(t, "run-1", state.Last.RunID)
}

func TestConvertCustomer(t *testing.T) {
	sent := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	view := ConvertCustomer(&domain.Customer{
		ID: 7, Name: "Amira", Contact: "+1", Status: domain.StatusAwaitingReply,
		RequestSentAt: sent, ReplyText: "love it",
	})
	require.NotNil(t, view.RequestSentAt)
	assert.Equal(t, sent, *view.RequestSentAt)
	assert.Nil(t, view.ReplyAt)
	assert.Equal(t, "awaiting_reply", view.Status)
}
