package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/reviewharvest/review-bridge/internal/api"
	"github.com/reviewharvest/review-bridge/internal/biz/domain"
	"github.com/reviewharvest/review-bridge/internal/service"
)

// Client is the HTTP client for the review bridge API
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError is a non-2xx answer of the API
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// ============ Customers ============

// ListCustomers lists customers, optionally filtered by status
func (c *Client) ListCustomers(ctx context.Context, statuses ...string) ([]api.Customer, error) {
	path := "/api/customers"
	if len(statuses) > 0 {
		path += "?status=" + url.QueryEscape(strings.Join(statuses, ","))
	}
	var result struct {
		Customers []api.Customer `json:"customers"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return result.Customers, nil
}

// GetCustomer gets a customer
func (c *Client) GetCustomer(ctx context.Context, id int64) (*api.Customer, error) {
	var customer api.Customer
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/customers/%d", id), nil, &customer); err != nil {
		return nil, err
	}
	return &customer, nil
}

// AddCustomer adds a pending customer
func (c *Client) AddCustomer(ctx context.Context, name, contact, product string) (*api.Customer, error) {
	body := api.AddCustomerRequest{Name: name, Contact: contact, Product: product}
	var customer api.Customer
	if err := c.do(ctx, http.MethodPost, "/api/customers", body, &customer); err != nil {
		return nil, err
	}
	return &customer, nil
}

// ResetCustomer puts a customer back at pending
func (c *Client) ResetCustomer(ctx context.Context, id int64) (*api.Customer, error) {
	var customer api.Customer
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/customers/%d/reset", id), nil, &customer); err != nil {
		return nil, err
	}
	return &customer, nil
}

// DeleteCustomer deletes a customer
func (c *Client) DeleteCustomer(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/customers/%d", id), nil, nil)
}

// Stats gets the dashboard counters
func (c *Client) Stats(ctx context.Context) (*domain.Stats, error) {
	var stats domain.Stats
	if err := c.do(ctx, http.MethodGet, "/api/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// ============ Runs ============

// StartRun starts a campaign run in the background.
// It returns started=false when a run is already active.
func (c *Client) StartRun(ctx context.Context) (started bool, err error) {
	err = c.do(ctx, http.MethodPost, "/api/runs", nil, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// LastRun gets the current run state and the last finished run
func (c *Client) LastRun(ctx context.Context) (*service.RunState, error) {
	var state service.RunState
	if err := c.do(ctx, http.MethodGet, "/api/runs/last", nil, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// ============ HTTP Helpers ============

func (c *Client) do(ctx context.Context, method, path string, body, result interface{}) error {
	var reader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal body: %w", err)
		}
		reader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP %s failed: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(respBody)}
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// errorMessage extracts {"error": "..."} or falls back to the raw body
func errorMessage(body []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return strings.TrimSpace(string(body))
}
