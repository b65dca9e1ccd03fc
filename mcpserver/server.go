package mcpserver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/reviewharvest/review-bridge/internal/api"
	"github.com/reviewharvest/review-bridge/internal/biz/domain"
	"github.com/reviewharvest/review-bridge/internal/service"
)

// CampaignAPI is the part of the bridge API the tools call
type CampaignAPI interface {
	ListCustomers(ctx context.Context, statuses ...string) ([]api.Customer, error)
	ResetCustomer(ctx context.Context, id int64) (*api.Customer, error)
	Stats(ctx context.Context) (*domain.Stats, error)
	StartRun(ctx context.Context) (bool, error)
	LastRun(ctx context.Context) (*service.RunState, error)
}

// ReviewMCPServer provides MCP tools for running review campaigns
type ReviewMCPServer struct {
	server *mcp.Server
	api    CampaignAPI
}

// NewServer creates a new review campaign MCP server
func NewServer(client CampaignAPI) *ReviewMCPServer {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "review-campaign-tools",
		Version: "v1.0.0",
	}, nil)

	s := &ReviewMCPServer{server: server, api: client}
	s.registerTools()
	return s
}

// registerTools registers all campaign MCP tools
func (s *ReviewMCPServer) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "campaign_stats",
		Description: "Get campaign counters: customers per status, positive replies and the conversion rate (positive / completed).",
	}, s.handleStats)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "campaign_list_customers",
		Description: "List customers with their campaign status, sentiment and reply. Optionally filter by status.",
	}, s.handleListCustomers)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "campaign_reset_customer",
		Description: "Put a customer back at pending so the next run sends a fresh review request.",
	}, s.handleResetCustomer)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "campaign_start_run",
		Description: "Start a campaign run in the background. Only one run can be active at a time.",
	}, s.handleStartRun)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "campaign_last_run",
		Description: "Get whether a run is active and the summary of the last finished run.",
	}, s.handleLastRun)
}

// StatsInput is empty - no input needed
type StatsInput struct{}

// StatsOutput contains the campaign counters
type StatsOutput struct {
	Total          int            `json:"total"`
	ByStatus       map[string]int `json:"by_status,omitempty"`
	Positive       int            `json:"positive"`
	Completed      int            `json:"completed"`
	ConversionRate float64        `json:"conversion_rate"`
	Error          string         `json:"error,omitempty"`
}

func (s *ReviewMCPServer) handleStats(ctx context.Context, req *mcp.CallToolRequest, input StatsInput) (*mcp.CallToolResult, StatsOutput, error) {
	stats, err := s.api.Stats(ctx)
	if err != nil {
		return nil, StatsOutput{Error: err.Error()}, nil
	}

	out := StatsOutput{
		Total:          stats.Total,
		ByStatus:       make(map[string]int, len(stats.ByStatus)),
		Positive:       stats.Positive,
		Completed:      stats.Completed,
		ConversionRate: stats.ConversionRate,
	}
	for status, n := range stats.ByStatus {
		out.ByStatus[string(status)] = n
	}
	return nil, out, nil
}

// ListCustomersInput optionally filters by status
type ListCustomersInput struct {
	Status string `json:"status,omitempty" jsonschema:"Comma separated statuses, e.g. pending,timed_out. Empty lists everyone."`
}

// CustomerSummary is one customer line
type CustomerSummary struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Contact   string `json:"contact"`
	Status    string `json:"status"`
	Sentiment string `json:"sentiment,omitempty"`
	ReplyText string `json:"reply_text,omitempty"`
	LastError string `json:"last_error,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// ListCustomersOutput contains the customers
type ListCustomersOutput struct {
	Customers []CustomerSummary `json:"customers"`
	Error     string            `json:"error,omitempty"`
}

func (s *ReviewMCPServer) handleListCustomers(ctx context.Context, req *mcp.CallToolRequest, input ListCustomersInput) (*mcp.CallToolResult, ListCustomersOutput, error) {
	var statuses []string
	for _, part := range strings.Split(input.Status, ",") {
		if part = strings.TrimSpace(part); part != "" {
			statuses = append(statuses, part)
		}
	}

	customers, err := s.api.ListCustomers(ctx, statuses...)
	if err != nil {
		return nil, ListCustomersOutput{Error: err.Error()}, nil
	}

	out := ListCustomersOutput{Customers: make([]CustomerSummary, len(customers))}
	for i, c := range customers {
		out.Customers[i] = summarizeCustomer(c)
	}
	return nil, out, nil
}

// ResetCustomerInput names the customer to reset
type ResetCustomerInput struct {
	CustomerID int64 `json:"customer_id" jsonschema:"The id of the customer to reset"`
}

// ResetCustomerOutput is the output
type ResetCustomerOutput struct {
	Success bool   `json:"success"`
	Status  string `json:"status,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (s *ReviewMCPServer) handleResetCustomer(ctx context.Context, req *mcp.CallToolRequest, input ResetCustomerInput) (*mcp.CallToolResult, ResetCustomerOutput, error) {
	if input.CustomerID <= 0 {
		return nil, ResetCustomerOutput{Error: "customer_id is required"}, nil
	}

	c, err := s.api.ResetCustomer(ctx, input.CustomerID)
	if err != nil {
		return nil, ResetCustomerOutput{Error: err.Error()}, nil
	}
	return nil, ResetCustomerOutput{Success: true, Status: c.Status}, nil
}

// StartRunInput is empty - no input needed
type StartRunInput struct{}

// StartRunOutput is the output
type StartRunOutput struct {
	Started bool   `json:"started"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

func (s *ReviewMCPServer) handleStartRun(ctx context.Context, req *mcp.CallToolRequest, input StartRunInput) (*mcp.CallToolResult, StartRunOutput, error) {
	started, err := s.api.StartRun(ctx)
	if err != nil {
		return nil, StartRunOutput{Error: err.Error()}, nil
	}
	if !started {
		return nil, StartRunOutput{Message: "a campaign run is already in progress"}, nil
	}
	return nil, StartRunOutput{Started: true, Message: "campaign run started"}, nil
}

// LastRunInput is empty - no input needed
type LastRunInput struct{}

// LastRunOutput describes the active and the last finished run
type LastRunOutput struct {
	Running     bool   `json:"running"`
	RunID       string `json:"run_id,omitempty"`
	FinishedAt  string `json:"finished_at,omitempty"`
	Attempted   int    `json:"attempted"`
	Sent        int    `json:"sent"`
	Redirected  int    `json:"redirected"`
	Thanked     int    `json:"thanked"`
	TimedOut    int    `json:"timed_out"`
	Errored     int    `json:"errored"`
	Skipped     int    `json:"skipped"`
	Interrupted int    `json:"interrupted"`
	Aborted     bool   `json:"aborted"`
	AbortReason string `json:"abort_reason,omitempty"`
	Summary     string `json:"summary,omitempty"`
	LastError   string `json:"last_error,omitempty"`
	Error       string `json:"error,omitempty"`
}

func (s *ReviewMCPServer) handleLastRun(ctx context.Context, req *mcp.CallToolRequest, input LastRunInput) (*mcp.CallToolResult, LastRunOutput, error) {
	state, err := s.api.LastRun(ctx)
	if err != nil {
		return nil, LastRunOutput{Error: err.Error()}, nil
	}

	out := LastRunOutput{Running: state.Running, LastError: state.LastError}
	if last := state.Last; last != nil {
		out.RunID = last.RunID
		out.FinishedAt = last.FinishedAt.Format(time.RFC3339)
		out.Attempted = last.Attempted
		out.Sent = last.Sent
		out.Redirected = last.Redirected
		out.Thanked = last.Thanked
		out.TimedOut = last.TimedOut
		out.Errored = last.Errored
		out.Skipped = last.Skipped
		out.Interrupted = last.Interrupted
		out.Aborted = last.Aborted
		out.AbortReason = last.AbortReason
		out.Summary = last.String()
	} else if !state.Running {
		out.Summary = "no campaign has run yet"
	}
	return nil, out, nil
}

// Run starts the MCP server with stdio transport
func (s *ReviewMCPServer) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// GetServer returns the underlying MCP server
func (s *ReviewMCPServer) GetServer() *mcp.Server {
	return s.server
}

func summarizeCustomer(c api.Customer) CustomerSummary {
	summary := CustomerSummary{
		ID:        c.ID,
		Name:      c.Name,
		Contact:   c.Contact,
		Status:    c.Status,
		Sentiment: c.Sentiment,
		ReplyText: c.ReplyText,
		LastError: c.LastError,
	}
	if !c.UpdatedAt.IsZero() {
		summary.UpdatedAt = c.UpdatedAt.Format(time.RFC3339)
	}
	return summary
}

// ToolNames lists the registered tools, for diagnostics
func ToolNames() []string {
	return []string{
		"campaign_stats",
		"campaign_list_customers",
		"campaign_reset_customer",
		"campaign_start_run",
		"campaign_last_run",
	}
}

// Describe renders the tool list for a startup log line
func Describe() string {
	return fmt.Sprintf("%d tools: %s", len(ToolNames()), strings.Join(ToolNames(), ", "))
}
