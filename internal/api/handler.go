package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/reviewharvest/review-bridge/internal/biz/domain"
	"github.com/reviewharvest/review-bridge/internal/biz/usecase"
	"github.com/reviewharvest/review-bridge/internal/service"
)

// CustomerAdmin is the customer administration used by the API
type CustomerAdmin interface {
	List(ctx context.Context, statuses ...domain.Status) ([]*domain.Customer, error)
	Get(ctx context.Context, id int64) (*domain.Customer, error)
	Add(ctx context.Context, name, contact, product string) (*domain.Customer, error)
	Reset(ctx context.Context, id int64) (*domain.Customer, error)
	Delete(ctx context.Context, id int64) error
	Stats(ctx context.Context) (*domain.Stats, error)
}

// CampaignControl starts campaign runs and reports on them
type CampaignControl interface {
	StartAsync(ctx context.Context) error
	State() service.RunState
}

// Server provides the HTTP API for the dashboard, the CLI and the MCP tools
type Server struct {
	customers CustomerAdmin
	campaign  CampaignControl
	log       *zap.Logger

	server *http.Server
	addr   string
}

// Customer is the JSON view of a customer
type Customer struct {
	ID            int64      `json:"id"`
	Name          string     `json:"name"`
	Contact       string     `json:"contact"`
	Product       string     `json:"product,omitempty"`
	Status        string     `json:"status"`
	Sentiment     string     `json:"sentiment,omitempty"`
	ReplyText     string     `json:"reply_text,omitempty"`
	ReplyAt       *time.Time `json:"reply_at,omitempty"`
	RequestSentAt *time.Time `json:"request_sent_at,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
	FailureCount  int        `json:"failure_count,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
	Version       int64      `json:"version"`
}

// AddCustomerRequest is the body of POST /api/customers
type AddCustomerRequest struct {
	Name    string `json:"name"`
	Contact string `json:"contact"`
	Product string `json:"product"`
}

// NewServer creates a new API server
func NewServer(customers CustomerAdmin, campaign CampaignControl, addr string, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		customers: customers,
		campaign:  campaign,
		log:       log.Named("api"),
		addr:      addr,
	}
}

// Routes returns the API router
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/customers", s.handleListCustomers)
		r.Post("/customers", s.handleAddCustomer)
		r.Get("/customers/{id}", s.handleGetCustomer)
		r.Delete("/customers/{id}", s.handleDeleteCustomer)
		r.Post("/customers/{id}/reset", s.handleResetCustomer)

		r.Get("/stats", s.handleStats)

		r.Post("/runs", s.handleStartRun)
		r.Get("/runs/last", s.handleLastRun)
	})
	return r
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.Info("starting HTTP server", zap.String("addr", s.addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// Addr returns the listen address
func (s *Server) Addr() string {
	return s.addr
}

// ============ Customer Handlers ============

func (s *Server) handleListCustomers(w http.ResponseWriter, r *http.Request) {
	statuses, err := parseStatuses(r.URL.Query().Get("status"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	customers, err := s.customers.List(r.Context(), statuses...)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	result := make([]Customer, len(customers))
	for i, c := range customers {
		result[i] = ConvertCustomer(c)
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"customers": result})
}

func (s *Server) handleAddCustomer(w http.ResponseWriter, r *http.Request) {
	var req AddCustomerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	c, err := s.customers.Add(r.Context(), req.Name, req.Contact, req.Product)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, ConvertCustomer(c))
}

func (s *Server) handleGetCustomer(w http.ResponseWriter, r *http.Request) {
	id, ok := s.customerID(w, r)
	if !ok {
		return
	}

	c, err := s.customers.Get(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ConvertCustomer(c))
}

func (s *Server) handleDeleteCustomer(w http.ResponseWriter, r *http.Request) {
	id, ok := s.customerID(w, r)
	if !ok {
		return
	}

	if err := s.customers.Delete(r.Context(), id); err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (s *Server) handleResetCustomer(w http.ResponseWriter, r *http.Request) {
	id, ok := s.customerID(w, r)
	if !ok {
		return
	}

	c, err := s.customers.Reset(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ConvertCustomer(c))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.customers.Stats(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

// ============ Run Handlers ============

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	if err := s.campaign.StartAsync(r.Context()); err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]interface{}{"started": true})
}

func (s *Server) handleLastRun(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.campaign.State())
}

// ============ Helpers ============

func (s *Server) customerID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, http.StatusBadRequest, errors.New("invalid customer id"))
		return 0, false
	}
	return id, true
}

// parseStatuses parses a comma separated status filter
func parseStatuses(raw string) ([]domain.Status, error) {
	if raw == "" {
		return nil, nil
	}
	var statuses []domain.Status
	for _, part := range strings.Split(raw, ",") {
		status, err := domain.ParseStatus(part)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

// statusCode maps domain errors to HTTP status codes
func statusCode(err error) int {
	switch {
	case errors.Is(err, domain.ErrCustomerNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrDuplicateContact),
		errors.Is(err, domain.ErrRunInProgress),
		errors.Is(err, usecase.ErrCustomerBusy),
		errors.Is(err, domain.ErrVersionConflict):
		return http.StatusConflict
	case errors.Is(err, usecase.ErrInvalidCustomer):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	code := statusCode(err)
	if code == http.StatusInternalServerError {
		s.log.Error("request failed", zap.Error(err))
	}
	s.writeError(w, code, err)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, code int, err error) {
	s.writeJSON(w, code, map[string]string{"error": err.Error()})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)))
	})
}

// ConvertCustomer converts a domain.Customer to its JSON view
func ConvertCustomer(c *domain.Customer) Customer {
	view := Customer{
		ID:           c.ID,
		Name:         c.Name,
		Contact:      c.Contact,
		Product:      c.Product,
		Status:       string(c.Status),
		Sentiment:    string(c.Sentiment),
		ReplyText:    c.ReplyText,
		LastError:    c.LastError,
		FailureCount: c.FailureCount,
		UpdatedAt:    c.UpdatedAt,
		Version:      c.Version,
	}
	if !c.ReplyAt.IsZero() {
		at := c.ReplyAt
		view.ReplyAt = &at
	}
	if !c.RequestSentAt.IsZero() {
		at := c.RequestSentAt
		view.RequestSentAt = &at
	}
	return view
}
