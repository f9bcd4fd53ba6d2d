package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aretw0/tendril"
	"github.com/aretw0/tendril/internal/logging"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/router"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Engine is the part of tendril.Engine exposed over HTTP.
type Engine interface {
	StartFlow(ctx context.Context, req tendril.StartRequest) (*domain.ExecutionInstance, error)
	ResumeFlow(ctx context.Context, executionID, text string) (*domain.ExecutionInstance, error)
	GetExecution(ctx context.Context, id string) (*domain.ExecutionInstance, error)
	ListExecutions(ctx context.Context) ([]string, error)
	ListRecords(ctx context.Context, id string) ([]domain.NodeExecutionRecord, error)
	ListVariables(ctx context.Context, id string) ([]domain.CollectedVariable, error)
	ListMessages(ctx context.Context, id string) ([]domain.MessageLogEntry, error)
	ValidateFlow(ctx context.Context, flowID string) error
}

// Dispatcher routes inbound channel events (see router.Dispatcher).
type Dispatcher interface {
	Dispatch(ctx context.Context, ev domain.InboundEvent) (router.Result, error)
}

// Server serves the execution API and channel webhooks.
type Server struct {
	Engine     Engine
	Dispatcher Dispatcher
	Streams    *StreamManager

	verifyToken string
	appSecret   string
	metrics     http.Handler
	maxInput    int
	logger      *slog.Logger
}

type Option func(*Server)

// WithDispatcher enables POST /v1/events and the Messenger webhook.
func WithDispatcher(d Dispatcher) Option {
	return func(s *Server) { s.Dispatcher = d }
}

// WithStreams shares a StreamManager whose Hooks are installed on the engine.
func WithStreams(sm *StreamManager) Option {
	return func(s *Server) { s.Streams = sm }
}

// WithMessengerVerifyToken sets the token expected by the webhook subscription handshake.
func WithMessengerVerifyToken(token string) Option {
	return func(s *Server) { s.verifyToken = token }
}

// WithMessengerAppSecret enables X-Hub-Signature-256 checks on webhook deliveries.
func WithMessengerAppSecret(secret string) Option {
	return func(s *Server) { s.appSecret = secret }
}

// WithMetricsHandler mounts h at GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

func WithMaxInputSize(n int) Option {
	return func(s *Server) { s.maxInput = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewHandler creates a new HTTP handler for the engine.
func NewHandler(engine Engine, opts ...Option) http.Handler {
	s := &Server{
		Engine: engine,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.Streams == nil {
		s.Streams = NewStreamManager(WithStreamLogger(s.logger))
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.GetHealth)
	r.Get("/info", s.GetInfo)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/flows/{flowID}/executions", s.StartExecution)
		r.Get("/flows/{flowID}/validate", s.ValidateFlow)

		r.Get("/executions", s.ListExecutions)
		r.Route("/executions/{id}", func(r chi.Router) {
			r.Get("/", s.GetExecution)
			r.Post("/resume", s.ResumeExecution)
			r.Get("/records", s.ListRecords)
			r.Get("/variables", s.ListVariables)
			r.Get("/messages", s.ListMessages)
			r.Get("/events", s.SubscribeEvents)
		})

		if s.Dispatcher != nil {
			r.Post("/events", s.DispatchEvent)
			r.Get("/webhooks/messenger", s.VerifyMessengerWebhook)
			r.Post("/webhooks/messenger", s.ReceiveMessengerWebhook)
		}
	})

	return enableCORS(r)
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Hub-Signature-256")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type startRequest struct {
	SubscriberID   string `json:"subscriber_id"`
	ChannelID      string `json:"channel_id"`
	AccessToken    string `json:"access_token"`
	ConversationID string `json:"conversation_id"`
	StartNodeID    string `json:"start_node_id"`
}

type resumeRequest struct {
	Text string `json:"text"`
}

type errorResponse struct {
	Error     string                    `json:"error"`
	Execution *domain.ExecutionInstance `json:"execution,omitempty"`
}

// StartExecution handles POST /v1/flows/{flowID}/executions.
func (s *Server) StartExecution(w http.ResponseWriter, r *http.Request) {
	var body startRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		s.logger.Warn("StartExecution: invalid request body", "err", err)
		return
	}
	if strings.TrimSpace(body.SubscriberID) == "" {
		s.writeError(w, http.StatusBadRequest, "subscriber_id is required")
		return
	}

	exec, err := s.Engine.StartFlow(r.Context(), tendril.StartRequest{
		FlowID:         chi.URLParam(r, "flowID"),
		SubscriberID:   body.SubscriberID,
		ChannelID:      body.ChannelID,
		AccessToken:    body.AccessToken,
		ConversationID: body.ConversationID,
		StartNodeID:    body.StartNodeID,
	})
	if err != nil {
		s.writeEngineError(w, "StartExecution", exec, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, exec)
}

// ResumeExecution handles POST /v1/executions/{id}/resume.
func (s *Server) ResumeExecution(w http.ResponseWriter, r *http.Request) {
	var body resumeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		s.logger.Warn("ResumeExecution: invalid request body", "err", err)
		return
	}
	text, err := router.SanitizeText(body.Text, s.maxInput)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		s.logger.Warn("ResumeExecution: input rejected", "err", err, "size", len(body.Text))
		return
	}

	exec, err := s.Engine.ResumeFlow(r.Context(), chi.URLParam(r, "id"), text)
	if err != nil {
		s.writeEngineError(w, "ResumeExecution", exec, err)
		return
	}
	s.writeJSON(w, http.StatusOK, exec)
}

// ValidateFlow handles GET /v1/flows/{flowID}/validate.
func (s *Server) ValidateFlow(w http.ResponseWriter, r *http.Request) {
	flowID := chi.URLParam(r, "flowID")
	if err := s.Engine.ValidateFlow(r.Context(), flowID); err != nil {
		s.writeEngineError(w, "ValidateFlow", nil, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"flow_id": flowID, "valid": true})
}

// ListExecutions handles GET /v1/executions.
func (s *Server) ListExecutions(w http.ResponseWriter, r *http.Request) {
	ids, err := s.Engine.ListExecutions(r.Context())
	if err != nil {
		s.writeEngineError(w, "ListExecutions", nil, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	s.writeJSON(w, http.StatusOK, map[string][]string{"executions": ids})
}

// GetExecution handles GET /v1/executions/{id}.
func (s *Server) GetExecution(w http.ResponseWriter, r *http.Request) {
	exec, err := s.Engine.GetExecution(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeEngineError(w, "GetExecution", nil, err)
		return
	}
	s.writeJSON(w, http.StatusOK, exec)
}

func (s *Server) ListRecords(w http.ResponseWriter, r *http.Request) {
	listFor(s, w, r, "ListRecords", s.Engine.ListRecords)
}

func (s *Server) ListVariables(w http.ResponseWriter, r *http.Request) {
	listFor(s, w, r, "ListVariables", s.Engine.ListVariables)
}

func (s *Server) ListMessages(w http.ResponseWriter, r *http.Request) {
	listFor(s, w, r, "ListMessages", s.Engine.ListMessages)
}

// listFor serves one of the per-execution logs. Unknown executions are 404.
func listFor[T any](s *Server, w http.ResponseWriter, r *http.Request, op string, list func(context.Context, string) ([]T, error)) {
	id := chi.URLParam(r, "id")
	if _, err := s.Engine.GetExecution(r.Context(), id); err != nil {
		s.writeEngineError(w, op, nil, err)
		return
	}
	items, err := list(r.Context(), id)
	if err != nil {
		s.writeEngineError(w, op, nil, err)
		return
	}
	if items == nil {
		items = []T{}
	}
	s.writeJSON(w, http.StatusOK, items)
}

// DispatchEvent handles POST /v1/events, a channel-neutral inbound event.
func (s *Server) DispatchEvent(w http.ResponseWriter, r *http.Request) {
	var ev domain.InboundEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		s.logger.Warn("DispatchEvent: invalid request body", "err", err)
		return
	}
	if ev.ChannelID == "" || ev.SubscriberID == "" {
		s.writeError(w, http.StatusBadRequest, "channel_id and subscriber_id are required")
		return
	}

	res, err := s.Dispatcher.Dispatch(r.Context(), ev)
	if err != nil {
		s.writeEngineError(w, "DispatchEvent", res.Execution, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

// GetHealth handles the GET /health request.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetInfo handles the GET /info request.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"app":     "tendril",
		"version": strings.TrimSpace(tendril.Version),
	})
}

func statusFor(err error) int {
	var defErr *domain.DefinitionError
	switch {
	case errors.Is(err, domain.ErrFlowNotFound),
		errors.Is(err, domain.ErrExecutionNotFound),
		errors.Is(err, router.ErrUnknownChannel):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrNotWaiting):
		return http.StatusConflict
	case errors.As(err, &defErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, router.ErrInputTooLarge), errors.Is(err, router.ErrInvalidUTF8):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeEngineError maps err to a status. A failed execution is returned
// alongside the error so callers can inspect how far it got.
func (s *Server) writeEngineError(w http.ResponseWriter, op string, exec *domain.ExecutionInstance, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(op+" failed", "err", err)
	} else {
		s.logger.Debug(op+" rejected", "err", err, "status", status)
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error(), Execution: exec})
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encode failed", "err", err)
	}
}
