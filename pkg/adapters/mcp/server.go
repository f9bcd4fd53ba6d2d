// Package mcp exposes the engine as a Model Context Protocol server so AI
// agents can start and drive flow executions as tools.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aretw0/tendril"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/ports"
	"github.com/aretw0/tendril/pkg/router"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// FlowsURI is the resource listing the flows the engine can run.
const FlowsURI = "tendril://flows"

// Engine is the part of tendril.Engine exposed as tools.
type Engine interface {
	StartFlow(ctx context.Context, req tendril.StartRequest) (*domain.ExecutionInstance, error)
	ResumeFlow(ctx context.Context, executionID, text string) (*domain.ExecutionInstance, error)
	GetExecution(ctx context.Context, id string) (*domain.ExecutionInstance, error)
	ListRecords(ctx context.Context, id string) ([]domain.NodeExecutionRecord, error)
	ListMessages(ctx context.Context, id string) ([]domain.MessageLogEntry, error)
	ValidateFlow(ctx context.Context, flowID string) error
	Flows() ports.FlowRepository
}

// Server adapts an Engine to an MCP server.
type Server struct {
	engine    Engine
	mcpServer *server.MCPServer
	maxInput  int
	logger    *slog.Logger
}

type Option func(*Server)

// WithMaxInputSize bounds resume_flow text; see router.SanitizeText.
func WithMaxInputSize(n int) Option {
	return func(s *Server) { s.maxInput = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer registers the flow tools and resources on a new MCP server.
func NewServer(engine Engine, opts ...Option) *Server {
	s := &Server{
		engine: engine,
		mcpServer: server.NewMCPServer("tendril-mcp", strings.TrimSpace(tendril.Version),
			server.WithToolCapabilities(false),
			server.WithResourceCapabilities(false, false),
		),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying server, e.g. to handle raw JSON-RPC messages.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio serves JSON-RPC over stdin/stdout until stdin closes.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// SSEHandler serves the SSE transport under /sse and /message. baseURL is
// the externally visible address clients post messages to.
func (s *Server) SSEHandler(baseURL string) http.Handler {
	sse := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))
	mux := http.NewServeMux()
	mux.Handle("/sse", corsMiddleware(sse.SSEHandler()))
	mux.Handle("/message", corsMiddleware(sse.MessageHandler()))
	return mux
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ExecutionView is the structured result of the execution tools.
type ExecutionView struct {
	Execution *domain.ExecutionInstance    `json:"execution"`
	Messages  []domain.MessageLogEntry     `json:"messages,omitempty"`
	Records   []domain.NodeExecutionRecord `json:"records,omitempty"`
}

// ValidationResult reports whether a flow compiles.
type ValidationResult struct {
	FlowID string `json:"flow_id"`
	Valid  bool   `json:"valid"`
	Error  string `json:"error,omitempty"`
}

type startArgs struct {
	FlowID         string `json:"flow_id"`
	SubscriberID   string `json:"subscriber_id"`
	ChannelID      string `json:"channel_id"`
	ConversationID string `json:"conversation_id"`
	StartNodeID    string `json:"start_node_id"`
}

type resumeArgs struct {
	ExecutionID string `json:"execution_id"`
	Text        string `json:"text"`
}

type executionArgs struct {
	ExecutionID string `json:"execution_id"`
	WithRecords bool   `json:"with_records"`
}

type flowArgs struct {
	FlowID string `json:"flow_id"`
}

func (s *Server) registerTools() {
	startTool := mcp.NewTool("start_flow",
		mcp.WithDescription("Start a flow for a subscriber. Runs until the flow completes, fails or waits for a reply."),
		mcp.WithString("flow_id", mcp.Required(), mcp.Description("ID of the flow to run")),
		mcp.WithString("subscriber_id", mcp.Required(), mcp.Description("Recipient of the flow's messages")),
		mcp.WithString("channel_id", mcp.Description("Channel the subscriber is reached on (optional)")),
		mcp.WithString("conversation_id", mcp.Description("Conversation to attach the execution to (optional)")),
		mcp.WithString("start_node_id", mcp.Description("Node to start at instead of the flow's start node (optional)")),
		mcp.WithOutputSchema[ExecutionView](),
	)
	s.mcpServer.AddTool(startTool, mcp.NewStructuredToolHandler(s.handleStartFlow))

	resumeTool := mcp.NewTool("resume_flow",
		mcp.WithDescription("Deliver the subscriber's reply to an execution waiting for input."),
		mcp.WithString("execution_id", mcp.Required(), mcp.Description("ID of the waiting execution")),
		mcp.WithString("text", mcp.Required(), mcp.Description("The reply text")),
		mcp.WithOutputSchema[ExecutionView](),
	)
	s.mcpServer.AddTool(resumeTool, mcp.NewStructuredToolHandler(s.handleResumeFlow))

	getTool := mcp.NewTool("get_execution",
		mcp.WithDescription("Get the state of an execution and the messages it produced."),
		mcp.WithString("execution_id", mcp.Required(), mcp.Description("ID of the execution")),
		mcp.WithBoolean("with_records", mcp.Description("Include the per-node execution records")),
		mcp.WithOutputSchema[ExecutionView](),
	)
	s.mcpServer.AddTool(getTool, mcp.NewStructuredToolHandler(s.handleGetExecution))

	validateTool := mcp.NewTool("validate_flow",
		mcp.WithDescription("Compile a flow and report definition errors."),
		mcp.WithString("flow_id", mcp.Required(), mcp.Description("ID of the flow to validate")),
		mcp.WithOutputSchema[ValidationResult](),
	)
	s.mcpServer.AddTool(validateTool, mcp.NewStructuredToolHandler(s.handleValidateFlow))
}

func (s *Server) handleStartFlow(ctx context.Context, request mcp.CallToolRequest, args startArgs) (ExecutionView, error) {
	if args.FlowID == "" || args.SubscriberID == "" {
		return ExecutionView{}, fmt.Errorf("flow_id and subscriber_id are required")
	}
	exec, err := s.engine.StartFlow(ctx, tendril.StartRequest{
		FlowID:         args.FlowID,
		SubscriberID:   args.SubscriberID,
		ChannelID:      args.ChannelID,
		ConversationID: args.ConversationID,
		StartNodeID:    args.StartNodeID,
	})
	if err != nil {
		s.logger.Warn("mcp start_flow failed", "flow_id", args.FlowID, "err", err)
		return ExecutionView{}, err
	}
	return s.view(ctx, exec, false)
}

func (s *Server) handleResumeFlow(ctx context.Context, request mcp.CallToolRequest, args resumeArgs) (ExecutionView, error) {
	if args.ExecutionID == "" {
		return ExecutionView{}, fmt.Errorf("execution_id is required")
	}
	text, err := router.SanitizeText(args.Text, s.maxInput)
	if err != nil {
		return ExecutionView{}, err
	}
	exec, err := s.engine.ResumeFlow(ctx, args.ExecutionID, text)
	if err != nil {
		s.logger.Warn("mcp resume_flow failed", "execution_id", args.ExecutionID, "err", err)
		return ExecutionView{}, err
	}
	return s.view(ctx, exec, false)
}

func (s *Server) handleGetExecution(ctx context.Context, request mcp.CallToolRequest, args executionArgs) (ExecutionView, error) {
	if args.ExecutionID == "" {
		return ExecutionView{}, fmt.Errorf("execution_id is required")
	}
	exec, err := s.engine.GetExecution(ctx, args.ExecutionID)
	if err != nil {
		return ExecutionView{}, err
	}
	return s.view(ctx, exec, args.WithRecords)
}

func (s *Server) handleValidateFlow(ctx context.Context, request mcp.CallToolRequest, args flowArgs) (ValidationResult, error) {
	if args.FlowID == "" {
		return ValidationResult{}, fmt.Errorf("flow_id is required")
	}
	res := ValidationResult{FlowID: args.FlowID, Valid: true}
	if err := s.engine.ValidateFlow(ctx, args.FlowID); err != nil {
		res.Valid = false
		res.Error = err.Error()
	}
	return res, nil
}

func (s *Server) view(ctx context.Context, exec *domain.ExecutionInstance, withRecords bool) (ExecutionView, error) {
	v := ExecutionView{Execution: exec}
	var err error
	if v.Messages, err = s.engine.ListMessages(ctx, exec.ID); err != nil {
		return ExecutionView{}, fmt.Errorf("failed to list messages: %w", err)
	}
	if withRecords {
		if v.Records, err = s.engine.ListRecords(ctx, exec.ID); err != nil {
			return ExecutionView{}, fmt.Errorf("failed to list records: %w", err)
		}
	}
	return v, nil
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(FlowsURI, "Available flows",
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		ids, err := s.flowIDs(ctx)
		if err != nil {
			return nil, err
		}
		jsonBytes, err := json.Marshal(ids)
		if err != nil {
			return nil, err
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      FlowsURI,
				MIMEType: "application/json",
				Text:     string(jsonBytes),
			},
		}, nil
	})
}

func (s *Server) flowIDs(ctx context.Context) ([]string, error) {
	lister, ok := s.engine.Flows().(ports.FlowLister)
	if !ok {
		return nil, fmt.Errorf("flow repository cannot list flows")
	}
	ids, err := lister.ListFlows(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list flows: %w", err)
	}
	return ids, nil
}
