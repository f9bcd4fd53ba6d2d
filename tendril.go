package tendril

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/aretw0/tendril/internal/runtime"
	"github.com/aretw0/tendril/pkg/adapters/memory"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/ports"
)

// StartRequest triggers a new execution. See Engine.StartFlow.
type StartRequest = runtime.StartRequest

// Sleeper blocks for a duration or until the context is done. It backs sequence nodes.
type Sleeper = runtime.Sleeper

// Engine is the high-level entry point for the Tendril library.
// It wraps the internal runtime and provides a simplified API for consumers.
type Engine struct {
	runtime *runtime.Engine
	flows   ports.FlowRepository
	store   ports.Store
	gateway ports.MessagingGateway
	tokens  ports.TokenSource
	logger  *slog.Logger

	runtimeOpts []runtime.EngineOption
}

// Option defines a functional option for configuring the Engine.
type Option func(*Engine)

// WithFlows sets the repository flows are loaded from. Required.
func WithFlows(repo ports.FlowRepository) Option {
	return func(e *Engine) {
		e.flows = repo
	}
}

// WithStore sets the persistence backend. Defaults to an in-memory store.
func WithStore(store ports.Store) Option {
	return func(e *Engine) {
		e.store = store
	}
}

// WithGateway sets the gateway outbound messages are delivered through. Required.
func WithGateway(g ports.MessagingGateway) Option {
	return func(e *Engine) {
		e.gateway = g
	}
}

// WithTokenSource sets how ResumeFlow obtains the channel access token.
func WithTokenSource(ts ports.TokenSource) Option {
	return func(e *Engine) {
		e.tokens = ts
	}
}

// WithAIProvider sets the provider used by ai nodes.
func WithAIProvider(p ports.AIProvider) Option {
	return func(e *Engine) {
		e.runtimeOpts = append(e.runtimeOpts, runtime.WithAIProvider(p))
	}
}

// WithAIConfig sets the model configuration shared by every ai node.
func WithAIConfig(cfg domain.AIConfig) Option {
	return func(e *Engine) {
		e.runtimeOpts = append(e.runtimeOpts, runtime.WithAIConfig(cfg))
	}
}

// WithProductCatalog sets the catalog product nodes resolve ids against.
func WithProductCatalog(c ports.ProductCatalog) Option {
	return func(e *Engine) {
		e.runtimeOpts = append(e.runtimeOpts, runtime.WithProductCatalog(c))
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Engine) {
		e.runtimeOpts = append(e.runtimeOpts, runtime.WithLifecycleHooks(hooks))
	}
}

// WithSleeper replaces the delay used by sequence nodes.
func WithSleeper(s Sleeper) Option {
	return func(e *Engine) {
		e.runtimeOpts = append(e.runtimeOpts, runtime.WithSleeper(s))
	}
}

// WithLogger sets a custom structured logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// New initializes a new Tendril Engine.
func New(opts ...Option) (*Engine, error) {
	eng := &Engine{}
	for _, opt := range opts {
		opt(eng)
	}

	if eng.flows == nil {
		return nil, fmt.Errorf("a flow repository is required (use WithFlows)")
	}
	if eng.gateway == nil {
		return nil, fmt.Errorf("a messaging gateway is required (use WithGateway)")
	}
	if eng.store == nil {
		eng.store = memory.NewStore()
	}
	if eng.logger == nil {
		eng.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	runtimeOpts := append([]runtime.EngineOption{runtime.WithLogger(eng.logger)}, eng.runtimeOpts...)
	rt, err := runtime.NewEngine(eng.flows, eng.store, eng.gateway, runtimeOpts...)
	if err != nil {
		return nil, err
	}
	eng.runtime = rt
	return eng, nil
}

// StartFlow runs a flow for a subscriber from its start node, or from
// req.StartNodeID when set, until it completes, fails or waits for input.
func (e *Engine) StartFlow(ctx context.Context, req StartRequest) (*domain.ExecutionInstance, error) {
	return e.runtime.Start(ctx, req)
}

// ResumeFlow delivers the user's reply to a paused execution. The channel
// access token is obtained from the configured TokenSource.
func (e *Engine) ResumeFlow(ctx context.Context, executionID, text string) (*domain.ExecutionInstance, error) {
	var token string
	if e.tokens != nil {
		exec, err := e.store.GetExecution(ctx, executionID)
		if err != nil {
			return nil, err
		}
		token, err = e.tokens.Token(ctx, exec.ChannelID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve token for channel %s: %w", exec.ChannelID, err)
		}
	}
	return e.runtime.Resume(ctx, runtime.ResumeRequest{ExecutionID: executionID, Response: text, AccessToken: token})
}

// GetExecution returns the current state of an execution.
func (e *Engine) GetExecution(ctx context.Context, id string) (*domain.ExecutionInstance, error) {
	return e.runtime.GetExecution(ctx, id)
}

// ListRecords returns the node execution log of an execution, in order.
func (e *Engine) ListRecords(ctx context.Context, id string) ([]domain.NodeExecutionRecord, error) {
	return e.runtime.ListRecords(ctx, id)
}

// ListVariables returns the variables collected by an execution.
func (e *Engine) ListVariables(ctx context.Context, id string) ([]domain.CollectedVariable, error) {
	return e.runtime.ListVariables(ctx, id)
}

// ListMessages returns the message log of an execution. It returns an
// empty list when the store keeps no message log.
func (e *Engine) ListMessages(ctx context.Context, id string) ([]domain.MessageLogEntry, error) {
	if ml, ok := e.store.(ports.MessageLog); ok {
		return ml.ListMessages(ctx, id)
	}
	return nil, nil
}

// ListExecutions returns the ids of stored executions. It returns an empty
// list when the store cannot enumerate executions.
func (e *Engine) ListExecutions(ctx context.Context) ([]string, error) {
	if l, ok := e.store.(ports.ExecutionLister); ok {
		return l.ListExecutions(ctx)
	}
	return nil, nil
}

// FindWaiting returns the execution of subscriber on channel that waits for input.
func (e *Engine) FindWaiting(ctx context.Context, subscriberID, channelID string) (*domain.ExecutionInstance, error) {
	return e.runtime.FindWaiting(ctx, subscriberID, channelID)
}

// ValidateFlow loads and compiles a flow without running it.
func (e *Engine) ValidateFlow(ctx context.Context, flowID string) error {
	return e.runtime.ValidateFlow(ctx, flowID)
}

// Flows returns the repository the engine loads flows from.
func (e *Engine) Flows() ports.FlowRepository {
	return e.flows
}
