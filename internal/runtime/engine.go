package runtime

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/ports"
	"github.com/google/uuid"
)

// Engine interprets compiled flows for one subscriber at a time.
// It keeps no per-execution state in memory: everything needed to resume a
// paused run lives in the Store.
type Engine struct {
	flows    ports.FlowRepository
	store    ports.Store
	messages ports.MessageLog
	gateway  ports.MessagingGateway
	ai       ports.AIProvider
	aiConfig domain.AIConfig
	catalog  ports.ProductCatalog

	handlers     map[domain.NodeType]Handler
	interpolator Interpolator
	evaluator    ConditionEvaluator
	hooks        domain.LifecycleHooks
	logger       *slog.Logger
	sleep        Sleeper
	now          func() time.Time
	newID        func() string
}

// EngineOption defines a functional option for configuring the Engine.
type EngineOption func(*Engine)

// WithLogger sets a custom structured logger for the engine.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) EngineOption {
	return func(e *Engine) {
		e.hooks = hooks
	}
}

// WithAIProvider sets the provider used by ai nodes.
func WithAIProvider(p ports.AIProvider) EngineOption {
	return func(e *Engine) {
		e.ai = p
	}
}

// WithAIConfig sets the engine-level model configuration for ai nodes.
func WithAIConfig(cfg domain.AIConfig) EngineOption {
	return func(e *Engine) {
		e.aiConfig = cfg
	}
}

// WithProductCatalog sets the catalog used by product nodes.
func WithProductCatalog(c ports.ProductCatalog) EngineOption {
	return func(e *Engine) {
		e.catalog = c
	}
}

// WithSleeper replaces the delay implementation used by sequence nodes.
func WithSleeper(s Sleeper) EngineOption {
	return func(e *Engine) {
		if s != nil {
			e.sleep = s
		}
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithInterpolator replaces the {{ var }} interpolator.
func WithInterpolator(i Interpolator) EngineOption {
	return func(e *Engine) {
		if i != nil {
			e.interpolator = i
		}
	}
}

// WithConditionEvaluator replaces the rule evaluator used by condition nodes.
func WithConditionEvaluator(c ConditionEvaluator) EngineOption {
	return func(e *Engine) {
		if c != nil {
			e.evaluator = c
		}
	}
}

// WithHandler overrides the handler for one node type.
func WithHandler(t domain.NodeType, h Handler) EngineOption {
	return func(e *Engine) {
		e.handlers[t] = h
	}
}

// NewEngine creates an engine. It fails when a dependency is missing or when
// some node type has no handler.
func NewEngine(flows ports.FlowRepository, store ports.Store, gateway ports.MessagingGateway, opts ...EngineOption) (*Engine, error) {
	if flows == nil {
		return nil, fmt.Errorf("flow repository is required")
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if gateway == nil {
		return nil, fmt.Errorf("messaging gateway is required")
	}

	e := &Engine{
		flows:        flows,
		store:        store,
		gateway:      gateway,
		handlers:     defaultHandlers(),
		interpolator: DefaultInterpolator,
		evaluator:    DefaultConditionEvaluator,
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		sleep:        ContextSleep,
		now:          func() time.Time { return time.Now().UTC() },
		newID:        uuid.NewString,
	}
	if ml, ok := store.(ports.MessageLog); ok {
		e.messages = ml
	}

	for _, opt := range opts {
		opt(e)
	}

	for _, t := range domain.AllNodeTypes() {
		if e.handlers[t] == nil {
			return nil, fmt.Errorf("no handler registered for node type %q", t)
		}
	}

	return e, nil
}
