package ports

import (
	"context"

	"github.com/aretw0/tendril/pkg/domain"
)

// ExecutionStore persists ExecutionInstances.
// All continuation state lives here, never in process memory.
type ExecutionStore interface {
	CreateExecution(ctx context.Context, exec *domain.ExecutionInstance) error

	// GetExecution returns domain.ErrExecutionNotFound for unknown ids.
	GetExecution(ctx context.Context, id string) (*domain.ExecutionInstance, error)

	// UpdateExecution overwrites the stored instance.
	UpdateExecution(ctx context.Context, exec *domain.ExecutionInstance) error

	// ClaimWaiting atomically moves an execution from waiting_for_input to
	// running, clears its continuation and returns the instance as it was
	// before the claim. Exactly one of several concurrent callers succeeds;
	// the others receive domain.ErrNotWaiting.
	ClaimWaiting(ctx context.Context, id string) (*domain.ExecutionInstance, error)

	// FindWaiting returns the most recent execution of subscriber on channel
	// that is waiting for input, or domain.ErrExecutionNotFound.
	FindWaiting(ctx context.Context, subscriberID, channelID string) (*domain.ExecutionInstance, error)
}

// ExecutionLog is the append-only log of node attempts.
type ExecutionLog interface {
	AppendRecord(ctx context.Context, rec *domain.NodeExecutionRecord) error
	// ListRecords returns records in append order.
	ListRecords(ctx context.Context, executionID string) ([]domain.NodeExecutionRecord, error)
}

// VariableStore keeps the variables collected during an execution.
// Setting an existing name overwrites it, so at most one row exists per
// (execution, name).
type VariableStore interface {
	SetVariable(ctx context.Context, v *domain.CollectedVariable) error
	// GetVariable reports ok=false when the variable was never collected.
	GetVariable(ctx context.Context, executionID, name string) (value string, ok bool, err error)
	ListVariables(ctx context.Context, executionID string) ([]domain.CollectedVariable, error)
}

// MessageLog records messages exchanged during an execution. It is optional:
// the engine writes to it only when the configured Store implements it.
type MessageLog interface {
	AppendMessage(ctx context.Context, entry *domain.MessageLogEntry) error
	ListMessages(ctx context.Context, executionID string) ([]domain.MessageLogEntry, error)
}

// Store groups the persistence ports every backend provides.
type Store interface {
	ExecutionStore
	ExecutionLog
	VariableStore
}

// ExecutionLister is implemented by stores that can enumerate executions.
type ExecutionLister interface {
	ListExecutions(ctx context.Context) ([]string, error)
}
