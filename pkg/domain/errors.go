package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrFlowNotFound is returned when a flow ID cannot be resolved.
	ErrFlowNotFound = errors.New("flow not found")

	// ErrExecutionNotFound is returned when an execution ID cannot be found in the store.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrNotWaiting is returned when resuming an execution that is not waiting for input,
	// including the loser of two concurrent resumes.
	ErrNotWaiting = errors.New("execution is not waiting for input")

	// ErrNoAIProvider is returned by ai nodes when the engine has no provider configured.
	ErrNoAIProvider = errors.New("no ai provider configured")

	// ErrNodeNotFound is returned when a node ID is not part of the compiled graph.
	ErrNodeNotFound = errors.New("node not found")
)

// DefinitionError reports a structural problem with a flow definition.
// No execution is created for a definition that fails to compile; a paused
// execution whose next node was since removed from the flow fails with one.
type DefinitionError struct {
	FlowID string
	NodeID string
	Reason string
	// Err is an optional sentinel such as ErrNodeNotFound.
	Err error
}

func (e *DefinitionError) Unwrap() error { return e.Err }

func (e *DefinitionError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("invalid flow %q: node %q: %s", e.FlowID, e.NodeID, e.Reason)
	}
	return fmt.Sprintf("invalid flow %q: %s", e.FlowID, e.Reason)
}

// HandlerError wraps a failure raised while executing a node.
type HandlerError struct {
	NodeID   string
	NodeType NodeType
	Err      error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("node %s (%s) failed: %v", e.NodeID, e.NodeType, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}
