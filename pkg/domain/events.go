package domain

import (
	"context"
	"time"
)

// EventType defines the category of the event.
type EventType string

const (
	EventNodeEnter      EventType = "node_enter"
	EventNodeLeave      EventType = "node_leave"
	EventMessageSent    EventType = "message_sent"
	EventExecutionEnded EventType = "execution_ended"
)

// EventBase contains common fields for all events.
type EventBase struct {
	Timestamp   time.Time `json:"timestamp"`
	Type        EventType `json:"type"`
	ExecutionID string    `json:"execution_id"`
	FlowID      string    `json:"flow_id"`
}

// NodeEvent represents entry or exit from a node.
type NodeEvent struct {
	EventBase
	NodeID   string        `json:"node_id"`
	NodeType NodeType      `json:"node_type"`
	Duration time.Duration `json:"duration,omitempty"`
	Err      error         `json:"-"`
}

// MessageEvent is emitted after the gateway accepted (or rejected) a message.
type MessageEvent struct {
	EventBase
	NodeID string      `json:"node_id"`
	Kind   MessageKind `json:"kind"`
	Err    error       `json:"-"`
}

// ExecutionEvent is emitted when an execution pauses or reaches a terminal status.
type ExecutionEvent struct {
	EventBase
	Status ExecutionStatus `json:"status"`
}

// LifecycleHooks defines callbacks for engine observability.
// Every field is optional.
type LifecycleHooks struct {
	OnNodeEnter      func(context.Context, *NodeEvent)
	OnNodeLeave      func(context.Context, *NodeEvent)
	OnMessageSent    func(context.Context, *MessageEvent)
	OnExecutionEnded func(context.Context, *ExecutionEvent)
}

// CombineHooks returns hooks that call each of hooks in order.
func CombineHooks(hooks ...LifecycleHooks) LifecycleHooks {
	return LifecycleHooks{
		OnNodeEnter: func(ctx context.Context, ev *NodeEvent) {
			for _, h := range hooks {
				if h.OnNodeEnter != nil {
					h.OnNodeEnter(ctx, ev)
				}
			}
		},
		OnNodeLeave: func(ctx context.Context, ev *NodeEvent) {
			for _, h := range hooks {
				if h.OnNodeLeave != nil {
					h.OnNodeLeave(ctx, ev)
				}
			}
		},
		OnMessageSent: func(ctx context.Context, ev *MessageEvent) {
			for _, h := range hooks {
				if h.OnMessageSent != nil {
					h.OnMessageSent(ctx, ev)
				}
			}
		},
		OnExecutionEnded: func(ctx context.Context, ev *ExecutionEvent) {
			for _, h := range hooks {
				if h.OnExecutionEnded != nil {
					h.OnExecutionEnded(ctx, ev)
				}
			}
		},
	}
}
