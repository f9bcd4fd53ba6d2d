package domain

import "time"

// ExecutionStatus is the lifecycle status of an execution instance.
type ExecutionStatus string

const (
	StatusRunning         ExecutionStatus = "running"
	StatusWaitingForInput ExecutionStatus = "waiting_for_input"
	StatusCompleted       ExecutionStatus = "completed"
	StatusFailed          ExecutionStatus = "failed"
)

// Terminal reports whether no transition can leave s.
func (s ExecutionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Continuation is the data needed to resume a paused execution.
// It is only set while the execution is waiting for input.
type Continuation struct {
	PausedNodeID string `json:"paused_node_id"`
	Variable     string `json:"variable"`
	NextNodeID   string `json:"next_node_id,omitempty"`
}

// ExecutionInstance is one run of a flow for one subscriber.
type ExecutionInstance struct {
	ID             string          `json:"id"`
	FlowID         string          `json:"flow_id"`
	SubscriberID   string          `json:"subscriber_id"`
	ChannelID      string          `json:"channel_id,omitempty"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Status         ExecutionStatus `json:"status"`
	Continuation   *Continuation   `json:"continuation,omitempty"`
	Error          string          `json:"error,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
}

// RecordStatus is the outcome of one node attempt.
type RecordStatus string

const (
	RecordSuccess RecordStatus = "success"
	RecordError   RecordStatus = "error"
)

// NodeExecutionRecord is an append-only log entry for one node attempt.
type NodeExecutionRecord struct {
	ID          string        `json:"id"`
	ExecutionID string        `json:"execution_id"`
	NodeID      string        `json:"node_id"`
	NodeType    NodeType      `json:"node_type"`
	Status      RecordStatus  `json:"status"`
	Duration    time.Duration `json:"duration"`
	Error       string        `json:"error,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// CollectedVariable is a named value captured from the user.
type CollectedVariable struct {
	ExecutionID  string    `json:"execution_id"`
	Name         string    `json:"name"`
	Value        string    `json:"value"`
	SourceNodeID string    `json:"source_node_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// MessageDirection tells whether a logged message was sent or received.
type MessageDirection string

const (
	DirectionOutbound MessageDirection = "outbound"
	DirectionInbound  MessageDirection = "inbound"
)

// MessageLogEntry records one message exchanged during an execution.
type MessageLogEntry struct {
	ExecutionID       string           `json:"execution_id"`
	SubscriberID      string           `json:"subscriber_id"`
	NodeID            string           `json:"node_id,omitempty"`
	Direction         MessageDirection `json:"direction"`
	Kind              MessageKind      `json:"kind"`
	Text              string           `json:"text,omitempty"`
	ProviderMessageID string           `json:"provider_message_id,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
}
