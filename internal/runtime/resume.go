package runtime

import (
	"context"
	"fmt"

	"github.com/aretw0/tendril/pkg/domain"
)

// ResumeRequest carries a user's reply to a paused execution.
type ResumeRequest struct {
	ExecutionID string
	Response    string
	AccessToken string
}

// Resume binds the user's response to the paused input node's variable and
// continues the run from the node after it.
//
// Only an execution in waiting_for_input can be resumed. The transition to
// running is claimed atomically in the store, so when two replies race
// exactly one continues and the other gets domain.ErrNotWaiting.
func (e *Engine) Resume(ctx context.Context, req ResumeRequest) (*domain.ExecutionInstance, error) {
	claimed, err := e.store.ClaimWaiting(ctx, req.ExecutionID)
	if err != nil {
		return nil, err
	}
	cont := claimed.Continuation
	claimed.Continuation = nil
	claimed.Status = domain.StatusRunning

	r := &run{
		exec: claimed,
		channel: Channel{
			ID:          claimed.ChannelID,
			AccessToken: req.AccessToken,
			RecipientID: claimed.SubscriberID,
		},
	}

	if cont == nil {
		return claimed, e.fail(ctx, r, fmt.Errorf("execution %s has no continuation", claimed.ID))
	}

	g, err := e.compile(ctx, claimed.FlowID)
	if err != nil {
		return claimed, e.fail(ctx, r, err)
	}
	r.graph = g

	e.logMessage(ctx, r, &domain.MessageLogEntry{
		NodeID:    cont.PausedNodeID,
		Direction: domain.DirectionInbound,
		Kind:      domain.KindText,
		Text:      req.Response,
	})

	if err := e.store.SetVariable(ctx, &domain.CollectedVariable{
		ExecutionID:  claimed.ID,
		Name:         cont.Variable,
		Value:        req.Response,
		SourceNodeID: cont.PausedNodeID,
		CreatedAt:    e.now(),
	}); err != nil {
		return claimed, e.fail(ctx, r, fmt.Errorf("failed to store variable %s: %w", cont.Variable, err))
	}

	e.logger.DebugContext(ctx, "execution resumed",
		"execution_id", claimed.ID, "variable", cont.Variable, "next_node_id", cont.NextNodeID)

	if cont.NextNodeID == "" {
		return claimed, e.complete(ctx, r)
	}
	return claimed, e.execute(ctx, r, cont.NextNodeID)
}

// GetExecution returns the stored execution.
func (e *Engine) GetExecution(ctx context.Context, id string) (*domain.ExecutionInstance, error) {
	return e.store.GetExecution(ctx, id)
}

// ListRecords returns the node execution log of an execution.
func (e *Engine) ListRecords(ctx context.Context, id string) ([]domain.NodeExecutionRecord, error) {
	return e.store.ListRecords(ctx, id)
}

// ListVariables returns the variables collected by an execution.
func (e *Engine) ListVariables(ctx context.Context, id string) ([]domain.CollectedVariable, error) {
	return e.store.ListVariables(ctx, id)
}

// FindWaiting returns the execution of subscriber on channel that waits for input.
func (e *Engine) FindWaiting(ctx context.Context, subscriberID, channelID string) (*domain.ExecutionInstance, error) {
	return e.store.FindWaiting(ctx, subscriberID, channelID)
}

// ValidateFlow loads and compiles a flow without running it.
func (e *Engine) ValidateFlow(ctx context.Context, flowID string) error {
	_, err := e.compile(ctx, flowID)
	return err
}
