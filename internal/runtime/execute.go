package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/graph"
)

// Channel identifies where outbound messages of a run are delivered.
type Channel struct {
	ID          string
	AccessToken string
	RecipientID string
}

// StartRequest triggers a new execution.
type StartRequest struct {
	FlowID         string
	SubscriberID   string
	ChannelID      string
	AccessToken    string
	ConversationID string
	// StartNodeID overrides the flow's start node. The message router uses it
	// to continue a flow at the node a button or quick reply points to.
	StartNodeID string
}

type run struct {
	exec    *domain.ExecutionInstance
	graph   *graph.Graph
	channel Channel
}

// Start creates an execution for req and runs it until it completes, fails
// or waits for input. The returned instance reflects the final status.
// Definition problems are reported before any execution is persisted.
func (e *Engine) Start(ctx context.Context, req StartRequest) (*domain.ExecutionInstance, error) {
	g, err := e.compile(ctx, req.FlowID)
	if err != nil {
		return nil, err
	}

	entry := g.Start()
	if req.StartNodeID != "" {
		if _, ok := g.Node(req.StartNodeID); !ok {
			return nil, &domain.DefinitionError{FlowID: req.FlowID, NodeID: req.StartNodeID, Reason: "unknown start node"}
		}
		entry = req.StartNodeID
	}

	now := e.now()
	exec := &domain.ExecutionInstance{
		ID:             e.newID(),
		FlowID:         req.FlowID,
		SubscriberID:   req.SubscriberID,
		ChannelID:      req.ChannelID,
		ConversationID: req.ConversationID,
		Status:         domain.StatusRunning,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.store.CreateExecution(ctx, exec); err != nil {
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}

	e.logger.InfoContext(ctx, "execution started",
		"execution_id", exec.ID, "flow_id", exec.FlowID, "subscriber_id", exec.SubscriberID, "entry", entry)

	r := &run{
		exec:  exec,
		graph: g,
		channel: Channel{
			ID:          req.ChannelID,
			AccessToken: req.AccessToken,
			RecipientID: req.SubscriberID,
		},
	}
	return exec, e.execute(ctx, r, entry)
}

func (e *Engine) compile(ctx context.Context, flowID string) (*graph.Graph, error) {
	def, err := e.flows.GetFlow(ctx, flowID)
	if err != nil {
		return nil, fmt.Errorf("failed to load flow %s: %w", flowID, err)
	}
	g, err := graph.Compile(def)
	if err != nil {
		return nil, err
	}
	return g, nil
}

// execute walks the graph from nodeID. It loops instead of recursing so
// arbitrarily long chains run in constant stack.
func (e *Engine) execute(ctx context.Context, r *run, nodeID string) error {
	current := nodeID
	for current != "" {
		node, ok := r.graph.Node(current)
		if !ok {
			return e.fail(ctx, r, &domain.DefinitionError{
				FlowID: r.exec.FlowID,
				NodeID: current,
				Reason: "unknown node",
				Err:    domain.ErrNodeNotFound,
			})
		}

		if node.Type == domain.NodeTypeStart {
			current, _ = r.graph.Next(node.ID, domain.HandleDefault)
			continue
		}

		outcome, err := e.step(ctx, r, node)
		if err != nil {
			return e.fail(ctx, r, err)
		}

		if outcome.Suspend {
			next, _ := r.graph.Next(node.ID, domain.HandleDefault)
			return e.suspend(ctx, r, &domain.Continuation{
				PausedNodeID: node.ID,
				Variable:     outcome.Variable,
				NextNodeID:   next,
			})
		}
		if outcome.Halt {
			break
		}

		next, ok := r.graph.Next(node.ID, outcome.Branch)
		if !ok {
			break
		}
		current = next
	}
	return e.complete(ctx, r)
}

// step runs one handler and appends its execution record.
func (e *Engine) step(ctx context.Context, r *run, node *domain.Node) (Outcome, error) {
	e.logger.DebugContext(ctx, "entering node", "execution_id", r.exec.ID, "node_id", node.ID, "node_type", node.Type)
	e.emitNode(ctx, domain.EventNodeEnter, r, node, 0, nil)

	nc := &NodeContext{
		Node:      node,
		Execution: r.exec,
		Graph:     r.graph,
		Channel:   r.channel,
		engine:    e,
	}

	started := e.now()
	outcome, handlerErr := e.handlers[node.Type](ctx, nc)
	elapsed := e.now().Sub(started)

	rec := &domain.NodeExecutionRecord{
		ID:          e.newID(),
		ExecutionID: r.exec.ID,
		NodeID:      node.ID,
		NodeType:    node.Type,
		Status:      domain.RecordSuccess,
		Duration:    elapsed,
		CreatedAt:   e.now(),
	}
	if handlerErr != nil {
		rec.Status = domain.RecordError
		rec.Error = handlerErr.Error()
	}
	e.emitNode(ctx, domain.EventNodeLeave, r, node, elapsed, handlerErr)

	if err := e.store.AppendRecord(ctx, rec); err != nil {
		if handlerErr == nil {
			handlerErr = fmt.Errorf("failed to append execution record: %w", err)
		} else {
			e.logger.ErrorContext(ctx, "failed to append execution record", "execution_id", r.exec.ID, "node_id", node.ID, "error", err)
		}
	}

	if handlerErr != nil {
		return Outcome{}, &domain.HandlerError{NodeID: node.ID, NodeType: node.Type, Err: handlerErr}
	}
	return outcome, nil
}

func (e *Engine) suspend(ctx context.Context, r *run, cont *domain.Continuation) error {
	r.exec.Status = domain.StatusWaitingForInput
	r.exec.Continuation = cont
	r.exec.UpdatedAt = e.now()
	if err := e.store.UpdateExecution(ctx, r.exec); err != nil {
		return fmt.Errorf("failed to persist continuation: %w", err)
	}
	e.logger.DebugContext(ctx, "execution waiting for input",
		"execution_id", r.exec.ID, "node_id", cont.PausedNodeID, "variable", cont.Variable)
	e.emitExecution(ctx, r)
	return nil
}

func (e *Engine) complete(ctx context.Context, r *run) error {
	now := e.now()
	r.exec.Status = domain.StatusCompleted
	r.exec.Continuation = nil
	r.exec.UpdatedAt = now
	r.exec.CompletedAt = &now
	if err := e.store.UpdateExecution(ctx, r.exec); err != nil {
		return fmt.Errorf("failed to complete execution: %w", err)
	}
	e.logger.InfoContext(ctx, "execution completed", "execution_id", r.exec.ID, "flow_id", r.exec.FlowID)
	e.emitExecution(ctx, r)
	return nil
}

// fail marks the execution failed. There is no retry: messages already sent
// by earlier nodes cannot be taken back.
func (e *Engine) fail(ctx context.Context, r *run, cause error) error {
	now := e.now()
	r.exec.Status = domain.StatusFailed
	r.exec.Error = cause.Error()
	r.exec.Continuation = nil
	r.exec.UpdatedAt = now
	r.exec.CompletedAt = &now

	attrs := []any{"execution_id", r.exec.ID, "flow_id", r.exec.FlowID, "error", cause}
	var he *domain.HandlerError
	if errors.As(cause, &he) {
		attrs = append(attrs, "node_id", he.NodeID, "node_type", he.NodeType)
	}
	e.logger.ErrorContext(ctx, "execution failed", attrs...)

	if err := e.store.UpdateExecution(ctx, r.exec); err != nil {
		e.logger.ErrorContext(ctx, "failed to persist failed status", "execution_id", r.exec.ID, "error", err)
	}
	e.emitExecution(ctx, r)
	return cause
}

func (e *Engine) emitNode(ctx context.Context, t domain.EventType, r *run, node *domain.Node, d time.Duration, err error) {
	hook := e.hooks.OnNodeEnter
	if t == domain.EventNodeLeave {
		hook = e.hooks.OnNodeLeave
	}
	if hook == nil {
		return
	}
	hook(ctx, &domain.NodeEvent{
		EventBase: domain.EventBase{Timestamp: e.now(), Type: t, ExecutionID: r.exec.ID, FlowID: r.exec.FlowID},
		NodeID:    node.ID,
		NodeType:  node.Type,
		Duration:  d,
		Err:       err,
	})
}

func (e *Engine) emitExecution(ctx context.Context, r *run) {
	if e.hooks.OnExecutionEnded == nil {
		return
	}
	e.hooks.OnExecutionEnded(ctx, &domain.ExecutionEvent{
		EventBase: domain.EventBase{Timestamp: e.now(), Type: domain.EventExecutionEnded, ExecutionID: r.exec.ID, FlowID: r.exec.FlowID},
		Status:    r.exec.Status,
	})
}
