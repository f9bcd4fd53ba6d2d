package runtime

import (
	"context"
	"errors"
	"time"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/graph"
)

// Outcome tells the interpreter where to go after a node.
type Outcome struct {
	// Branch selects the outgoing handle. Empty means the default edge.
	Branch string
	// Suspend pauses the execution until the user replies. Variable names
	// the variable the reply is bound to.
	Suspend  bool
	Variable string
	// Halt ends the run as completed without following any edge.
	Halt bool
}

// Handler executes one node. Returning an error fails the whole execution.
type Handler func(ctx context.Context, nc *NodeContext) (Outcome, error)

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// ContextSleep is the default Sleeper.
func ContextSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var errAlreadySent = errors.New("node already sent a message")

// NodeContext is what a handler sees of the running execution.
type NodeContext struct {
	Node      *domain.Node
	Execution *domain.ExecutionInstance
	Graph     *graph.Graph
	Channel   Channel

	engine *Engine
	sent   bool
}

// Variables returns the latest value of every collected variable.
func (nc *NodeContext) Variables(ctx context.Context) (map[string]string, error) {
	list, err := nc.engine.store.ListVariables(ctx, nc.Execution.ID)
	if err != nil {
		return nil, err
	}
	vars := make(map[string]string, len(list))
	for _, v := range list {
		vars[v.Name] = v.Value
	}
	return vars, nil
}

// Interpolate replaces {{ name }} placeholders in text with variable values.
func (nc *NodeContext) Interpolate(ctx context.Context, text string) (string, error) {
	if !hasPlaceholder(text) {
		return text, nil
	}
	vars, err := nc.Variables(ctx)
	if err != nil {
		return "", err
	}
	return nc.engine.interpolator(text, vars), nil
}

// Send delivers msg to the run's recipient. A node may send at most once.
func (nc *NodeContext) Send(ctx context.Context, msg domain.OutboundMessage) error {
	if nc.sent {
		return errAlreadySent
	}
	nc.sent = true

	e := nc.engine
	id, err := e.gateway.Send(ctx, nc.Channel.AccessToken, nc.Channel.RecipientID, msg)
	if e.hooks.OnMessageSent != nil {
		e.hooks.OnMessageSent(ctx, &domain.MessageEvent{
			EventBase: domain.EventBase{Timestamp: e.now(), Type: domain.EventMessageSent, ExecutionID: nc.Execution.ID, FlowID: nc.Execution.FlowID},
			NodeID:    nc.Node.ID,
			Kind:      msg.Kind,
			Err:       err,
		})
	}
	if err != nil {
		return err
	}

	e.logMessage(ctx, &run{exec: nc.Execution}, &domain.MessageLogEntry{
		NodeID:            nc.Node.ID,
		Direction:         domain.DirectionOutbound,
		Kind:              msg.Kind,
		Text:              msg.Summary(),
		ProviderMessageID: id,
	})
	return nil
}

// Sent reports whether the node already sent its message.
func (nc *NodeContext) Sent() bool { return nc.sent }

func (e *Engine) logMessage(ctx context.Context, r *run, entry *domain.MessageLogEntry) {
	if e.messages == nil {
		return
	}
	entry.ExecutionID = r.exec.ID
	entry.SubscriberID = r.exec.SubscriberID
	entry.CreatedAt = e.now()
	if err := e.messages.AppendMessage(ctx, entry); err != nil {
		e.logger.WarnContext(ctx, "failed to append message log", "execution_id", r.exec.ID, "error", err)
	}
}

func defaultHandlers() map[domain.NodeType]Handler {
	return map[domain.NodeType]Handler{
		domain.NodeTypeStart:        handlePassthrough,
		domain.NodeTypeText:         handleText,
		domain.NodeTypeImage:        handleMedia,
		domain.NodeTypeVideo:        handleMedia,
		domain.NodeTypeAudio:        handleMedia,
		domain.NodeTypeFile:         handleMedia,
		domain.NodeTypeButton:       handleButtons,
		domain.NodeTypeQuickReply:   handleQuickReplies,
		domain.NodeTypeCard:         handleRich,
		domain.NodeTypeCarousel:     handleRich,
		domain.NodeTypeCarouselItem: handleRich,
		domain.NodeTypeProduct:      handleProduct,
		domain.NodeTypeAI:           handleAI,
		domain.NodeTypeCondition:    handleCondition,
		domain.NodeTypeInput:        handleInput,
		domain.NodeTypeSequence:     handleSequence,
	}
}

// handlePassthrough is registered for start nodes. The interpreter skips
// start nodes itself, so it only runs when a caller overrides that path.
func handlePassthrough(context.Context, *NodeContext) (Outcome, error) {
	return Outcome{}, nil
}
