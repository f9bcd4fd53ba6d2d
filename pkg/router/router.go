// Package router turns inbound channel events into engine invocations.
//
// For each event, in order:
//
//  1. a choice payload ("tendril:<flow>:<node>") starts a new execution of
//     the flow at the encoded node;
//  2. otherwise the subscriber's waiting execution on the channel, if any,
//     is resumed with the event text;
//  3. otherwise the channel's default flow, if configured, is started;
//  4. otherwise the event is ignored.
//
// Events of one subscriber on one channel are handled one at a time.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aretw0/tendril"
	"github.com/aretw0/tendril/internal/logging"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/session"
)

// ErrUnknownChannel is returned for events on a channel that is not configured.
var ErrUnknownChannel = errors.New("unknown channel")

// ChannelConfig describes one connected channel (a page or a bot).
type ChannelConfig struct {
	ID            string `mapstructure:"id"`
	AccessToken   string `mapstructure:"access_token"`
	DefaultFlowID string `mapstructure:"default_flow"`
}

// Channels indexes channel configuration by id. It implements
// ports.TokenSource so the engine can resume with the same tokens.
type Channels map[string]ChannelConfig

// NewChannels indexes cfgs by ID.
func NewChannels(cfgs ...ChannelConfig) Channels {
	c := make(Channels, len(cfgs))
	for _, cfg := range cfgs {
		c[cfg.ID] = cfg
	}
	return c
}

func (c Channels) Token(ctx context.Context, channelID string) (string, error) {
	cfg, ok := c[channelID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownChannel, channelID)
	}
	return cfg.AccessToken, nil
}

// Engine is the part of tendril.Engine the dispatcher drives.
type Engine interface {
	StartFlow(ctx context.Context, req tendril.StartRequest) (*domain.ExecutionInstance, error)
	ResumeFlow(ctx context.Context, executionID, text string) (*domain.ExecutionInstance, error)
	FindWaiting(ctx context.Context, subscriberID, channelID string) (*domain.ExecutionInstance, error)
}

// Action tells what the dispatcher did with an event.
type Action string

const (
	ActionChoice  Action = "choice"
	ActionResume  Action = "resume"
	ActionDefault Action = "default_flow"
	ActionIgnore  Action = "ignore"
)

// Result is the outcome of Dispatch. Execution is nil when the event was ignored.
type Result struct {
	Action    Action                    `json:"action"`
	Execution *domain.ExecutionInstance `json:"execution,omitempty"`
}

// Dispatcher routes inbound events.
type Dispatcher struct {
	engine   Engine
	channels Channels
	sessions *session.Manager
	logger   *slog.Logger
	maxInput int
}

type Option func(*Dispatcher)

// WithSessionManager sets the manager that serialises events per subscriber.
func WithSessionManager(m *session.Manager) Option {
	return func(d *Dispatcher) { d.sessions = m }
}

// WithMaxInputSize bounds the text accepted from subscribers.
func WithMaxInputSize(n int) Option {
	return func(d *Dispatcher) { d.maxInput = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

func NewDispatcher(engine Engine, channels Channels, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		engine:   engine,
		channels: channels,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.sessions == nil {
		d.sessions = session.NewManager(session.WithLogger(d.logger))
	}
	return d
}

// Dispatch handles one inbound event.
func (d *Dispatcher) Dispatch(ctx context.Context, ev domain.InboundEvent) (Result, error) {
	ch, ok := d.channels[ev.ChannelID]
	if !ok {
		return Result{Action: ActionIgnore}, fmt.Errorf("%w: %s", ErrUnknownChannel, ev.ChannelID)
	}
	text, err := SanitizeText(ev.Text, d.maxInput)
	if err != nil {
		d.logger.Warn("inbound text rejected",
			"channel_id", ev.ChannelID,
			"subscriber_id", ev.SubscriberID,
			"size", len(ev.Text),
			"err", err,
		)
		return Result{Action: ActionIgnore}, err
	}
	ev.Text = text

	var res Result
	err = d.sessions.WithLock(ctx, session.Key(ev.ChannelID, ev.SubscriberID), func(ctx context.Context) error {
		var err error
		res, err = d.route(ctx, ch, ev)
		return err
	})
	if err != nil {
		d.logger.Error("failed to dispatch event",
			"channel_id", ev.ChannelID,
			"subscriber_id", ev.SubscriberID,
			"action", res.Action,
			"err", err,
		)
		return res, err
	}
	d.logger.Debug("event dispatched",
		"channel_id", ev.ChannelID,
		"subscriber_id", ev.SubscriberID,
		"action", res.Action,
	)
	return res, nil
}

func (d *Dispatcher) route(ctx context.Context, ch ChannelConfig, ev domain.InboundEvent) (Result, error) {
	if ev.Payload != "" {
		if choice, err := domain.ParseChoicePayload(ev.Payload); err == nil {
			if choice.NodeID == "" {
				// Option without a follow-up node.
				return Result{Action: ActionIgnore}, nil
			}
			exec, err := d.engine.StartFlow(ctx, d.startRequest(ch, ev, choice.FlowID, choice.NodeID))
			return Result{Action: ActionChoice, Execution: exec}, err
		}
	}

	text := ev.Text
	if text == "" {
		text = ev.Payload
	}

	waiting, err := d.engine.FindWaiting(ctx, ev.SubscriberID, ev.ChannelID)
	switch {
	case err == nil:
		exec, err := d.engine.ResumeFlow(ctx, waiting.ID, text)
		if errors.Is(err, domain.ErrNotWaiting) {
			return Result{Action: ActionIgnore}, nil
		}
		return Result{Action: ActionResume, Execution: exec}, err
	case !errors.Is(err, domain.ErrExecutionNotFound):
		return Result{Action: ActionIgnore}, err
	}

	if ch.DefaultFlowID == "" {
		return Result{Action: ActionIgnore}, nil
	}
	exec, err := d.engine.StartFlow(ctx, d.startRequest(ch, ev, ch.DefaultFlowID, ""))
	return Result{Action: ActionDefault, Execution: exec}, err
}

func (d *Dispatcher) startRequest(ch ChannelConfig, ev domain.InboundEvent, flowID, nodeID string) tendril.StartRequest {
	return tendril.StartRequest{
		FlowID:       flowID,
		SubscriberID: ev.SubscriberID,
		ChannelID:    ch.ID,
		AccessToken:  ch.AccessToken,
		StartNodeID:  nodeID,
	}
}
