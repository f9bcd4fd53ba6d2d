package runtime

import (
	"context"
	"strconv"

	"github.com/aretw0/tendril/pkg/domain"
)

// handleButtons renders a button node reached as a step. Each option
// leads to the target of its "button-<i>" edge. The run then ends; the
// message router restarts the flow at the chosen node.
func handleButtons(ctx context.Context, nc *NodeContext) (Outcome, error) {
	var data domain.ButtonData
	if err := nc.Node.DecodeData(&data); err != nil {
		return Outcome{}, err
	}
	options := data.Buttons
	if len(options) == 0 && data.Title != "" {
		options = []domain.ButtonOption{{Title: data.Title, Type: data.Type, URL: data.URL, Target: data.Target}}
	}
	if len(options) > domain.MaxButtons {
		options = options[:domain.MaxButtons]
	}

	text, err := nc.Interpolate(ctx, data.Text)
	if err != nil {
		return Outcome{}, err
	}
	buttons := make([]domain.Button, 0, len(options))
	for i, opt := range options {
		b, err := nc.button(ctx, opt, nc.Node.ID, "button-"+strconv.Itoa(i))
		if err != nil {
			return Outcome{}, err
		}
		buttons = append(buttons, b)
	}
	if err := nc.Send(ctx, domain.NewButtonMessage(text, buttons...)); err != nil {
		return Outcome{}, err
	}
	return Outcome{Halt: true}, nil
}

// handleQuickReplies renders a quickReply node reached as a step, with
// options leading to the targets of its "reply-<i>" edges.
func handleQuickReplies(ctx context.Context, nc *NodeContext) (Outcome, error) {
	var data domain.QuickReplyData
	if err := nc.Node.DecodeData(&data); err != nil {
		return Outcome{}, err
	}
	options := data.Replies
	if len(options) == 0 && data.Title != "" {
		options = []domain.QuickReplyOption{{Title: data.Title, Target: data.Target}}
	}
	if len(options) > domain.MaxQuickReplies {
		options = options[:domain.MaxQuickReplies]
	}

	text, err := nc.Interpolate(ctx, data.Text)
	if err != nil {
		return Outcome{}, err
	}
	replies := make([]domain.QuickReply, 0, len(options))
	for i, opt := range options {
		title, err := nc.Interpolate(ctx, opt.Title)
		if err != nil {
			return Outcome{}, err
		}
		replies = append(replies, domain.QuickReply{
			Title:   title,
			Payload: nc.choice(nc.Node.ID, opt.Target, "reply-"+strconv.Itoa(i)),
		})
	}
	if err := nc.Send(ctx, domain.NewTextMessage(text, replies...)); err != nil {
		return Outcome{}, err
	}
	return Outcome{Halt: true}, nil
}
