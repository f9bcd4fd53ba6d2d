package runtime

import (
	"context"

	"github.com/aretw0/tendril/pkg/domain"
)

// handleText sends the interpolated text. Attached buttons turn it into a
// button template; otherwise attached quick replies ride along.
func handleText(ctx context.Context, nc *NodeContext) (Outcome, error) {
	var data domain.TextData
	if err := nc.Node.DecodeData(&data); err != nil {
		return Outcome{}, err
	}
	text, err := nc.Interpolate(ctx, data.Text)
	if err != nil {
		return Outcome{}, err
	}

	if children := nc.Graph.Attached(nc.Node.ID, domain.NodeTypeButton); len(children) > 0 {
		buttons, err := attachedButtons(ctx, nc, children)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{}, nc.Send(ctx, domain.NewButtonMessage(text, buttons...))
	}

	children := nc.Graph.Attached(nc.Node.ID, domain.NodeTypeQuickReply)
	if len(children) > domain.MaxQuickReplies {
		children = children[:domain.MaxQuickReplies]
	}
	replies := make([]domain.QuickReply, 0, len(children))
	for _, child := range children {
		var qr domain.QuickReplyData
		if err := child.DecodeData(&qr); err != nil {
			return Outcome{}, err
		}
		title, err := nc.Interpolate(ctx, qr.Title)
		if err != nil {
			return Outcome{}, err
		}
		replies = append(replies, domain.QuickReply{
			Title:   title,
			Payload: nc.choice(child.ID, qr.Target, domain.HandleDefault),
		})
	}
	return Outcome{}, nc.Send(ctx, domain.NewTextMessage(text, replies...))
}

// attachedButtons renders up to MaxButtons attached button nodes.
func attachedButtons(ctx context.Context, nc *NodeContext, children []*domain.Node) ([]domain.Button, error) {
	if len(children) > domain.MaxButtons {
		children = children[:domain.MaxButtons]
	}
	buttons := make([]domain.Button, 0, len(children))
	for _, child := range children {
		var data domain.ButtonData
		if err := child.DecodeData(&data); err != nil {
			return nil, err
		}
		b, err := nc.button(ctx, domain.ButtonOption{Title: data.Title, Type: data.Type, URL: data.URL, Target: data.Target}, child.ID, domain.HandleDefault)
		if err != nil {
			return nil, err
		}
		buttons = append(buttons, b)
	}
	return buttons, nil
}

// button renders one option. URL buttons open a link; every other button
// posts back a payload naming the node the option leads to, which is the
// explicit target or the successor of fromNode through handle.
func (nc *NodeContext) button(ctx context.Context, opt domain.ButtonOption, fromNode, handle string) (domain.Button, error) {
	title, err := nc.Interpolate(ctx, opt.Title)
	if err != nil {
		return domain.Button{}, err
	}
	if domain.ButtonType(opt.Type) == domain.ButtonURL {
		url, err := nc.Interpolate(ctx, opt.URL)
		if err != nil {
			return domain.Button{}, err
		}
		return domain.Button{Type: domain.ButtonURL, Title: title, URL: url}, nil
	}
	return domain.Button{
		Type:    domain.ButtonPostback,
		Title:   title,
		Payload: nc.choice(fromNode, opt.Target, handle),
	}, nil
}

// choice encodes the follow-up node of an option as a ChoicePayload.
// An option without a follow-up gets an empty node id.
func (nc *NodeContext) choice(fromNode, target, handle string) string {
	if target == "" {
		target, _ = nc.Graph.Next(fromNode, handle)
	}
	return domain.ChoicePayload{FlowID: nc.Graph.FlowID(), NodeID: target}.String()
}
