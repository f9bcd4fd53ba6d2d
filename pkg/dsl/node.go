package dsl

import (
	"strconv"
	"strings"

	"github.com/aretw0/tendril/pkg/domain"
)

// NodeBuilder provides a fluent API for configuring a node.
type NodeBuilder struct {
	node    domain.Node
	builder *Builder
}

func (n *NodeBuilder) typed(t domain.NodeType) *NodeBuilder {
	n.node.Type = t
	return n
}

// Set stores an arbitrary data field on the node.
func (n *NodeBuilder) Set(key string, value any) *NodeBuilder {
	n.node.Data[key] = value
	return n
}

// Text marks the node as a text node with the given content.
func (n *NodeBuilder) Text(content string) *NodeBuilder {
	return n.typed(domain.NodeTypeText).Set("text", content)
}

// Media marks the node as an image, video, audio or file node.
func (n *NodeBuilder) Media(kind domain.NodeType, url string) *NodeBuilder {
	return n.typed(kind).Set("url", url)
}

// Image is shorthand for Media(domain.NodeTypeImage, url).
func (n *NodeBuilder) Image(url string) *NodeBuilder {
	return n.Media(domain.NodeTypeImage, url)
}

// Question marks the node as an input node (hard step) with the given prompt.
func (n *NodeBuilder) Question(prompt string) *NodeBuilder {
	return n.typed(domain.NodeTypeInput).Set("prompt", prompt)
}

// SaveTo specifies the variable an input or ai node stores its value in.
func (n *NodeBuilder) SaveTo(variable string) *NodeBuilder {
	return n.Set("variable", variable)
}

// If marks the node as a condition node with a single rule.
func (n *NodeBuilder) If(field, operator, value string) *NodeBuilder {
	return n.typed(domain.NodeTypeCondition).
		Set("field", field).
		Set("operator", operator).
		Set("value", value)
}

// Delay marks the node as a sequence node waiting the given seconds.
func (n *NodeBuilder) Delay(seconds float64) *NodeBuilder {
	return n.typed(domain.NodeTypeSequence).Set("delay", seconds)
}

// AI marks the node as an ai node with the given prompt.
func (n *NodeBuilder) AI(prompt string) *NodeBuilder {
	return n.typed(domain.NodeTypeAI).Set("prompt", prompt)
}

// Buttons marks the node as a button step offering the given titles.
// Use Choice to point each option at its follow-up node.
func (n *NodeBuilder) Buttons(text string, titles ...string) *NodeBuilder {
	buttons := make([]map[string]any, len(titles))
	for i, title := range titles {
		buttons[i] = map[string]any{"title": title}
	}
	return n.typed(domain.NodeTypeButton).Set("text", text).Set("buttons", buttons)
}

// QuickReplies marks the node as a quick reply step offering the given titles.
func (n *NodeBuilder) QuickReplies(text string, titles ...string) *NodeBuilder {
	replies := make([]map[string]any, len(titles))
	for i, title := range titles {
		replies[i] = map[string]any{"title": title}
	}
	return n.typed(domain.NodeTypeQuickReply).Set("text", text).Set("replies", replies)
}

// Card marks the node as a card.
func (n *NodeBuilder) Card(title, subtitle, imageURL string) *NodeBuilder {
	return n.typed(domain.NodeTypeCard).
		Set("title", title).
		Set("subtitle", subtitle).
		Set("image_url", imageURL)
}

// CarouselItem marks the node as a carousel item.
func (n *NodeBuilder) CarouselItem(title, imageURL string, price float64) *NodeBuilder {
	return n.typed(domain.NodeTypeCarouselItem).
		Set("title", title).
		Set("image_url", imageURL).
		Set("price", price)
}

// Button marks the node as a single button meant to be attached to a text
// or card node.
func (n *NodeBuilder) Button(title, url string) *NodeBuilder {
	n.typed(domain.NodeTypeButton).Set("title", title)
	if url != "" {
		n.Set("type", string(domain.ButtonURL)).Set("url", url)
	}
	return n
}

// Reply marks the node as a single quick reply meant to be attached to a text node.
func (n *NodeBuilder) Reply(title string) *NodeBuilder {
	return n.typed(domain.NodeTypeQuickReply).Set("title", title)
}

// Carousel marks the node as a carousel. Items are attached with Attach.
func (n *NodeBuilder) Carousel() *NodeBuilder {
	return n.typed(domain.NodeTypeCarousel)
}

// Products marks the node as a product node listing catalog ids.
func (n *NodeBuilder) Products(ids ...string) *NodeBuilder {
	return n.typed(domain.NodeTypeProduct).Set("product_ids", ids)
}

// Go adds the default control edge to the target node.
func (n *NodeBuilder) Go(target string) *NodeBuilder {
	n.builder.edge(n.node.ID, target, domain.HandleDefault)
	return n
}

// Branch adds a control edge through the given handle ("true", "false", ...).
func (n *NodeBuilder) Branch(handle, target string) *NodeBuilder {
	n.builder.edge(n.node.ID, target, handle)
	return n
}

// Choice points option i of a button or quickReply step at target.
func (n *NodeBuilder) Choice(i int, target string) *NodeBuilder {
	prefix := "button-"
	if n.node.Type == domain.NodeTypeQuickReply {
		prefix = "reply-"
	}
	return n.Branch(prefix+strconv.Itoa(i), target)
}

// Attach links a component node (button, quickReply, card, carouselItem)
// to this node's payload, in call order.
func (n *NodeBuilder) Attach(child string) *NodeBuilder {
	n.builder.edge(n.node.ID, child, "child-"+strconv.Itoa(len(n.builder.attachments(n.node.ID))))
	return n
}

// Build returns the underlying domain.Node.
func (n *NodeBuilder) Build() domain.Node {
	return n.node
}

func (b *Builder) attachments(source string) []domain.Edge {
	var out []domain.Edge
	for _, e := range b.flow.Edges {
		if e.Source == source && strings.HasPrefix(e.SourceHandle, "child-") {
			out = append(out, e)
		}
	}
	return out
}
