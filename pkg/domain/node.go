package domain

// NodeType tags the behavior of a node. The set is closed: every value
// returned by AllNodeTypes has exactly one handler in the runtime.
type NodeType string

const (
	// NodeTypeStart is the single entry point of a flow (pure passthrough).
	NodeTypeStart NodeType = "start"
	// NodeTypeText sends text, optionally with attached buttons or quick replies.
	NodeTypeText NodeType = "text"

	NodeTypeImage NodeType = "image"
	NodeTypeVideo NodeType = "video"
	NodeTypeAudio NodeType = "audio"
	NodeTypeFile  NodeType = "file"

	// NodeTypeButton renders up to MaxButtons postback/url options.
	NodeTypeButton NodeType = "button"
	// NodeTypeQuickReply renders up to MaxQuickReplies quick reply chips.
	NodeTypeQuickReply NodeType = "quickReply"

	NodeTypeCard         NodeType = "card"
	NodeTypeCarousel     NodeType = "carousel"
	NodeTypeCarouselItem NodeType = "carouselItem"
	NodeTypeProduct      NodeType = "product"

	// NodeTypeAI sends the answer of a generative model.
	NodeTypeAI NodeType = "ai"
	// NodeTypeCondition branches on a collected variable ("true"/"false").
	NodeTypeCondition NodeType = "condition"
	// NodeTypeInput prompts the user and suspends the execution (hard step).
	NodeTypeInput NodeType = "input"
	// NodeTypeSequence delays the execution for a number of seconds.
	NodeTypeSequence NodeType = "sequence"
)

// Channel limits applied when composing interactive payloads.
const (
	MaxButtons      = 3
	MaxQuickReplies = 13
	MaxElements     = 10
)

var allNodeTypes = []NodeType{
	NodeTypeStart,
	NodeTypeText,
	NodeTypeImage,
	NodeTypeVideo,
	NodeTypeAudio,
	NodeTypeFile,
	NodeTypeButton,
	NodeTypeQuickReply,
	NodeTypeCard,
	NodeTypeCarousel,
	NodeTypeCarouselItem,
	NodeTypeProduct,
	NodeTypeAI,
	NodeTypeCondition,
	NodeTypeInput,
	NodeTypeSequence,
}

// AllNodeTypes returns every known node type.
func AllNodeTypes() []NodeType {
	out := make([]NodeType, len(allNodeTypes))
	copy(out, allNodeTypes)
	return out
}

// Valid reports whether t belongs to the closed set of node types.
func (t NodeType) Valid() bool {
	for _, known := range allNodeTypes {
		if t == known {
			return true
		}
	}
	return false
}

// IsMedia reports whether t sends a single media attachment.
func (t NodeType) IsMedia() bool {
	switch t {
	case NodeTypeImage, NodeTypeVideo, NodeTypeAudio, NodeTypeFile:
		return true
	}
	return false
}

// IsComponent reports whether nodes of type t can be attached to another
// node to describe part of its outgoing payload.
func (t NodeType) IsComponent() bool {
	switch t {
	case NodeTypeButton, NodeTypeQuickReply, NodeTypeCarouselItem, NodeTypeCard:
		return true
	}
	return false
}

// IsComposer reports whether nodes of type t build their payload from
// attached component nodes. A carouselItem composes its action button.
func (t NodeType) IsComposer() bool {
	switch t {
	case NodeTypeText, NodeTypeCard, NodeTypeCarousel, NodeTypeCarouselItem, NodeTypeProduct:
		return true
	}
	return false
}

// Node is one typed step of a flow. Data holds the type-specific fields as
// authored; DecodeData yields the typed views.
type Node struct {
	ID   string         `json:"id" yaml:"id"`
	Type NodeType       `json:"type" yaml:"type"`
	Data map[string]any `json:"data,omitempty" yaml:"data,omitempty"`
}

// Edge is a directed link between two nodes. SourceHandle names which
// logical output of the source the edge represents ("message", "true",
// "button-0", ...). Empty means the default output.
type Edge struct {
	ID           string `json:"id" yaml:"id"`
	Source       string `json:"source" yaml:"source"`
	Target       string `json:"target" yaml:"target"`
	SourceHandle string `json:"source_handle,omitempty" yaml:"source_handle,omitempty"`
	Label        string `json:"label,omitempty" yaml:"label,omitempty"`
}

// Well-known source handles.
const (
	HandleDefault = ""
	HandleMessage = "message"
	HandleTrue    = "true"
	HandleFalse   = "false"
)

// FlowDefinition is the authored graph. It is read-only to the engine.
type FlowDefinition struct {
	ID      string `json:"id" yaml:"id"`
	OwnerID string `json:"owner_id,omitempty" yaml:"owner_id,omitempty"`
	Name    string `json:"name,omitempty" yaml:"name,omitempty"`
	Nodes   []Node `json:"nodes" yaml:"nodes"`
	Edges   []Edge `json:"edges" yaml:"edges"`
}
