package domain

// MessageKind discriminates the shapes an OutboundMessage can take.
type MessageKind string

const (
	KindText    MessageKind = "text"
	KindButtons MessageKind = "button_template"
	KindGeneric MessageKind = "generic_template"
	KindMedia   MessageKind = "media"
)

// ButtonType is the action a button performs when tapped.
type ButtonType string

const (
	ButtonPostback ButtonType = "postback"
	ButtonURL      ButtonType = "web_url"
)

// Button is one actionable button of a template.
type Button struct {
	Type    ButtonType `json:"type"`
	Title   string     `json:"title"`
	Payload string     `json:"payload,omitempty"`
	URL     string     `json:"url,omitempty"`
}

// QuickReply is one quick reply chip shown under a text message.
type QuickReply struct {
	Title   string `json:"title"`
	Payload string `json:"payload"`
}

// Element is one item of a generic (card/carousel) template.
type Element struct {
	Title    string   `json:"title"`
	Subtitle string   `json:"subtitle,omitempty"`
	ImageURL string   `json:"image_url,omitempty"`
	Buttons  []Button `json:"buttons,omitempty"`
}

// Attachment is a single media file referenced by URL.
type Attachment struct {
	Type    NodeType `json:"type"`
	URL     string   `json:"url"`
	Caption string   `json:"caption,omitempty"`
}

// OutboundMessage is the channel-neutral payload handed to a MessagingGateway.
// Exactly one of the shapes is populated, as told by Kind:
//
//   - KindText: Text plus optional QuickReplies.
//   - KindButtons: Text plus Buttons.
//   - KindGeneric: Elements.
//   - KindMedia: Attachment.
type OutboundMessage struct {
	Kind         MessageKind  `json:"kind"`
	Text         string       `json:"text,omitempty"`
	QuickReplies []QuickReply `json:"quick_replies,omitempty"`
	Buttons      []Button     `json:"buttons,omitempty"`
	Elements     []Element    `json:"elements,omitempty"`
	Attachment   *Attachment  `json:"attachment,omitempty"`
}

// NewTextMessage builds a plain text message with optional quick replies.
func NewTextMessage(text string, replies ...QuickReply) OutboundMessage {
	return OutboundMessage{Kind: KindText, Text: text, QuickReplies: replies}
}

// NewButtonMessage builds a button template.
func NewButtonMessage(text string, buttons ...Button) OutboundMessage {
	return OutboundMessage{Kind: KindButtons, Text: text, Buttons: buttons}
}

// NewGenericMessage builds a generic template.
func NewGenericMessage(elements ...Element) OutboundMessage {
	return OutboundMessage{Kind: KindGeneric, Elements: elements}
}

// NewMediaMessage builds a single attachment message.
func NewMediaMessage(kind NodeType, url, caption string) OutboundMessage {
	return OutboundMessage{Kind: KindMedia, Attachment: &Attachment{Type: kind, URL: url, Caption: caption}}
}

// Summary returns a short human readable form used by the message log.
func (m OutboundMessage) Summary() string {
	switch m.Kind {
	case KindMedia:
		if m.Attachment != nil {
			return m.Attachment.URL
		}
	case KindGeneric:
		if len(m.Elements) > 0 {
			return m.Elements[0].Title
		}
	}
	return m.Text
}
