package domain

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// TextData is the payload of a text node.
type TextData struct {
	Text string `mapstructure:"text"`
}

// MediaData is the payload of image/video/audio/file nodes.
type MediaData struct {
	URL     string `mapstructure:"url"`
	Caption string `mapstructure:"caption"`
}

// ButtonOption is one interactive option of a button node.
// Type is "postback" (default) or "web_url".
type ButtonOption struct {
	Title  string `mapstructure:"title"`
	Type   string `mapstructure:"type"`
	URL    string `mapstructure:"url"`
	Target string `mapstructure:"target"`
}

// ButtonData is the payload of a button node. When attached to a text
// node, Title/Type/URL/Target describe the single button it contributes.
// When executed as a step, Text and Buttons are rendered.
type ButtonData struct {
	Text    string         `mapstructure:"text"`
	Title   string         `mapstructure:"title"`
	Type    string         `mapstructure:"type"`
	URL     string         `mapstructure:"url"`
	Target  string         `mapstructure:"target"`
	Buttons []ButtonOption `mapstructure:"buttons"`
}

// QuickReplyOption is one quick reply chip.
type QuickReplyOption struct {
	Title  string `mapstructure:"title"`
	Target string `mapstructure:"target"`
}

// QuickReplyData is the payload of a quickReply node.
type QuickReplyData struct {
	Text    string             `mapstructure:"text"`
	Title   string             `mapstructure:"title"`
	Target  string             `mapstructure:"target"`
	Replies []QuickReplyOption `mapstructure:"replies"`
}

// CardData describes one element of a generic/carousel template. It is the
// payload of card and carouselItem nodes; carousel nodes may carry an
// optional Text header.
type CardData struct {
	Text        string  `mapstructure:"text"`
	Title       string  `mapstructure:"title"`
	Subtitle    string  `mapstructure:"subtitle"`
	ImageURL    string  `mapstructure:"image_url"`
	Price       float64 `mapstructure:"price"`
	Currency    string  `mapstructure:"currency"`
	ButtonTitle string  `mapstructure:"button_title"`
	ButtonURL   string  `mapstructure:"button_url"`
}

// ProductData is the payload of a product node.
type ProductData struct {
	ProductIDs  []string `mapstructure:"product_ids"`
	ButtonTitle string   `mapstructure:"button_title"`
}

// ConditionRule is a single {field, operator, value} test.
type ConditionRule struct {
	Field    string `mapstructure:"field"`
	Operator string `mapstructure:"operator"`
	Value    string `mapstructure:"value"`
}

// ConditionData is the payload of a condition node. The inline rule is used
// when Rules is empty. Match is "all" (default) or "any".
type ConditionData struct {
	ConditionRule `mapstructure:",squash"`
	Rules         []ConditionRule `mapstructure:"rules"`
	Match         string          `mapstructure:"match"`
}

// AllRules returns the effective rule list.
func (c ConditionData) AllRules() []ConditionRule {
	if len(c.Rules) > 0 {
		return c.Rules
	}
	return []ConditionRule{c.ConditionRule}
}

// InputData is the payload of an input node.
type InputData struct {
	Prompt   string `mapstructure:"prompt"`
	Variable string `mapstructure:"variable"`
}

// SequenceData is the payload of a sequence (delay) node.
type SequenceData struct {
	Delay float64 `mapstructure:"delay"`
}

// AIData is the payload of an ai node.
type AIData struct {
	Prompt       string `mapstructure:"prompt"`
	SystemPrompt string `mapstructure:"system_prompt"`
	Variable     string `mapstructure:"variable"`
}

// DecodeData decodes the node's Data into out, accepting loosely typed
// authoring input ("5" for a number, etc).
func (n Node) DecodeData(out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(n.Data); err != nil {
		return fmt.Errorf("invalid data for %s node %s: %w", n.Type, n.ID, err)
	}
	return nil
}
