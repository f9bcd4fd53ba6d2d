package domain

import (
	"fmt"
	"strings"
)

const choicePrefix = "tendril"

// ChoicePayload identifies the node a button or quick reply leads to.
// It is the opaque string carried by postback buttons and quick replies,
// decoded by the message router to restart the flow at NodeID.
type ChoicePayload struct {
	FlowID string
	NodeID string
}

// String encodes p as "tendril:<flow>:<node>".
func (p ChoicePayload) String() string {
	return choicePrefix + ":" + p.FlowID + ":" + p.NodeID
}

// ParseChoicePayload decodes a payload produced by ChoicePayload.String.
// Node IDs may themselves contain colons; flow IDs may not (graph.Compile
// rejects them).
func ParseChoicePayload(s string) (ChoicePayload, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 || parts[0] != choicePrefix || parts[1] == "" {
		return ChoicePayload{}, fmt.Errorf("not a choice payload: %q", s)
	}
	return ChoicePayload{FlowID: parts[1], NodeID: parts[2]}, nil
}
