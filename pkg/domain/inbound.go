package domain

// InboundEvent is a message received from a channel, normalised by the
// channel adapter before it reaches the router.
//
// Payload carries the postback or quick reply payload when the user tapped
// an option; Text carries what the user typed (or the option title).
type InboundEvent struct {
	ChannelID    string `json:"channel_id"`
	SubscriberID string `json:"subscriber_id"`
	Text         string `json:"text,omitempty"`
	Payload      string `json:"payload,omitempty"`
	MessageID    string `json:"message_id,omitempty"`
}
