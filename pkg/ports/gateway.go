package ports

import (
	"context"

	"github.com/aretw0/tendril/pkg/domain"
)

// MessagingGateway delivers messages to end users.
// Send returns the provider message id. Errors are final: the engine does
// not retry a node whose send failed.
type MessagingGateway interface {
	Send(ctx context.Context, accessToken, recipientID string, msg domain.OutboundMessage) (string, error)
}

// AIProvider produces a completion for ai nodes.
type AIProvider interface {
	Complete(ctx context.Context, prompt string, cfg domain.AIConfig) (string, error)
}
