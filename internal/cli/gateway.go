package cli

import (
	"context"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/ports"
)

// tokenGateway picks the channel gateway by the access token the engine
// sends with, since every channel has its own token.
type tokenGateway struct {
	byToken  map[string]ports.MessagingGateway
	fallback ports.MessagingGateway
}

func (g *tokenGateway) Send(ctx context.Context, token, recipient string, msg domain.OutboundMessage) (string, error) {
	if gw, ok := g.byToken[token]; ok {
		return gw.Send(ctx, token, recipient, msg)
	}
	return g.fallback.Send(ctx, token, recipient, msg)
}
