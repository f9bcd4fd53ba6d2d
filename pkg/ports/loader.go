package ports

import (
	"context"

	"github.com/aretw0/tendril/pkg/domain"
)

// FlowRepository defines how the engine retrieves flow definitions.
// This allows the storage layer (files, memory, database) to be decoupled.
type FlowRepository interface {
	// GetFlow returns the definition for id, or domain.ErrFlowNotFound.
	GetFlow(ctx context.Context, id string) (*domain.FlowDefinition, error)
}

// FlowLister is implemented by repositories that can enumerate their flows.
// It is used by introspection tools (e.g. 'tendril validate').
type FlowLister interface {
	ListFlows(ctx context.Context) ([]string, error)
}

// ProductCatalog resolves product ids referenced by product nodes.
// Unknown ids are omitted from the result rather than reported as errors.
type ProductCatalog interface {
	GetProducts(ctx context.Context, ids []string) ([]domain.Product, error)
}

// TokenSource resolves the channel access token used when a paused
// execution is resumed from a context that does not carry one.
type TokenSource interface {
	Token(ctx context.Context, channelID string) (string, error)
}
