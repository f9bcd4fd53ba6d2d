package memory

import (
	"context"

	"github.com/aretw0/tendril/pkg/domain"
)

// Catalog implements ports.ProductCatalog over a fixed product list.
type Catalog struct {
	products map[string]domain.Product
}

// NewCatalog creates a catalog holding products.
func NewCatalog(products ...domain.Product) *Catalog {
	c := &Catalog{products: make(map[string]domain.Product, len(products))}
	for _, p := range products {
		c.products[p.ID] = p
	}
	return c
}

// GetProducts returns the known products in the order of ids.
func (c *Catalog) GetProducts(ctx context.Context, ids []string) ([]domain.Product, error) {
	out := make([]domain.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := c.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// Tokens implements ports.TokenSource from a static channel -> token map.
type Tokens map[string]string

// Token returns the access token of channelID, or an empty token.
func (t Tokens) Token(ctx context.Context, channelID string) (string, error) {
	return t[channelID], nil
}
