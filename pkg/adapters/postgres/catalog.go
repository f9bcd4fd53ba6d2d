package postgres

import (
	"context"
	"fmt"

	"github.com/aretw0/tendril/pkg/domain"
)

// PutProduct inserts or replaces a catalog entry.
func (s *Store) PutProduct(ctx context.Context, p domain.Product) error {
	sql := fmt.Sprintf(`
		INSERT INTO %s (id, name, image_url, price, currency, url)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, image_url = EXCLUDED.image_url, price = EXCLUDED.price,
			currency = EXCLUDED.currency, url = EXCLUDED.url`, s.table("products"))
	if _, err := s.pool.Exec(ctx, sql, p.ID, p.Name, p.ImageURL, p.Price, p.Currency, p.URL); err != nil {
		return fmt.Errorf("failed to put product %s: %w", p.ID, err)
	}
	return nil
}

// GetProducts returns the known products among ids, in the order requested.
func (s *Store) GetProducts(ctx context.Context, ids []string) ([]domain.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	sql := fmt.Sprintf(`
		SELECT id, name, image_url, price, currency, url
		FROM %s WHERE id = ANY($1)`, s.table("products"))
	rows, err := s.pool.Query(ctx, sql, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get products: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]domain.Product, len(ids))
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.ImageURL, &p.Price, &p.Currency, &p.URL); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		byID[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]domain.Product, 0, len(byID))
	for _, id := range ids {
		if p, ok := byID[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}
