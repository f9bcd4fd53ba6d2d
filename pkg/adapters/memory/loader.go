package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/aretw0/tendril/pkg/domain"
)

// Repository implements ports.FlowRepository using an in-memory map.
type Repository struct {
	mu    sync.RWMutex
	flows map[string]*domain.FlowDefinition
}

// NewRepository creates a repository holding the given flows.
func NewRepository(flows ...*domain.FlowDefinition) *Repository {
	r := &Repository{flows: make(map[string]*domain.FlowDefinition)}
	for _, f := range flows {
		r.Put(f)
	}
	return r
}

// NewFromJSON creates a repository from raw JSON flow documents keyed by any label.
// This is handy for tests that keep flows as string literals.
func NewFromJSON(docs ...string) (*Repository, error) {
	r := NewRepository()
	for i, doc := range docs {
		var f domain.FlowDefinition
		if err := json.Unmarshal([]byte(doc), &f); err != nil {
			return nil, fmt.Errorf("failed to decode flow #%d: %w", i, err)
		}
		if f.ID == "" {
			return nil, fmt.Errorf("flow #%d missing id", i)
		}
		r.Put(&f)
	}
	return r, nil
}

// Put adds or replaces a flow.
func (r *Repository) Put(f *domain.FlowDefinition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flows[f.ID] = f
}

// GetFlow retrieves a flow by ID.
func (r *Repository) GetFlow(ctx context.Context, id string) (*domain.FlowDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.flows[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrFlowNotFound, id)
	}
	return f, nil
}

// ListFlows returns all flow IDs, sorted.
func (r *Repository) ListFlows(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.flows))
	for id := range r.flows {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
