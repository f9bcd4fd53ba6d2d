package tests

import (
	"context"
	"errors"
	"testing"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/ports"
)

// FlowRepositoryContractTest is a reusable test suite that verifies if an adapter complies with ports.FlowRepository.
// expected maps flow IDs to the number of nodes each flow must contain.
func FlowRepositoryContractTest(t *testing.T, repo ports.FlowRepository, expected map[string]int) {
	t.Helper()
	ctx := context.Background()

	t.Run("GetFlow_Success", func(t *testing.T) {
		for id, nodes := range expected {
			flow, err := repo.GetFlow(ctx, id)
			if err != nil {
				t.Fatalf("unexpected error getting flow %s: %v", id, err)
			}
			if flow.ID != id {
				t.Errorf("flow id mismatch: got %q, want %q", flow.ID, id)
			}
			if len(flow.Nodes) != nodes {
				t.Errorf("flow %s: got %d nodes, want %d", id, len(flow.Nodes), nodes)
			}
		}
	})

	t.Run("GetFlow_NotFound", func(t *testing.T) {
		_, err := repo.GetFlow(ctx, "non-existent-flow")
		if !errors.Is(err, domain.ErrFlowNotFound) {
			t.Errorf("expected ErrFlowNotFound, got %v", err)
		}
	})

	lister, ok := repo.(ports.FlowLister)
	if !ok {
		return
	}
	t.Run("ListFlows", func(t *testing.T) {
		ids, err := lister.ListFlows(ctx)
		if err != nil {
			t.Fatalf("unexpected error listing flows: %v", err)
		}
		found := make(map[string]bool)
		for _, id := range ids {
			found[id] = true
		}
		for id := range expected {
			if !found[id] {
				t.Errorf("ListFlows missing %q (got %v)", id, ids)
			}
		}
	})
}
