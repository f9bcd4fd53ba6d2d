package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/aretw0/tendril/internal/config"
	"github.com/aretw0/tendril/pkg/adapters/file"
	"github.com/aretw0/tendril/pkg/domain"
)

// loadFlow resolves ref as a flow document path when it names an existing
// file, and as a flow id in the configured flows directory otherwise.
func loadFlow(ctx context.Context, cfg *config.Config, ref string) (*domain.FlowDefinition, error) {
	if filepath.Ext(ref) != "" {
		if info, err := os.Stat(ref); err == nil && !info.IsDir() {
			return file.ReadFile(ref)
		}
	}
	return file.NewRepository(cfg.FlowsDir).GetFlow(ctx, ref)
}
