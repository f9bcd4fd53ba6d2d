// Package file loads flow definitions from a directory of YAML or JSON
// documents. Files are read on every lookup, so edits are picked up
// without a restart.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aretw0/tendril/pkg/domain"
	"gopkg.in/yaml.v3"
)

var extensions = []string{".yaml", ".yml", ".json"}

// Repository implements ports.FlowRepository and ports.FlowLister.
// A flow with id "greeting" lives in greeting.yaml, greeting.yml or
// greeting.json. A document without an id takes the file's base name.
type Repository struct {
	dir string
}

// NewRepository creates a repository rooted at dir.
func NewRepository(dir string) *Repository {
	return &Repository{dir: dir}
}

// GetFlow reads and decodes the document for id.
func (r *Repository) GetFlow(ctx context.Context, id string) (*domain.FlowDefinition, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return nil, fmt.Errorf("%w: %q", domain.ErrFlowNotFound, id)
	}
	for _, ext := range extensions {
		path := filepath.Join(r.dir, id+ext)
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("failed to read flow %s: %w", id, err)
		}
		flow, err := Decode(path, data)
		if err != nil {
			return nil, err
		}
		if flow.ID == "" {
			flow.ID = id
		}
		return flow, nil
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrFlowNotFound, id)
}

// ListFlows returns the ids of every flow document in the directory, sorted.
func (r *Repository) ListFlows(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list flows: %w", err)
	}
	seen := make(map[string]bool)
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if !supported(ext) {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ext)
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Decode parses a flow document; the format is chosen by the path extension.
func Decode(path string, data []byte) (*domain.FlowDefinition, error) {
	var flow domain.FlowDefinition
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &flow)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &flow)
	default:
		return nil, fmt.Errorf("unsupported flow format: %s", path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return &flow, nil
}

// ReadFile decodes a single flow document from disk.
func ReadFile(path string) (*domain.FlowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	flow, err := Decode(path, data)
	if err != nil {
		return nil, err
	}
	if flow.ID == "" {
		flow.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return flow, nil
}

func supported(ext string) bool {
	ext = strings.ToLower(ext)
	for _, e := range extensions {
		if e == ext {
			return true
		}
	}
	return false
}
