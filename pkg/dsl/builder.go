package dsl

import (
	"fmt"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/graph"
)

// Builder manages the flow construction.
type Builder struct {
	flow  domain.FlowDefinition
	nodes map[string]*NodeBuilder
	order []string
	edges int
}

// New creates a new flow builder.
func New(flowID string) *Builder {
	return &Builder{
		flow:  domain.FlowDefinition{ID: flowID, Name: flowID},
		nodes: make(map[string]*NodeBuilder),
	}
}

// Name sets the human readable flow name.
func (b *Builder) Name(name string) *Builder {
	b.flow.Name = name
	return b
}

// Owner sets the owning account of the flow.
func (b *Builder) Owner(ownerID string) *Builder {
	b.flow.OwnerID = ownerID
	return b
}

// Start adds the start node of the flow.
func (b *Builder) Start(id string) *NodeBuilder {
	return b.Add(id).typed(domain.NodeTypeStart)
}

// Add creates a new node in the flow.
// If the node already exists, it returns the existing builder.
func (b *Builder) Add(id string) *NodeBuilder {
	if nb, ok := b.nodes[id]; ok {
		return nb
	}
	nb := &NodeBuilder{
		node:    domain.Node{ID: id, Data: make(map[string]any)},
		builder: b,
	}
	b.nodes[id] = nb
	b.order = append(b.order, id)
	return nb
}

func (b *Builder) edge(source, target, handle string) {
	b.edges++
	b.flow.Edges = append(b.flow.Edges, domain.Edge{
		ID:           fmt.Sprintf("e%d", b.edges),
		Source:       source,
		Target:       target,
		SourceHandle: handle,
	})
}

// Build assembles the definition and validates it with graph.Compile.
func (b *Builder) Build() (*domain.FlowDefinition, error) {
	def := b.flow
	def.Nodes = make([]domain.Node, 0, len(b.order))
	for _, id := range b.order {
		def.Nodes = append(def.Nodes, b.nodes[id].node)
	}
	def.Edges = append([]domain.Edge(nil), b.flow.Edges...)

	if _, err := graph.Compile(&def); err != nil {
		return nil, fmt.Errorf("failed to build flow %s: %w", def.ID, err)
	}
	return &def, nil
}

// MustBuild is like Build but panics on error. Intended for tests and examples.
func (b *Builder) MustBuild() *domain.FlowDefinition {
	def, err := b.Build()
	if err != nil {
		panic(err)
	}
	return def
}
