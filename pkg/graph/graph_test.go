package graph_test

import (
	"errors"
	"testing"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func node(id string, t domain.NodeType, data map[string]any) domain.Node {
	return domain.Node{ID: id, Type: t, Data: data}
}

func edge(src, dst, handle string) domain.Edge {
	return domain.Edge{ID: src + "-" + dst, Source: src, Target: dst, SourceHandle: handle}
}

func TestCompile_SplitsNextAndAttached(t *testing.T) {
	def := &domain.FlowDefinition{
		ID: "f",
		Nodes: []domain.Node{
			node("start", domain.NodeTypeStart, nil),
			node("hello", domain.NodeTypeText, map[string]any{"text": "hi"}),
			node("qr2", domain.NodeTypeQuickReply, map[string]any{"title": "Two"}),
			node("qr1", domain.NodeTypeQuickReply, map[string]any{"title": "One"}),
			node("after", domain.NodeTypeText, map[string]any{"text": "bye"}),
		},
		Edges: []domain.Edge{
			edge("start", "hello", ""),
			edge("hello", "qr2", "reply-1"),
			edge("hello", "qr1", "reply-0"),
			edge("hello", "after", "message"),
		},
	}

	g, err := graph.Compile(def)
	require.NoError(t, err)

	assert.Equal(t, "start", g.Start())

	next, ok := g.Next("hello", domain.HandleDefault)
	require.True(t, ok, "text 'message' handle is the default successor")
	assert.Equal(t, "after", next)

	children := g.Attached("hello", domain.NodeTypeQuickReply)
	require.Len(t, children, 2)
	assert.Equal(t, "qr1", children[0].ID, "attachments are ordered by handle index")
	assert.Equal(t, "qr2", children[1].ID)

	_, ok = g.Next("hello", "reply-0")
	assert.False(t, ok, "attachments are never control flow")
}

func TestCompile_ButtonStepHandlesAreControlFlow(t *testing.T) {
	def := &domain.FlowDefinition{
		ID: "f",
		Nodes: []domain.Node{
			node("start", domain.NodeTypeStart, nil),
			node("menu", domain.NodeTypeButton, map[string]any{"text": "Pick"}),
			node("a", domain.NodeTypeText, nil),
			node("b", domain.NodeTypeText, nil),
		},
		Edges: []domain.Edge{
			edge("start", "menu", ""),
			edge("menu", "a", "button-0"),
			edge("menu", "b", "button-1"),
		},
	}
	g, err := graph.Compile(def)
	require.NoError(t, err)

	target, ok := g.Next("menu", "button-1")
	require.True(t, ok)
	assert.Equal(t, "b", target)
	assert.Empty(t, g.Attached("menu"))
}

func TestCompile_ConditionBranches(t *testing.T) {
	def := &domain.FlowDefinition{
		ID: "f",
		Nodes: []domain.Node{
			node("start", domain.NodeTypeStart, nil),
			node("check", domain.NodeTypeCondition, nil),
			node("yes", domain.NodeTypeButton, nil),
			node("no", domain.NodeTypeText, nil),
		},
		Edges: []domain.Edge{
			edge("start", "check", ""),
			edge("check", "yes", "true"),
			edge("check", "no", "false"),
		},
	}
	g, err := graph.Compile(def)
	require.NoError(t, err)

	yes, _ := g.Next("check", domain.HandleTrue)
	no, _ := g.Next("check", domain.HandleFalse)
	assert.Equal(t, "yes", yes)
	assert.Equal(t, "no", no)
}

func TestCompile_CarouselItems(t *testing.T) {
	def := &domain.FlowDefinition{
		ID: "f",
		Nodes: []domain.Node{
			node("start", domain.NodeTypeStart, nil),
			node("c", domain.NodeTypeCarousel, nil),
			node("i1", domain.NodeTypeCarouselItem, nil),
			node("i2", domain.NodeTypeCard, nil),
		},
		Edges: []domain.Edge{
			edge("start", "c", ""),
			edge("c", "i1", "item-0"),
			edge("c", "i2", "item-1"),
		},
	}
	g, err := graph.Compile(def)
	require.NoError(t, err)

	items := g.Attached("c", domain.NodeTypeCarouselItem, domain.NodeTypeCard)
	require.Len(t, items, 2)
	assert.Equal(t, graph.RelationAttached, g.Links("c")[0].Relation)
}

func TestCompile_CarouselItemButtons(t *testing.T) {
	def := &domain.FlowDefinition{
		ID: "f",
		Nodes: []domain.Node{
			node("start", domain.NodeTypeStart, nil),
			node("c", domain.NodeTypeCarousel, nil),
			node("i1", domain.NodeTypeCarouselItem, nil),
			node("i2", domain.NodeTypeCarouselItem, nil),
			node("b1", domain.NodeTypeButton, map[string]any{"title": "Buy"}),
		},
		Edges: []domain.Edge{
			edge("start", "c", ""),
			edge("c", "i1", "item-0"),
			edge("i1", "b1", "button-0"),
			edge("i1", "i2", "item-0"),
		},
	}
	g, err := graph.Compile(def)
	require.NoError(t, err)

	buttons := g.Attached("i1", domain.NodeTypeButton)
	require.Len(t, buttons, 1)
	assert.Equal(t, "b1", buttons[0].ID)
	assert.Empty(t, g.Attached("i1", domain.NodeTypeCarouselItem), "items only attach to carousels")
	next, ok := g.Next("i1", "item-0")
	assert.True(t, ok)
	assert.Equal(t, "i2", next)
}

func TestCompile_DefinitionErrors(t *testing.T) {
	start := node("start", domain.NodeTypeStart, nil)
	cases := map[string]*domain.FlowDefinition{
		"no start": {ID: "f", Nodes: []domain.Node{node("a", domain.NodeTypeText, nil)}},
		"two starts": {ID: "f", Nodes: []domain.Node{start, node("s2", domain.NodeTypeStart, nil)}},
		"unknown type": {ID: "f", Nodes: []domain.Node{start, node("x", "webhook", nil)}},
		"duplicate id": {ID: "f", Nodes: []domain.Node{start, start}},
		"dangling edge": {
			ID:    "f",
			Nodes: []domain.Node{start},
			Edges: []domain.Edge{edge("start", "ghost", "")},
		},
		"colon in flow id": {ID: "shop:v2", Nodes: []domain.Node{start}},
		"input without variable": {
			ID:    "f",
			Nodes: []domain.Node{start, node("ask", domain.NodeTypeInput, map[string]any{"prompt": "?"})},
		},
	}

	for name, def := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := graph.Compile(def)
			var defErr *domain.DefinitionError
			require.True(t, errors.As(err, &defErr), "expected DefinitionError, got %v", err)
		})
	}
}

func TestGraph_Unreachable(t *testing.T) {
	def := &domain.FlowDefinition{
		ID: "f",
		Nodes: []domain.Node{
			node("start", domain.NodeTypeStart, nil),
			node("menu", domain.NodeTypeText, map[string]any{"text": "pick"}),
			node("opt", domain.NodeTypeButton, map[string]any{"title": "Go", "target": "picked"}),
			node("picked", domain.NodeTypeText, map[string]any{"text": "ok"}),
			node("orphan", domain.NodeTypeText, map[string]any{"text": "lost"}),
			node("orphan2", domain.NodeTypeText, map[string]any{"text": "lost too"}),
		},
		Edges: []domain.Edge{
			edge("start", "menu", ""),
			edge("menu", "opt", "child-0"),
			edge("orphan", "orphan2", ""),
		},
	}
	g, err := graph.Compile(def)
	require.NoError(t, err)
	assert.Equal(t, []string{"orphan", "orphan2"}, g.Unreachable())
}
