// Package graph compiles a FlowDefinition into the relations the interpreter
// walks: control-flow successors and attached payload components.
package graph

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/aretw0/tendril/pkg/domain"
)

// Relation classifies an authored edge.
type Relation int

const (
	// RelationNext is a control-flow continuation.
	RelationNext Relation = iota
	// RelationAttached links a composer node to a component describing part
	// of its payload. It is never traversed as control flow.
	RelationAttached
)

func (r Relation) String() string {
	if r == RelationAttached {
		return "attached"
	}
	return "next"
}

// Link is one classified outgoing edge.
type Link struct {
	Edge     domain.Edge
	Handle   string
	Relation Relation
}

// Graph is the compiled, read-only view of a flow.
type Graph struct {
	flow     *domain.FlowDefinition
	start    string
	nodes    map[string]*domain.Node
	next     map[string]map[string]string
	attached map[string][]string
	links    map[string][]Link
}

// Compile validates def and builds its relations. Structural problems are
// reported as *domain.DefinitionError.
func Compile(def *domain.FlowDefinition) (*Graph, error) {
	if def == nil {
		return nil, &domain.DefinitionError{Reason: "nil definition"}
	}
	g := &Graph{
		flow:     def,
		nodes:    make(map[string]*domain.Node, len(def.Nodes)),
		next:     make(map[string]map[string]string),
		attached: make(map[string][]string),
		links:    make(map[string][]Link),
	}

	fail := func(nodeID, format string, args ...any) error {
		return &domain.DefinitionError{FlowID: def.ID, NodeID: nodeID, Reason: fmt.Sprintf(format, args...)}
	}

	// Choice payloads are "tendril:<flow>:<node>"; a colon in the flow id
	// would make them ambiguous.
	if strings.Contains(def.ID, ":") {
		return nil, fail("", "flow id must not contain ':'")
	}

	var starts []string
	for i := range def.Nodes {
		n := &def.Nodes[i]
		if n.ID == "" {
			return nil, fail("", "node at index %d has no id", i)
		}
		if _, dup := g.nodes[n.ID]; dup {
			return nil, fail(n.ID, "duplicate node id")
		}
		if !n.Type.Valid() {
			return nil, fail(n.ID, "unknown node type %q", n.Type)
		}
		if n.Type == domain.NodeTypeInput {
			var data domain.InputData
			if err := n.DecodeData(&data); err != nil {
				return nil, fail(n.ID, "%v", err)
			}
			if strings.TrimSpace(data.Variable) == "" {
				return nil, fail(n.ID, "input node has no variable")
			}
		}
		if n.Type == domain.NodeTypeStart {
			starts = append(starts, n.ID)
		}
		g.nodes[n.ID] = n
	}
	switch len(starts) {
	case 0:
		return nil, fail("", "no start node")
	case 1:
		g.start = starts[0]
	default:
		return nil, fail("", "multiple start nodes: %s", strings.Join(starts, ", "))
	}

	type attachment struct {
		target string
		order  int
		pos    int
	}
	pending := make(map[string][]attachment)

	for i, e := range def.Edges {
		src, ok := g.nodes[e.Source]
		if !ok {
			return nil, fail("", "edge %q references unknown source %q", e.ID, e.Source)
		}
		dst, ok := g.nodes[e.Target]
		if !ok {
			return nil, fail("", "edge %q references unknown target %q", e.ID, e.Target)
		}

		if isAttachment(src.Type, dst.Type, e.SourceHandle) {
			pending[src.ID] = append(pending[src.ID], attachment{target: dst.ID, order: handleIndex(e.SourceHandle), pos: i})
			g.links[src.ID] = append(g.links[src.ID], Link{Edge: e, Handle: e.SourceHandle, Relation: RelationAttached})
			continue
		}

		handle := e.SourceHandle
		if src.Type == domain.NodeTypeText && handle == domain.HandleMessage {
			handle = domain.HandleDefault
		}
		if g.next[src.ID] == nil {
			g.next[src.ID] = make(map[string]string)
		}
		// First edge wins when an author draws two edges from the same handle.
		if _, exists := g.next[src.ID][handle]; !exists {
			g.next[src.ID][handle] = dst.ID
		}
		g.links[src.ID] = append(g.links[src.ID], Link{Edge: e, Handle: handle, Relation: RelationNext})
	}

	for src, list := range pending {
		sort.SliceStable(list, func(i, j int) bool {
			if list[i].order != list[j].order {
				return list[i].order < list[j].order
			}
			return list[i].pos < list[j].pos
		})
		ids := make([]string, len(list))
		for i, a := range list {
			ids[i] = a.target
		}
		g.attached[src] = ids
	}

	return g, nil
}

// isAttachment reports whether an edge from a node of type src to a node of
// type dst through handle describes payload composition.
func isAttachment(src, dst domain.NodeType, handle string) bool {
	if isControlHandle(handle) || !src.IsComposer() || !dst.IsComponent() {
		return false
	}
	switch dst {
	case domain.NodeTypeCard, domain.NodeTypeCarouselItem:
		return src == domain.NodeTypeCarousel
	case domain.NodeTypeQuickReply:
		return src == domain.NodeTypeText
	}
	return true
}

func isControlHandle(handle string) bool {
	switch handle {
	case domain.HandleDefault, domain.HandleMessage, domain.HandleTrue, domain.HandleFalse:
		return true
	}
	return false
}

// handleIndex extracts the numeric suffix of handles like "button-2".
// Handles without one sort last.
func handleIndex(handle string) int {
	i := strings.LastIndexAny(handle, "-_")
	if i < 0 {
		return math.MaxInt32
	}
	n, err := strconv.Atoi(handle[i+1:])
	if err != nil {
		return math.MaxInt32
	}
	return n
}

// FlowID returns the id of the compiled flow.
func (g *Graph) FlowID() string { return g.flow.ID }

// Definition returns the source definition.
func (g *Graph) Definition() *domain.FlowDefinition { return g.flow }

// Start returns the id of the start node.
func (g *Graph) Start() string { return g.start }

// Node returns the node with the given id.
func (g *Graph) Node(id string) (*domain.Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Next returns the control-flow successor of id through handle.
func (g *Graph) Next(id, handle string) (string, bool) {
	target, ok := g.next[id][handle]
	return target, ok
}

// Attached returns the component nodes attached to id in handle order,
// optionally filtered by type.
func (g *Graph) Attached(id string, types ...domain.NodeType) []*domain.Node {
	var out []*domain.Node
	for _, childID := range g.attached[id] {
		child := g.nodes[childID]
		if len(types) > 0 && !containsType(types, child.Type) {
			continue
		}
		out = append(out, child)
	}
	return out
}

// Links returns every classified outgoing edge of id in authoring order.
func (g *Graph) Links(id string) []Link {
	return g.links[id]
}

func containsType(types []domain.NodeType, t domain.NodeType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}

// Unreachable returns, in authoring order, the nodes that no path from the
// start node reaches. Both control and attachment links are followed, as
// well as the targets named by button and quick reply options.
func (g *Graph) Unreachable() []string {
	seen := map[string]bool{g.start: true}
	queue := []string{g.start}
	visit := func(id string) {
		if _, ok := g.nodes[id]; ok && !seen[id] {
			seen[id] = true
			queue = append(queue, id)
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, l := range g.links[id] {
			visit(l.Edge.Target)
		}
		for _, target := range optionTargets(g.nodes[id]) {
			visit(target)
		}
	}

	var out []string
	for _, n := range g.flow.Nodes {
		if !seen[n.ID] {
			out = append(out, n.ID)
		}
	}
	return out
}

func optionTargets(n *domain.Node) []string {
	var targets []string
	switch n.Type {
	case domain.NodeTypeButton:
		var data domain.ButtonData
		if n.DecodeData(&data) != nil {
			return nil
		}
		targets = append(targets, data.Target)
		for _, b := range data.Buttons {
			targets = append(targets, b.Target)
		}
	case domain.NodeTypeQuickReply:
		var data domain.QuickReplyData
		if n.DecodeData(&data) != nil {
			return nil
		}
		targets = append(targets, data.Target)
		for _, r := range data.Replies {
			targets = append(targets, r.Target)
		}
	}
	return targets
}
