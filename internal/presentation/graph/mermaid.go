// Package graph renders compiled flows as Mermaid flowcharts.
package graph

import (
	"fmt"
	"strings"

	"github.com/aretw0/tendril/pkg/domain"
	flowgraph "github.com/aretw0/tendril/pkg/graph"
)

// GraphOverlay contains execution data to visualize on the graph.
type GraphOverlay struct {
	VisitedNodes []string
	CurrentNode  string
	FailedNode   string
}

// OverlayFor builds the overlay of an execution from its node records.
// The current node is the node the execution is paused on, if any.
func OverlayFor(exec *domain.ExecutionInstance, records []domain.NodeExecutionRecord) *GraphOverlay {
	o := &GraphOverlay{}
	for _, rec := range records {
		o.VisitedNodes = append(o.VisitedNodes, rec.NodeID)
		if rec.Status == domain.RecordError {
			o.FailedNode = rec.NodeID
		}
	}
	if exec != nil && exec.Continuation != nil {
		o.CurrentNode = exec.Continuation.PausedNodeID
	}
	return o
}

// GenerateMermaid produces a Mermaid flowchart of g.
// It applies semantic styling:
// - Start: ((Circle))
// - Input: [/Parallelogram/]
// - Condition: {Rhombus}
// - AI: [[Subroutine]]
// - Sequence: ([Stadium])
// - Components (buttons, quick replies, cards): >Flag]
// - Default: [Rectangle]
// Control-flow edges are solid and labelled with their handle; attachments
// are dotted.
func GenerateMermaid(g *flowgraph.Graph, overlay *GraphOverlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	nodes := g.Definition().Nodes
	for _, node := range nodes {
		safeID := sanitizeMermaidID(node.ID)
		opener, closer := shape(node.Type)
		fmt.Fprintf(&sb, "    %s%s\"%s<br/><small>%s</small>\"%s\n", safeID, opener, escapeLabel(node.ID), node.Type, closer)
	}

	for _, node := range nodes {
		safeID := sanitizeMermaidID(node.ID)
		for _, link := range g.Links(node.ID) {
			safeTo := sanitizeMermaidID(link.Edge.Target)
			if link.Relation == flowgraph.RelationAttached {
				fmt.Fprintf(&sb, "    %s -.- %s\n", safeID, safeTo)
				continue
			}
			label := link.Handle
			if link.Edge.Label != "" {
				label = link.Edge.Label
			}
			if label == "" {
				fmt.Fprintf(&sb, "    %s --> %s\n", safeID, safeTo)
				continue
			}
			fmt.Fprintf(&sb, "    %s -- \"%s\" --> %s\n", safeID, escapeLabel(label), safeTo)
		}
	}

	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		// Force black text (color:#000) for high-contrast on light backgrounds, regardless of theme (Light/Dark)
		sb.WriteString("    classDef visited fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef current fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")
		sb.WriteString("    classDef failed fill:#ffcdd2,stroke:#b71c1c,stroke-width:4px,color:#000;\n")

		visited := make(map[string]bool)
		for _, id := range overlay.VisitedNodes {
			if _, ok := g.Node(id); !ok {
				continue
			}
			safeID := sanitizeMermaidID(id)
			if !visited[safeID] {
				visited[safeID] = true
				fmt.Fprintf(&sb, "    class %s visited;\n", safeID)
			}
		}
		if overlay.CurrentNode != "" {
			fmt.Fprintf(&sb, "    class %s current;\n", sanitizeMermaidID(overlay.CurrentNode))
		}
		if overlay.FailedNode != "" {
			fmt.Fprintf(&sb, "    class %s failed;\n", sanitizeMermaidID(overlay.FailedNode))
		}
	}

	return sb.String()
}

func shape(t domain.NodeType) (string, string) {
	switch {
	case t == domain.NodeTypeStart:
		return "((", "))"
	case t == domain.NodeTypeInput:
		return "[/", "/]"
	case t == domain.NodeTypeCondition:
		return "{", "}"
	case t == domain.NodeTypeAI:
		return "[[", "]]"
	case t == domain.NodeTypeSequence:
		return "([", "])"
	case t == domain.NodeTypeButton, t == domain.NodeTypeQuickReply, t == domain.NodeTypeCarouselItem:
		return ">", "]"
	}
	return "[", "]"
}

func escapeLabel(s string) string {
	return strings.ReplaceAll(s, "\"", "'")
}

func sanitizeMermaidID(id string) string {
	return strings.NewReplacer(".", "_", "-", "_", "/", "_", "\\", "_", ":", "_", " ", "_").Replace(id)
}
