package diagram

import (
	"fmt"
	"strconv"

	"github.com/awalterschulze/gographviz"
)

const dotGraphName = "workflow"

// RenderDOT renders a DiagramModel as Graphviz DOT source.
func RenderDOT(model *DiagramModel) (string, error) {
	g := gographviz.NewGraph()
	if err := g.SetName(dotGraphName); err != nil {
		return "", fmt.Errorf("diagram: dot graph: %w", err)
	}
	if err := g.SetDir(true); err != nil {
		return "", fmt.Errorf("diagram: dot graph: %w", err)
	}
	if err := g.AddAttr(dotGraphName, "rankdir", "TB"); err != nil {
		return "", fmt.Errorf("diagram: dot graph: %w", err)
	}
	if model.Title != "" {
		if err := g.AddAttr(dotGraphName, "label", strconv.Quote(model.Title)); err != nil {
			return "", fmt.Errorf("diagram: dot graph: %w", err)
		}
	}

	for _, node := range model.Nodes {
		if err := g.AddNode(dotGraphName, strconv.Quote(node.ID), dotNodeAttrs(node)); err != nil {
			return "", fmt.Errorf("diagram: dot node %s: %w", node.ID, err)
		}
	}
	for _, edge := range model.Edges {
		attrs := map[string]string{}
		if edge.Label != "" {
			attrs["label"] = strconv.Quote(edge.Label)
			attrs["style"] = "dashed"
		}
		if err := g.AddEdge(strconv.Quote(edge.From), strconv.Quote(edge.To), true, attrs); err != nil {
			return "", fmt.Errorf("diagram: dot edge %s -> %s: %w", edge.From, edge.To, err)
		}
	}
	return g.String(), nil
}

func dotNodeAttrs(node *Node) map[string]string {
	attrs := map[string]string{
		"label": strconv.Quote(displayLabel(node, "\n")),
		"shape": dotShape(node.Kind),
	}
	if node.Status != nil {
		fill, font := statusColors(node.Status.Status)
		if fill != "" {
			attrs["style"] = "filled"
			attrs["fillcolor"] = strconv.Quote(fill)
			attrs["fontcolor"] = strconv.Quote(font)
		}
	}
	return attrs
}

func dotShape(kind NodeKind) string {
	switch kind {
	case NodeKindCondition:
		return "diamond"
	case NodeKindWait:
		return "ellipse"
	case NodeKindStart, NodeKindEnd:
		return "circle"
	default:
		return "box"
	}
}

// statusColors returns fill and font colors for a step status.
func statusColors(status string) (fill, font string) {
	switch status {
	case "completed":
		return "#2d6a2d", "white"
	case "failed":
		return "#8b1a1a", "white"
	case "running":
		return "#1a5276", "white"
	case "pending":
		return "#d3d3d3", "black"
	default:
		return "", ""
	}
}
