package diagram

import (
	"fmt"
	"strings"
)

// mermaidShapes holds the opening and closing brackets per node kind.
var mermaidShapes = map[NodeKind][2]string{
	NodeKindCondition: {"{", "}"},
	NodeKindWait:      {"([", "])"},
	NodeKindStart:     {"((", "))"},
	NodeKindEnd:       {"((", "))"},
}

var mermaidClasses = []struct{ name, style string }{
	{"completed", "fill:#2d6a2d,stroke:#1a4a1a,color:#fff"},
	{"failed", "fill:#8b1a1a,stroke:#5c0e0e,color:#fff"},
	{"running", "fill:#1a5276,stroke:#0e3a52,color:#fff"},
	{"pending", "fill:#6b6b6b,stroke:#4a4a4a,color:#fff"},
}

var mermaidIDReplacer = strings.NewReplacer(".", "_", "-", "_", " ", "_")

// RenderMermaid renders model as a top-down Mermaid flowchart. Nodes with a
// run status get the matching class.
func RenderMermaid(model *DiagramModel) string {
	var b strings.Builder
	line := func(format string, args ...any) {
		b.WriteString("    ")
		fmt.Fprintf(&b, format, args...)
		b.WriteByte('\n')
	}

	b.WriteString("graph TD\n")
	if model.Title != "" {
		line("%%%% %s", model.Title)
	}
	for _, n := range model.Nodes {
		shape, ok := mermaidShapes[n.Kind]
		if !ok {
			shape = [2]string{"[", "]"}
		}
		line("%s%s\"%s\"%s", mermaidSafeID(n.ID), shape[0], mermaidEscapeLabel(displayLabel(n, "<br/>")), shape[1])
	}
	for _, e := range model.Edges {
		arrow := "-->"
		if e.Label != "" {
			arrow += "|" + e.Label + "|"
		}
		line("%s %s %s", mermaidSafeID(e.From), arrow, mermaidSafeID(e.To))
	}

	b.WriteByte('\n')
	known := make(map[string]bool, len(mermaidClasses))
	for _, c := range mermaidClasses {
		line("classDef %s %s", c.name, c.style)
		known[c.name] = true
	}
	for _, n := range model.Nodes {
		if n.Status != nil && known[n.Status.Status] {
			line("class %s %s", mermaidSafeID(n.ID), n.Status.Status)
		}
	}
	return b.String()
}

// displayLabel is the node label plus retry and run details, one per line,
// joined with sep.
func displayLabel(node *Node, sep string) string {
	parts := strings.Split(node.Label, "\n")
	if node.Retries > 1 {
		parts = append(parts, fmt.Sprintf("retry x%d", node.Retries))
	}
	if s := node.Status; s != nil && s.Attempts > 0 {
		parts = append(parts, fmt.Sprintf("%s in %dms (%d attempts)", s.Status, s.DurationMs, s.Attempts))
	}
	return strings.Join(parts, sep)
}

func mermaidSafeID(id string) string { return mermaidIDReplacer.Replace(id) }

// mermaidEscapeLabel escapes the quote that would end a Mermaid label.
func mermaidEscapeLabel(s string) string {
	return strings.ReplaceAll(s, `"`, "#quot;")
}
