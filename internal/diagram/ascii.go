package diagram

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// statusTag returns a short ASCII indicator for a status string.
func statusTag(status string) string {
	switch status {
	case "completed":
		return "[OK]"
	case "failed":
		return "[FAIL]"
	case "running":
		return "[RUN]"
	case "pending":
		return "[PEND]"
	default:
		return ""
	}
}

// RenderASCII renders a DiagramModel as a vertical chain of boxes for
// terminal output.
func RenderASCII(model *DiagramModel) string {
	var b strings.Builder

	if model.Title != "" {
		b.WriteString(fmt.Sprintf("=== %s ===\n\n", model.Title))
	}

	labels := make(map[string]string, len(model.Edges))
	for _, e := range model.Edges {
		labels[e.From] = e.Label
	}

	for i, node := range model.Nodes {
		for _, line := range makeBox(node) {
			b.WriteString(line)
			b.WriteByte('\n')
		}
		if i < len(model.Nodes)-1 {
			renderConnector(&b, labels[node.ID])
		}
	}
	return b.String()
}

// makeBox returns the lines of a box for a node.
func makeBox(node *Node) []string {
	content := strings.Split(node.Label, "\n")
	if node.Retries > 1 {
		content = append(content, fmt.Sprintf("retry x%d", node.Retries))
	}
	if s := node.Status; s != nil {
		if tag := statusTag(s.Status); tag != "" {
			content = append(content, tag)
		}
		if s.Attempts > 0 {
			content = append(content, fmt.Sprintf("%dms, %d attempt(s)", s.DurationMs, s.Attempts))
		}
		if s.Error != "" {
			content = append(content, truncate(s.Error, 48))
		}
	}

	maxLen := 0
	for _, line := range content {
		if n := utf8.RuneCountInString(line); n > maxLen {
			maxLen = n
		}
	}

	lines := make([]string, 0, len(content)+2)
	lines = append(lines, "┌"+strings.Repeat("─", maxLen+2)+"┐")
	for _, line := range content {
		pad := maxLen - utf8.RuneCountInString(line)
		lines = append(lines, "│ "+line+strings.Repeat(" ", pad)+" │")
	}
	lines = append(lines, "└"+strings.Repeat("─", maxLen+2)+"┘")
	return lines
}

// renderConnector draws a vertical arrow, labelled when the edge has one.
func renderConnector(b *strings.Builder, label string) {
	if label != "" {
		b.WriteString("  │ " + label + "\n")
	} else {
		b.WriteString("  │\n")
	}
	b.WriteString("  ▼\n")
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max-3]) + "..."
}
