package diagram

// NodeKind classifies a diagram node.
type NodeKind string

const (
	NodeKindTool      NodeKind = "tool"
	NodeKindCondition NodeKind = "condition"
	NodeKindWait      NodeKind = "wait"
	NodeKindStart     NodeKind = "start"
	NodeKindEnd       NodeKind = "end"
)

// Format names an output format accepted by Render.
type Format string

const (
	FormatMermaid Format = "mermaid"
	FormatDOT     Format = "dot"
	FormatASCII   Format = "ascii"
	FormatPNG     Format = "png"
)

// DiagramModel is the intermediate representation used by all renderers.
// Nodes are in execution order, start first and end last.
type DiagramModel struct {
	Title string
	Nodes []*Node
	Edges []Edge
}

// Node is a single step (or a start/end marker).
type Node struct {
	ID      string
	Label   string
	Tool    string
	Kind    NodeKind
	OnError string
	Retries int // max_attempts above one
	Status  *StatusOverlay
}

// StatusOverlay carries the outcome of a step in one run.
type StatusOverlay struct {
	Status     string // from schema.StepStatus
	DurationMs int64
	Attempts   int
	Error      string
}

// Edge connects two consecutive nodes.
type Edge struct {
	From  string
	To    string
	Label string
}
