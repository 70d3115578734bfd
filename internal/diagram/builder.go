package diagram

import (
	"fmt"

	"github.com/rendis/flowrun/pkg/schema"
)

const (
	startID = "__start__"
	endID   = "__end__"
)

// Build converts a workflow definition into a DiagramModel. When runLog is
// non-nil each step is overlaid with its logged outcome; steps absent from
// the log are shown as pending.
func Build(def *schema.WorkflowDefinition, runLog []schema.LogEntry) (*DiagramModel, error) {
	if def == nil {
		return nil, fmt.Errorf("diagram: nil workflow definition")
	}

	var entries map[string]schema.LogEntry
	if runLog != nil {
		entries = make(map[string]schema.LogEntry, len(runLog))
		for _, e := range runLog {
			entries[e.StepID] = e // last entry per step wins
		}
	}

	model := &DiagramModel{Title: titleFromDef(def)}
	model.Nodes = append(model.Nodes, &Node{ID: startID, Label: "Start", Kind: NodeKindStart})

	prev := startID
	prevLabel := ""
	for i := range def.Steps {
		step := &def.Steps[i]
		node := stepToNode(step)
		if entries != nil {
			overlayStatus(node, entries)
		}
		model.Nodes = append(model.Nodes, node)
		model.Edges = append(model.Edges, Edge{From: prev, To: node.ID, Label: prevLabel})

		prev = node.ID
		prevLabel = ""
		if step.OnError == schema.OnErrorContinue {
			prevLabel = "continue on error"
		}
	}

	model.Nodes = append(model.Nodes, &Node{ID: endID, Label: "End", Kind: NodeKindEnd})
	model.Edges = append(model.Edges, Edge{From: prev, To: endID, Label: prevLabel})
	return model, nil
}

func stepToNode(step *schema.StepDefinition) *Node {
	n := &Node{
		ID:      step.ID,
		Label:   nodeLabel(step),
		Tool:    step.Tool,
		Kind:    kindForTool(step.Tool),
		OnError: string(step.OnError),
	}
	if step.Retry != nil && step.Retry.MaxAttempts > 1 {
		n.Retries = step.Retry.MaxAttempts
	}
	return n
}

func kindForTool(tool string) NodeKind {
	switch tool {
	case "condition":
		return NodeKindCondition
	case "delay", "schedule_next":
		return NodeKindWait
	default:
		return NodeKindTool
	}
}

func nodeLabel(step *schema.StepDefinition) string {
	name := step.DisplayName()
	if name == step.Tool {
		return name
	}
	return name + "\n" + step.Tool
}

func overlayStatus(node *Node, entries map[string]schema.LogEntry) {
	e, ok := entries[node.ID]
	if !ok {
		node.Status = &StatusOverlay{Status: string(schema.StepStatusPending)}
		return
	}
	node.Status = &StatusOverlay{
		Status:     string(e.Status),
		DurationMs: e.DurationMs,
		Attempts:   e.Attempts,
		Error:      e.Error,
	}
}

func titleFromDef(def *schema.WorkflowDefinition) string {
	if def.Name != "" {
		return def.Name
	}
	return def.ID
}
