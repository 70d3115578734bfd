package mcp

import (
	"context"
	"sync"

	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/flowrun/internal/engine"
)

// RunNotifier forwards engine run events to the MCP client whose tool call
// started the run, as notifications/message. Runs not started from an MCP
// session are ignored.
type RunNotifier struct {
	mu        sync.RWMutex
	mcpServer *server.MCPServer
}

var _ engine.EventObserver = (*RunNotifier)(nil)

// NewRunNotifier creates an unbound notifier. NewFlowServer binds it.
func NewRunNotifier() *RunNotifier { return &RunNotifier{} }

func (n *RunNotifier) bind(s *server.MCPServer) {
	n.mu.Lock()
	n.mcpServer = s
	n.mu.Unlock()
}

// OnEvent sends ev to the client session carried by ctx. Best-effort.
func (n *RunNotifier) OnEvent(ctx context.Context, ev engine.Event) {
	n.mu.RLock()
	srv := n.mcpServer
	n.mu.RUnlock()
	if srv == nil || server.ClientSessionFromContext(ctx) == nil {
		return
	}

	data := map[string]any{
		"event":        ev.Type,
		"execution_id": ev.ExecutionID,
		"workflow_id":  ev.WorkflowID,
	}
	if ev.StepID != "" {
		data["step_id"] = ev.StepID
	}
	for k, v := range ev.Payload {
		data[k] = v
	}
	_ = srv.SendNotificationToClient(ctx, "notifications/message", map[string]any{
		"level":  "info",
		"logger": "flowrun",
		"data":   data,
	})
}
