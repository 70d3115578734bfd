package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/flowrun/internal/engine"
	"github.com/rendis/flowrun/internal/store"
)

// FlowServerDeps holds the dependencies for creating a FlowServer.
type FlowServerDeps struct {
	Engine *engine.Engine
	// Store is optional. Without it workflow_id and execution_id arguments
	// are rejected and runs are not recorded.
	Store store.Store
	// Notifier, when also installed as an engine observer, forwards run
	// events to the MCP client that started the run.
	Notifier *RunNotifier
	Logger   *slog.Logger
}

// FlowServer wraps an MCP server with flowrun tool handlers.
type FlowServer struct {
	engine    *engine.Engine
	store     store.Store
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewFlowServer creates a FlowServer with all tools registered.
func NewFlowServer(deps FlowServerDeps) *FlowServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &FlowServer{
		engine: deps.Engine,
		store:  deps.Store,
		logger: logger,
	}

	mcpSrv := server.NewMCPServer(
		"flowrun",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithLogging(),
		server.WithRecovery(),
		server.WithInstructions("flowrun executes linear tool workflows. Use flowrun.tools to discover tools, flowrun.validate to check a definition, flowrun.run to execute it, and flowrun.diagram to visualize a workflow or a finished run."),
	)
	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv

	if deps.Notifier != nil {
		deps.Notifier.bind(mcpSrv)
	}
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *FlowServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *FlowServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *FlowServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: validateTool(), Handler: s.handleValidate},
		{Tool: toolsTool(), Handler: s.handleTools},
		{Tool: diagramTool(), Handler: s.handleDiagram},
	}
}
