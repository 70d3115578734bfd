package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rendis/flowrun/internal/diagram"
	"github.com/rendis/flowrun/internal/store"
	"github.com/rendis/flowrun/pkg/schema"
)

// handleRun executes an inline workflow or a stored one by workflow_id.
func (s *FlowServer) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	def, errResult := s.definitionArg(ctx, req)
	if errResult != nil {
		return errResult, nil
	}
	input := mcp.ParseStringMap(req, "input", nil)

	// A started run always finishes; a client that goes away does not cut it short.
	ctx = context.WithoutCancel(ctx)
	result, err := s.engine.Run(ctx, def, input)
	if err != nil {
		return flowErrorResult(err), nil
	}

	if s.store != nil {
		rec := &store.ExecutionRecord{ID: result.ExecutionID, WorkflowID: def.ID, Input: input, Result: result}
		if serr := s.store.SaveExecution(ctx, rec); serr != nil {
			s.logger.WarnContext(ctx, "failed to persist execution", "execution_id", result.ExecutionID, "error", serr.Error())
		}
	}
	return marshalResult(result)
}

// handleValidate checks a definition without running it.
func (s *FlowServer) handleValidate(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	def, err := decodeDefinition(mcp.ParseStringMap(req, "workflow", nil))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	vr := s.engine.Validate(def)
	return marshalResult(map[string]any{
		"valid":    vr.Valid(),
		"errors":   nonNil(vr.Errors),
		"warnings": nonNil(vr.Warnings),
	})
}

// handleTools lists the registered tools, optionally filtered by category.
func (s *FlowServer) handleTools(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	category := req.GetString("category", "")
	all := s.engine.Registry().List()
	defs := all[:0:0]
	for _, d := range all {
		if category == "" || string(d.Category) == category {
			defs = append(defs, d)
		}
	}
	return marshalResult(map[string]any{"tools": defs, "count": len(defs)})
}

// handleDiagram renders a workflow, optionally overlaid with a stored run's
// step statuses.
func (s *FlowServer) handleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	format := diagram.Format(req.GetString("format", string(diagram.FormatMermaid)))
	switch format {
	case diagram.FormatMermaid, diagram.FormatDOT, diagram.FormatASCII, diagram.FormatPNG:
	default:
		return mcp.NewToolResultError("format must be mermaid, dot, ascii, or png"), nil
	}

	var runLog []schema.LogEntry
	var def *schema.WorkflowDefinition
	if execID := req.GetString("execution_id", ""); execID != "" {
		if s.store == nil {
			return mcp.NewToolResultError("execution_id requires a configured store"), nil
		}
		exec, err := s.store.GetExecution(ctx, execID)
		if err != nil {
			return flowErrorResult(err), nil
		}
		if exec.Result != nil {
			runLog = exec.Result.Log
		}
		wf, err := s.store.GetWorkflow(ctx, exec.WorkflowID)
		if err == nil {
			def = &wf.Definition
		} else if mcp.ParseStringMap(req, "workflow", nil) == nil && req.GetString("workflow_id", "") == "" {
			return mcp.NewToolResultError(fmt.Sprintf("workflow %q of execution %q is not stored; pass workflow", exec.WorkflowID, execID)), nil
		}
	}
	if def == nil {
		d, errResult := s.definitionArg(ctx, req)
		if errResult != nil {
			return errResult, nil
		}
		def = d
	}

	model, err := diagram.Build(def, runLog)
	if err != nil {
		return flowErrorResult(err), nil
	}
	out, err := diagram.Render(ctx, model, format)
	if err != nil {
		return flowErrorResult(err), nil
	}
	if format == diagram.FormatPNG {
		return mcp.NewToolResultImage(model.Title, base64.StdEncoding.EncodeToString(out), "image/png"), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

// definitionArg reads the "workflow" object argument, falling back to a
// stored definition named by "workflow_id". A non-nil result is the error to
// return to the client.
func (s *FlowServer) definitionArg(ctx context.Context, req mcp.CallToolRequest) (*schema.WorkflowDefinition, *mcp.CallToolResult) {
	if raw := mcp.ParseStringMap(req, "workflow", nil); raw != nil {
		def, err := decodeDefinition(raw)
		if err != nil {
			return nil, mcp.NewToolResultError(err.Error())
		}
		return def, nil
	}
	id := req.GetString("workflow_id", "")
	if id == "" {
		return nil, mcp.NewToolResultError("one of workflow or workflow_id is required")
	}
	if s.store == nil {
		return nil, mcp.NewToolResultError("workflow_id requires a configured store")
	}
	wf, err := s.store.GetWorkflow(ctx, id)
	if err != nil {
		return nil, flowErrorResult(err)
	}
	return &wf.Definition, nil
}

func decodeDefinition(raw map[string]any) (*schema.WorkflowDefinition, error) {
	if raw == nil {
		return nil, errors.New("workflow is required")
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid workflow: %w", err)
	}
	var def schema.WorkflowDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("invalid workflow: %w", err)
	}
	return &def, nil
}

// flowErrorResult reports err to the client as a structured error payload.
func flowErrorResult(err error) *mcp.CallToolResult {
	body := map[string]any{"code": schema.CodeOf(err), "message": schema.Message(err)}
	var fe *schema.FlowError
	if errors.As(err, &fe) && len(fe.Details) > 0 {
		body["details"] = fe.Details
	}
	data, merr := json.Marshal(map[string]any{"error": body})
	if merr != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultError(string(data))
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func runTool() mcp.Tool {
	return mcp.NewTool("flowrun.run",
		mcp.WithDescription("Execute a workflow and return its execution result: success flag, per-step outputs, and the step log"),
		mcp.WithObject("workflow", mcp.Description("Inline workflow definition: {id, name, steps: [{id, tool, input, on_error, retry, timeout}], variables}")),
		mcp.WithString("workflow_id", mcp.Description("ID of a stored workflow to run instead of an inline definition")),
		mcp.WithObject("input", mcp.Description("Variables overriding the workflow's defaults")),
	)
}

func validateTool() mcp.Tool {
	return mcp.NewTool("flowrun.validate",
		mcp.WithDescription("Validate a workflow definition without running it. Returns errors and warnings"),
		mcp.WithObject("workflow", mcp.Required(), mcp.Description("Workflow definition to validate")),
	)
}

func toolsTool() mcp.Tool {
	return mcp.NewTool("flowrun.tools",
		mcp.WithDescription("List the tools workflow steps can call"),
		mcp.WithString("category", mcp.Description("Only list tools in this category")),
	)
}

func diagramTool() mcp.Tool {
	return mcp.NewTool("flowrun.diagram",
		mcp.WithDescription("Generate a diagram of a workflow. Returns Mermaid, Graphviz DOT, ASCII art, or a PNG image"),
		mcp.WithObject("workflow", mcp.Description("Inline workflow definition")),
		mcp.WithString("workflow_id", mcp.Description("ID of a stored workflow")),
		mcp.WithString("execution_id", mcp.Description("Stored execution whose step statuses are overlaid on the diagram")),
		mcp.WithString("format",
			mcp.Enum("mermaid", "dot", "ascii", "png"),
			mcp.Description("Output format (default: mermaid)"),
		),
	)
}
