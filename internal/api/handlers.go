package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/rendis/flowrun/internal/store"
	"github.com/rendis/flowrun/pkg/schema"
)

// runRequest is the body of POST /v1/runs.
type runRequest struct {
	Workflow *schema.WorkflowDefinition `json:"workflow"`
	Input    map[string]any             `json:"input,omitempty"`
}

// storedRunRequest is the body of POST /v1/workflows/:id/run.
type storedRunRequest struct {
	Input map[string]any `json:"input,omitempty"`
}

type validateResponse struct {
	Valid    bool                     `json:"valid"`
	Errors   []schema.ValidationIssue `json:"errors"`
	Warnings []schema.ValidationIssue `json:"warnings"`
}

type saveWorkflowResponse struct {
	Workflow *store.WorkflowRecord    `json:"workflow"`
	Warnings []schema.ValidationIssue `json:"warnings,omitempty"`
}

// Health reports liveness and run pool counters.
// (GET /healthz)
func (s *Server) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status": "ok",
		"pool":   s.deps.Engine.PoolMetrics(),
	})
}

// RunWorkflow runs an inline definition.
// (POST /v1/runs)
func (s *Server) RunWorkflow(c echo.Context) error {
	var req runRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	if req.Workflow == nil {
		return schema.NewError(schema.ErrCodeValidation, "workflow is required")
	}
	return s.idempotent(c, "runs", func() (int, any, error) {
		return s.execute(c.Request().Context(), req.Workflow, req.Input)
	})
}

// RunStoredWorkflow runs a definition from the library.
// (POST /v1/workflows/:id/run)
func (s *Server) RunStoredWorkflow(c echo.Context) error {
	id := c.Param("id")
	var req storedRunRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
		}
	}
	return s.idempotent(c, "workflow:"+id, func() (int, any, error) {
		ctx := c.Request().Context()
		wf, err := s.store.GetWorkflow(ctx, id)
		if err != nil {
			return 0, nil, err
		}
		return s.execute(ctx, &wf.Definition, req.Input)
	})
}

// execute runs def and records the result. A failed run is still a 200: the
// result body carries success=false. The run is detached from ctx
// cancellation so a disconnecting client never leaves it half done.
func (s *Server) execute(ctx context.Context, def *schema.WorkflowDefinition, input map[string]any) (int, any, error) {
	ctx = context.WithoutCancel(ctx)
	result, err := s.deps.Engine.Run(ctx, def, input)
	if err != nil {
		return 0, nil, err
	}
	if s.store != nil {
		rec := &store.ExecutionRecord{Result: result, Input: input}
		if err := s.store.SaveExecution(ctx, rec); err != nil {
			s.log.WarnContext(ctx, "execution not recorded", "execution_id", result.ExecutionID, "error", err.Error())
		}
	}
	return http.StatusOK, result, nil
}

// ValidateWorkflow checks a definition without running it.
// (POST /v1/validate)
func (s *Server) ValidateWorkflow(c echo.Context) error {
	var def schema.WorkflowDefinition
	if err := c.Bind(&def); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	vr := s.deps.Engine.Validate(&def)
	return c.JSON(http.StatusOK, validateResponse{
		Valid:    vr.Valid(),
		Errors:   nonNil(vr.Errors),
		Warnings: nonNil(vr.Warnings),
	})
}

// ListTools returns the registered tool catalogue.
// (GET /v1/tools)
func (s *Server) ListTools(c echo.Context) error {
	defs := s.deps.Engine.Registry().List()
	return c.JSON(http.StatusOK, map[string]any{"tools": defs, "count": len(defs)})
}

// SaveWorkflow validates and stores a definition. A missing id is generated.
// (POST /v1/workflows)
func (s *Server) SaveWorkflow(c echo.Context) error {
	var def schema.WorkflowDefinition
	if err := c.Bind(&def); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	if def.ID == "" {
		def.ID = uuid.NewString()
	}

	vr := s.deps.Engine.Validate(&def)
	if err := vr.ToError(); err != nil {
		return err
	}

	rec := &store.WorkflowRecord{
		ID:          def.ID,
		Name:        def.Name,
		Description: def.Description,
		Definition:  def,
	}
	if err := s.store.SaveWorkflow(c.Request().Context(), rec); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, saveWorkflowResponse{Workflow: rec, Warnings: vr.Warnings})
}

// GetWorkflow returns a stored definition.
// (GET /v1/workflows/:id)
func (s *Server) GetWorkflow(c echo.Context) error {
	wf, err := s.store.GetWorkflow(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, wf)
}

// ListWorkflows returns stored definitions, newest first.
// (GET /v1/workflows?limit=N)
func (s *Server) ListWorkflows(c echo.Context) error {
	var limit int
	if err := echo.QueryParamsBinder(c).Int("limit", &limit).BindError(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	wfs, err := s.store.ListWorkflows(c.Request().Context(), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"workflows": nonNil(wfs), "count": len(wfs)})
}

// DeleteWorkflow removes a stored definition.
// (DELETE /v1/workflows/:id)
func (s *Server) DeleteWorkflow(c echo.Context) error {
	if err := s.store.DeleteWorkflow(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// GetExecution returns a recorded run.
// (GET /v1/executions/:id)
func (s *Server) GetExecution(c echo.Context) error {
	rec, err := s.store.GetExecution(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rec)
}

// ListExecutions returns recorded runs, newest first.
// (GET /v1/executions?workflow_id=X&success=true&limit=N)
func (s *Server) ListExecutions(c echo.Context) error {
	var filter store.ExecutionFilter
	var success string
	err := echo.QueryParamsBinder(c).
		String("workflow_id", &filter.WorkflowID).
		String("success", &success).
		Int("limit", &filter.Limit).
		BindError()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	switch success {
	case "":
	case "true", "false":
		v := success == "true"
		filter.Success = &v
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "success must be true or false")
	}

	recs, err := s.store.ListExecutions(c.Request().Context(), filter)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"executions": nonNil(recs), "count": len(recs)})
}

// GetExecutionEvents returns a run's event journal and the step states
// replayed from it.
// (GET /v1/executions/:id/events?since=N)
func (s *Server) GetExecutionEvents(c echo.Context) error {
	var since int64
	if err := echo.QueryParamsBinder(c).Int64("since", &since).BindError(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	el := s.deps.Events
	if el == nil {
		el = store.NewEventLog(s.store, s.log)
	}

	ctx := c.Request().Context()
	id := c.Param("id")
	events, err := el.Events(ctx, id, since)
	if err != nil {
		return err
	}
	steps, err := el.ReplaySteps(ctx, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"events": nonNil(events), "steps": steps})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
