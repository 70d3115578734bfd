package engine

import (
	"context"
	"errors"
	"time"

	"github.com/rendis/flowrun/internal/tools"
	"github.com/rendis/flowrun/pkg/schema"
)

// DurationKey is the output key holding a step's wall-clock duration in ms.
const DurationKey = "_duration"

// executeStep resolves the step input against the run scope, then looks up
// and dispatches the tool under the retry controller and timeout guard.
// Exactly one usage record is emitted, after the retry loop, whatever the
// outcome.
func (e *Engine) executeStep(ctx context.Context, run *workflowRun, step *schema.StepDefinition) (map[string]any, int, *schema.FlowError) {
	start := time.Now()

	var (
		def      tools.Definition
		out      map[string]any
		attempts int
	)

	input, err := e.resolver.Resolve(step.Input, run.scope.Snapshot())
	if err != nil {
		input = step.Input
	} else {
		attempts, err = WithRetry(ctx, step.Retry, func(ctx context.Context, attempt int) error {
			d, lerr := e.registry.Lookup(step.Tool)
			if lerr != nil {
				return lerr
			}
			def = d
			o, derr := WithTimeout(ctx, StepTimeout(step, e.cfg.DefaultTimeout), func(ctx context.Context) (map[string]any, error) {
				return e.registry.Dispatch(ctx, d, input)
			})
			if derr != nil {
				return derr
			}
			out = o
			return nil
		}, e.retryOptions(ctx, run, step)...)
	}

	elapsed := time.Since(start)
	if def.Name == "" {
		def.Name = step.Tool
	}
	e.logUsage(ctx, run, step, def, input, out, err, elapsed, attempts)
	e.metrics.recordTool(ctx, def.Name, string(def.Category), err == nil, elapsed)

	if err != nil {
		return nil, attempts, stepError(err, step.ID)
	}

	annotated := make(map[string]any, len(out)+1)
	for k, v := range out {
		annotated[k] = v
	}
	annotated[DurationKey] = elapsed.Milliseconds()
	return annotated, attempts, nil
}

func (e *Engine) retryOptions(ctx context.Context, run *workflowRun, step *schema.StepDefinition) []RetryOption {
	opts := []RetryOption{
		WithOnRetry(func(attempt int, delay time.Duration, err error) {
			e.logger.WarnContext(ctx, "step attempt failed, retrying",
				"step_id", step.ID,
				"tool", step.Tool,
				"attempt", attempt,
				"max_attempts", MaxAttempts(step.Retry),
				"delay_ms", delay.Milliseconds(),
				"error", err.Error(),
			)
			emit(ctx, e.observer, Event{
				Type:        schema.EventStepRetrying,
				ExecutionID: run.executionID,
				WorkflowID:  run.def.ID,
				StepID:      step.ID,
				Payload: map[string]any{
					"attempt":  attempt,
					"delay_ms": delay.Milliseconds(),
					"error":    schema.Message(err),
				},
			})
		}),
	}
	if e.cfg.SkipTerminalRetries {
		opts = append(opts, WithSkipTerminal())
	}
	return opts
}

// logUsage hands one record to the usage sink. Sink failures are logged and
// swallowed. The record is written even when the run context is cancelled.
func (e *Engine) logUsage(ctx context.Context, run *workflowRun, step *schema.StepDefinition, def tools.Definition, input any, out map[string]any, err error, elapsed time.Duration, attempts int) {
	rec := UsageRecord{
		ToolName:    def.Name,
		Category:    string(def.Category),
		WorkflowID:  run.def.ID,
		ExecutionID: run.executionID,
		StepID:      step.ID,
		Input:       input,
		Success:     err == nil,
		DurationMs:  elapsed.Milliseconds(),
		Attempts:    attempts,
		CreatedAt:   time.Now().UTC(),
	}
	if err != nil {
		msg := schema.Message(err)
		rec.Error = &msg
	} else {
		rec.Output = out
	}

	if serr := e.sink.LogUsage(context.WithoutCancel(ctx), rec); serr != nil {
		e.logger.WarnContext(ctx, "usage sink failed", "step_id", step.ID, "tool", def.Name, "error", serr.Error())
	}
}

// stepError returns err as a FlowError tagged with stepID. The original
// error value is not mutated.
func stepError(err error, stepID string) *schema.FlowError {
	var fe *schema.FlowError
	if errors.As(err, &fe) {
		cp := *fe
		cp.StepID = stepID
		return &cp
	}
	return schema.NewError(schema.ErrCodeToolExecution, err.Error()).WithStep(stepID).WithCause(err)
}
