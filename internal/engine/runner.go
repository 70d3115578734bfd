package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/flowrun/internal/expressions"
	"github.com/rendis/flowrun/internal/logging"
	"github.com/rendis/flowrun/internal/tools"
	"github.com/rendis/flowrun/internal/validation"
	"github.com/rendis/flowrun/pkg/schema"
)

// DefaultMaxConcurrentRuns is the default bound on runs executing at once.
const DefaultMaxConcurrentRuns = 16

// Config holds engine settings.
type Config struct {
	DefaultTimeout      time.Duration // step timeout when a step sets none (0 = 30s)
	StrictTemplates     bool          // unresolved {{refs}} fail the step
	SkipTerminalRetries bool          // do not retry terminal error codes
	MaxConcurrentRuns   int           // concurrent Run calls (0 = DefaultMaxConcurrentRuns)
}

// Option configures optional engine collaborators.
type Option func(*Engine)

// WithUsageSink sets the usage sink. Defaults to NopSink.
func WithUsageSink(s UsageSink) Option {
	return func(e *Engine) {
		if s != nil {
			e.sink = s
		}
	}
}

// WithObserver sets the run event observer.
func WithObserver(o EventObserver) Option {
	return func(e *Engine) { e.observer = o }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics sets the metric instruments. Defaults to the global meter.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// Engine runs workflow definitions. It is safe for concurrent use; every run
// owns its scope, log and outputs.
type Engine struct {
	registry  *tools.Registry
	resolver  *expressions.Resolver
	validator *validation.WorkflowValidator // strict, for Validate
	runGate   *validation.WorkflowValidator // unknown tools fail their step instead
	pool      *RunPool
	sink      UsageSink
	observer  EventObserver
	logger    *slog.Logger
	metrics   *Metrics
	cfg       Config
}

// workflowRun is the state of a single in-flight run.
type workflowRun struct {
	executionID string
	def         *schema.WorkflowDefinition
	scope       *expressions.Scope
	result      *schema.ExecutionResult
	stepFSM     *StepFSM
}

// New creates an Engine dispatching to registry.
func New(registry *tools.Registry, cfg Config, opts ...Option) (*Engine, error) {
	if registry == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "engine requires a tool registry")
	}
	validator, err := validation.NewWorkflowValidator(registry)
	if err != nil {
		return nil, err
	}
	runGate, err := validation.NewWorkflowValidator(registry, validation.UnknownToolsAsWarnings())
	if err != nil {
		return nil, err
	}
	if cfg.MaxConcurrentRuns <= 0 {
		cfg.MaxConcurrentRuns = DefaultMaxConcurrentRuns
	}

	var ropts []expressions.ResolverOption
	if cfg.StrictTemplates {
		ropts = append(ropts, expressions.WithStrict())
	}

	e := &Engine{
		registry:  registry,
		resolver:  expressions.NewResolver(ropts...),
		validator: validator,
		runGate:   runGate,
		pool:      NewRunPool(cfg.MaxConcurrentRuns),
		sink:      NopSink{},
		logger:    slog.Default(),
		cfg:       cfg,
	}
	for _, o := range opts {
		o(e)
	}
	if e.metrics == nil {
		e.metrics = NewMetrics()
	}
	return e, nil
}

// Registry returns the engine's tool registry.
func (e *Engine) Registry() *tools.Registry { return e.registry }

// Validate checks def without running it. Unregistered tools are errors
// here; Run only reports them when the step executes.
func (e *Engine) Validate(def *schema.WorkflowDefinition) *schema.ValidationResult {
	return e.validator.Validate(def)
}

// PoolMetrics returns the run pool counters.
func (e *Engine) PoolMetrics() PoolMetrics { return e.pool.Metrics() }

// Shutdown stops accepting runs and waits for active ones to finish.
func (e *Engine) Shutdown() { e.pool.Shutdown() }

// Run executes def with input overriding its variables.
//
// An invalid definition returns a VALIDATION_ERROR and no result. A step
// naming an unregistered tool is not invalid: it fails with TOOL_NOT_FOUND
// when reached and follows its retry policy and on_error like any failure. Otherwise
// the result is always non-nil and describes success or failure; step
// failures are never returned as the error. A run that cannot start because
// ctx is done or the engine is shut down returns CANCELLED.
func (e *Engine) Run(ctx context.Context, def *schema.WorkflowDefinition, input map[string]any) (*schema.ExecutionResult, error) {
	if err := e.runGate.ValidateDefinition(def); err != nil {
		return nil, err
	}

	var result *schema.ExecutionResult
	err := e.pool.Do(ctx, func(ctx context.Context) error {
		result = e.run(ctx, def, input)
		if !result.Success {
			return errors.New(result.Error)
		}
		return nil
	})
	if result != nil {
		return result, nil
	}
	return nil, schema.NewErrorf(schema.ErrCodeCancelled, "run not started: %v", err).WithCause(err)
}

// RunAsync submits def to the run pool and calls done with the result from
// the pool goroutine. Validation happens synchronously.
func (e *Engine) RunAsync(ctx context.Context, def *schema.WorkflowDefinition, input map[string]any, done func(*schema.ExecutionResult)) error {
	if err := e.runGate.ValidateDefinition(def); err != nil {
		return err
	}
	return e.pool.Submit(ctx, func(ctx context.Context) error {
		result := e.run(ctx, def, input)
		if done != nil {
			done(result)
		}
		if !result.Success {
			return errors.New(result.Error)
		}
		return nil
	})
}

// Wait blocks until all runs submitted with RunAsync have finished.
func (e *Engine) Wait() { e.pool.Wait() }

func (e *Engine) run(ctx context.Context, def *schema.WorkflowDefinition, input map[string]any) *schema.ExecutionResult {
	run := &workflowRun{
		executionID: uuid.NewString(),
		def:         def,
		scope:       expressions.NewScope(def.Variables, input),
		stepFSM:     NewStepFSM(e.observer),
	}
	ctx = logging.WithIDs(ctx, run.executionID, def.ID)

	start := time.Now()
	run.result = &schema.ExecutionResult{
		ExecutionID: run.executionID,
		WorkflowID:  def.ID,
		Status:      schema.WorkflowStatusRunning,
		Outputs:     make(map[string]any),
		Log:         make([]schema.LogEntry, 0, len(def.Steps)),
		StartedAt:   start.UTC(),
	}

	wfFSM := NewWorkflowFSM(e.observer)
	base := Event{ExecutionID: run.executionID, WorkflowID: def.ID}
	e.transitionWorkflow(ctx, wfFSM, base, "", schema.WorkflowStatusRunning)
	e.logger.InfoContext(ctx, "workflow started", "steps", len(def.Steps))

	for i := range def.Steps {
		step := &def.Steps[i]
		if err := ctx.Err(); err != nil {
			ferr := schema.NewErrorf(schema.ErrCodeCancelled, "run cancelled before step %q: %v", step.ID, err).
				WithStep(step.ID).WithCause(err)
			e.fail(run, ferr)
			break
		}
		if stop := e.runStep(logging.WithStepID(ctx, step.ID), run, step); stop {
			break
		}
	}

	result := run.result
	result.DurationMs = time.Since(start).Milliseconds()
	if result.Status != schema.WorkflowStatusFailed {
		result.Success = true
		result.Status = schema.WorkflowStatusCompleted
	}

	ev := base
	ev.Payload = map[string]any{"duration_ms": result.DurationMs}
	if !result.Success {
		ev.Payload["error"] = result.Error
	}
	e.transitionWorkflow(ctx, wfFSM, ev, schema.WorkflowStatusRunning, result.Status)
	e.metrics.recordRun(ctx, result.Success)

	if result.Success {
		e.logger.InfoContext(ctx, "workflow completed", "duration_ms", result.DurationMs)
	} else {
		e.logger.ErrorContext(ctx, "workflow failed", "duration_ms", result.DurationMs, "error", result.Error)
	}
	return result
}

// runStep executes one step, records its outcome, and reports whether the
// run must stop.
func (e *Engine) runStep(ctx context.Context, run *workflowRun, step *schema.StepDefinition) bool {
	result := run.result
	result.Log = append(result.Log, schema.LogEntry{
		StepID:    step.ID,
		StepName:  step.DisplayName(),
		Tool:      step.Tool,
		Status:    schema.StepStatusRunning,
		Timestamp: time.Now().UTC(),
	})
	idx := len(result.Log) - 1

	ev := Event{ExecutionID: run.executionID, WorkflowID: run.def.ID, StepID: step.ID}
	e.transitionStep(ctx, run, ev, schema.StepStatusPending, schema.StepStatusRunning)
	e.logger.DebugContext(ctx, "step started", "tool", step.Tool)

	started := time.Now()
	out, attempts, err := e.executeStep(ctx, run, step)

	entry := &result.Log[idx]
	entry.Attempts = attempts
	entry.DurationMs = time.Since(started).Milliseconds()

	if err == nil {
		entry.Status = schema.StepStatusCompleted
		entry.Output = out
		e.record(ctx, run, step.ID, out)
		ev.Payload = map[string]any{"duration_ms": entry.DurationMs, "attempts": attempts}
		e.transitionStep(ctx, run, ev, schema.StepStatusRunning, schema.StepStatusCompleted)
		e.logger.InfoContext(ctx, "step completed", "tool", step.Tool, "duration_ms", entry.DurationMs, "attempts", attempts)
		return false
	}

	msg := schema.Message(err)
	entry.Status = schema.StepStatusFailed
	entry.Error = msg
	ev.Payload = map[string]any{"error": msg, "code": err.Code, "attempts": attempts}
	e.transitionStep(ctx, run, ev, schema.StepStatusRunning, schema.StepStatusFailed)

	if step.OnError == schema.OnErrorContinue {
		e.logger.WarnContext(ctx, "step failed, continuing", "tool", step.Tool, "code", err.Code, "error", msg)
		e.record(ctx, run, step.ID, map[string]any{"error": msg})
		return false
	}

	e.logger.ErrorContext(ctx, "step failed, stopping run", "tool", step.Tool, "code", err.Code, "error", msg)
	e.fail(run, err)
	return true
}

// record stores a step's output under its ID in both outputs and scope.
func (e *Engine) record(ctx context.Context, run *workflowRun, stepID string, out map[string]any) {
	run.result.Outputs[stepID] = out
	if err := run.scope.AddStepOutput(stepID, out); err != nil {
		e.logger.WarnContext(ctx, "scope rejected step output", "error", err.Error())
	}
}

func (e *Engine) fail(run *workflowRun, err *schema.FlowError) {
	run.result.Status = schema.WorkflowStatusFailed
	run.result.Error = err.Message
	run.result.ErrorCode = err.Code
}

func (e *Engine) transitionWorkflow(ctx context.Context, fsm *WorkflowFSM, ev Event, from, to schema.WorkflowStatus) {
	if err := fsm.Transition(ctx, ev, from, to); err != nil {
		e.logger.ErrorContext(ctx, "workflow transition rejected", "error", err.Error())
	}
}

func (e *Engine) transitionStep(ctx context.Context, run *workflowRun, ev Event, from, to schema.StepStatus) {
	if err := run.stepFSM.Transition(ctx, ev, from, to); err != nil {
		e.logger.ErrorContext(ctx, "step transition rejected", "error", err.Error())
	}
}
