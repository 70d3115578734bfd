package logging

import (
	"context"
	"log/slog"
)

// ids are the correlation identifiers a run carries through its context.
type ids struct {
	execution string
	workflow  string
	step      string
}

type idsKey struct{}

func idsFrom(ctx context.Context) ids {
	v, _ := ctx.Value(idsKey{}).(ids)
	return v
}

func withIDs(ctx context.Context, set func(*ids)) context.Context {
	v := idsFrom(ctx)
	set(&v)
	return context.WithValue(ctx, idsKey{}, v)
}

func WithExecutionID(ctx context.Context, id string) context.Context {
	return withIDs(ctx, func(v *ids) { v.execution = id })
}

func WithWorkflowID(ctx context.Context, id string) context.Context {
	return withIDs(ctx, func(v *ids) { v.workflow = id })
}

// WithStepID scopes ctx to one step of the current run.
func WithStepID(ctx context.Context, id string) context.Context {
	return withIDs(ctx, func(v *ids) { v.step = id })
}

// WithIDs tags ctx with a run's execution and workflow IDs.
func WithIDs(ctx context.Context, executionID, workflowID string) context.Context {
	return withIDs(ctx, func(v *ids) {
		v.execution = executionID
		v.workflow = workflowID
	})
}

func ExecutionID(ctx context.Context) string { return idsFrom(ctx).execution }
func WorkflowID(ctx context.Context) string  { return idsFrom(ctx).workflow }
func StepID(ctx context.Context) string      { return idsFrom(ctx).step }

func (v ids) attrs() []slog.Attr {
	var out []slog.Attr
	for _, a := range [...]struct{ key, val string }{
		{"execution_id", v.execution},
		{"workflow_id", v.workflow},
		{"step_id", v.step},
	} {
		if a.val != "" {
			out = append(out, slog.String(a.key, a.val))
		}
	}
	return out
}

// LogWith binds the correlation IDs in ctx to logger. Empty IDs are omitted.
func LogWith(ctx context.Context, logger *slog.Logger) *slog.Logger {
	attrs := idsFrom(ctx).attrs()
	if len(attrs) == 0 {
		return logger
	}
	args := make([]any, len(attrs))
	for i, a := range attrs {
		args[i] = a
	}
	return logger.With(args...)
}

// CorrelationHandler adds the correlation IDs from the record's context to
// every record, so plain logger.InfoContext calls are tagged.
type CorrelationHandler struct {
	slog.Handler
}

func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{Handler: inner}
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(idsFrom(ctx).attrs()...)
	return h.Handler.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{Handler: h.Handler.WithGroup(name)}
}
