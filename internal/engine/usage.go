package engine

import (
	"context"
	"time"
)

// UsageRecord is the audit row emitted once per step execution, after all
// retry attempts have finished.
type UsageRecord struct {
	ToolName    string    `json:"tool_name"`
	Category    string    `json:"category,omitempty"`
	WorkflowID  string    `json:"workflow_id"`
	ExecutionID string    `json:"execution_id"`
	StepID      string    `json:"step_id"`
	Input       any       `json:"input"`
	Output      any       `json:"output"`
	Success     bool      `json:"success"`
	Error       *string   `json:"error"`
	DurationMs  int64     `json:"duration_ms"`
	Attempts    int       `json:"attempts"`
	CreatedAt   time.Time `json:"created_at"`
}

// UsageSink receives usage records. Errors are logged by the engine and never
// abort a run. Implementations must tolerate concurrent callers.
type UsageSink interface {
	LogUsage(ctx context.Context, rec UsageRecord) error
}

// SinkFunc adapts a function to UsageSink.
type SinkFunc func(ctx context.Context, rec UsageRecord) error

// LogUsage calls f.
func (f SinkFunc) LogUsage(ctx context.Context, rec UsageRecord) error { return f(ctx, rec) }

// NopSink discards usage records.
type NopSink struct{}

// LogUsage does nothing.
func (NopSink) LogUsage(context.Context, UsageRecord) error { return nil }
