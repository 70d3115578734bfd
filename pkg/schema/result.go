package schema

import "time"

// StepStatus represents the lifecycle state of a step.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
)

// WorkflowStatus represents the lifecycle state of a run.
type WorkflowStatus string

const (
	WorkflowStatusRunning   WorkflowStatus = "running"
	WorkflowStatusCompleted WorkflowStatus = "completed"
	WorkflowStatusFailed    WorkflowStatus = "failed"
)

// Event type constants emitted to run observers.
const (
	EventWorkflowStarted   = "workflow_started"
	EventWorkflowCompleted = "workflow_completed"
	EventWorkflowFailed    = "workflow_failed"
	EventStepStarted       = "step_started"
	EventStepCompleted     = "step_completed"
	EventStepFailed        = "step_failed"
	EventStepRetrying      = "step_retrying"
)

// LogEntry is the audit record of one attempted step. It is appended as
// running and updated in place when the step completes or fails.
type LogEntry struct {
	StepID     string     `json:"step_id"`
	StepName   string     `json:"step_name"`
	Tool       string     `json:"tool,omitempty"`
	Status     StepStatus `json:"status"`
	Timestamp  time.Time  `json:"timestamp"`
	Output     any        `json:"output,omitempty"`
	Error      string     `json:"error,omitempty"`
	DurationMs int64      `json:"duration_ms,omitempty"`
	Attempts   int        `json:"attempts,omitempty"`
}

// ExecutionResult is the sole value returned to whatever invoked a run.
type ExecutionResult struct {
	Success     bool           `json:"success"`
	ExecutionID string         `json:"execution_id"`
	WorkflowID  string         `json:"workflow_id,omitempty"`
	Status      WorkflowStatus `json:"status"`
	Outputs     map[string]any `json:"outputs"`
	Error       string         `json:"error,omitempty"`
	ErrorCode   string         `json:"error_code,omitempty"`
	Log         []LogEntry     `json:"log"`
	StartedAt   time.Time      `json:"started_at"`
	DurationMs  int64          `json:"duration_ms"`
}

// Entry returns the log entry for stepID, or nil if the step was never attempted.
func (r *ExecutionResult) Entry(stepID string) *LogEntry {
	for i := range r.Log {
		if r.Log[i].StepID == stepID {
			return &r.Log[i]
		}
	}
	return nil
}
