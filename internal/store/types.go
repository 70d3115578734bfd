package store

import (
	"encoding/json"
	"time"

	"github.com/rendis/flowrun/pkg/schema"
)

// WorkflowRecord is a stored workflow definition.
type WorkflowRecord struct {
	ID          string                    `json:"id"`
	Name        string                    `json:"name,omitempty"`
	Description string                    `json:"description,omitempty"`
	Definition  schema.WorkflowDefinition `json:"definition"`
	CreatedAt   time.Time                 `json:"created_at"`
	UpdatedAt   time.Time                 `json:"updated_at"`
}

// ExecutionRecord is the persisted outcome of one run.
type ExecutionRecord struct {
	ID         string                  `json:"id"`
	WorkflowID string                  `json:"workflow_id,omitempty"`
	Input      map[string]any          `json:"input,omitempty"`
	Result     *schema.ExecutionResult `json:"result"`
	CreatedAt  time.Time               `json:"created_at"`
}

// ExecutionFilter narrows ListExecutions.
type ExecutionFilter struct {
	WorkflowID string
	Success    *bool
	Limit      int
}

// UsageFilter narrows ListUsage.
type UsageFilter struct {
	ExecutionID string
	ToolName    string
	Since       *time.Time
	Limit       int
}

// Event is an immutable entry in the run event journal.
type Event struct {
	ID          int64           `json:"id"`
	ExecutionID string          `json:"execution_id"`
	WorkflowID  string          `json:"workflow_id,omitempty"`
	StepID      string          `json:"step_id,omitempty"`
	Type        string          `json:"event_type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	Sequence    int64           `json:"sequence"`
}

// StepState is a step's state rebuilt from the event journal.
type StepState struct {
	StepID      string            `json:"step_id"`
	Status      schema.StepStatus `json:"status"`
	Retries     int               `json:"retries"`
	Error       string            `json:"error,omitempty"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	DurationMs  int64             `json:"duration_ms,omitempty"`
}
