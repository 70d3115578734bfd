package schema

// WorkflowDefinition is the JSON/YAML-serializable workflow format.
// A definition is immutable for the duration of one run.
type WorkflowDefinition struct {
	ID          string           `json:"id" yaml:"id"`
	Name        string           `json:"name,omitempty" yaml:"name,omitempty"`
	Description string           `json:"description,omitempty" yaml:"description,omitempty"`
	Steps       []StepDefinition `json:"steps" yaml:"steps"`
	Variables   map[string]any   `json:"variables,omitempty" yaml:"variables,omitempty"`
}

// StepDefinition describes a single step in a workflow.
type StepDefinition struct {
	ID      string       `json:"id" yaml:"id"`
	Name    string       `json:"name,omitempty" yaml:"name,omitempty"`
	Tool    string       `json:"tool" yaml:"tool"`
	Input   any          `json:"input,omitempty" yaml:"input,omitempty"`       // template tree; may hold {{path}} anywhere
	OnError OnError      `json:"on_error,omitempty" yaml:"on_error,omitempty"` // stop | continue (default: stop)
	Retry   *RetryPolicy `json:"retry,omitempty" yaml:"retry,omitempty"`
	Timeout int64        `json:"timeout,omitempty" yaml:"timeout,omitempty"` // milliseconds (default: 30000)
}

// DisplayName returns the step name, falling back to its ID.
func (s *StepDefinition) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.ID
}

// OnError is the per-step failure policy.
type OnError string

const (
	OnErrorStop     OnError = "stop"
	OnErrorContinue OnError = "continue"
)

// Valid reports whether the policy is one the runner understands. Empty means stop.
func (o OnError) Valid() bool {
	switch o {
	case "", OnErrorStop, OnErrorContinue:
		return true
	default:
		return false
	}
}

// RetryPolicy configures retry behavior for a step.
type RetryPolicy struct {
	MaxAttempts int   `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty"` // total attempts (default: 1)
	DelayMs     int64 `json:"delay_ms,omitempty" yaml:"delay_ms,omitempty"`         // base backoff (default: 1000)
}

// Defaults applied when a step leaves them unset.
const (
	DefaultStepTimeoutMs = 30000
	DefaultMaxAttempts   = 1
	DefaultRetryDelayMs  = 1000
)
