package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeToolNotFound       = "TOOL_NOT_FOUND"
	ErrCodeToolNotImplemented = "TOOL_NOT_IMPLEMENTED"
	ErrCodeToolExecution      = "TOOL_EXECUTION_ERROR"
	ErrCodeTimeout            = "TIMEOUT_ERROR"
	ErrCodeUnresolved         = "UNRESOLVED_REFERENCE"
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeCancelled          = "CANCELLED"
	ErrCodeStore              = "STORE_ERROR"
)

// terminalCodes can never succeed on a later attempt with the same input.
var terminalCodes = map[string]bool{
	ErrCodeToolNotFound:       true,
	ErrCodeToolNotImplemented: true,
	ErrCodeUnresolved:         true,
	ErrCodeValidation:         true,
}

// FlowError is the structured error type for all flowrun operations.
type FlowError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	StepID  string         `json:"step_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *FlowError) Error() string {
	if e.StepID != "" {
		return fmt.Sprintf("[%s] step %s: %s", e.Code, e.StepID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *FlowError) Unwrap() error {
	return e.Cause
}

// IsTerminal reports whether retrying the same call is pointless.
func (e *FlowError) IsTerminal() bool {
	return terminalCodes[e.Code]
}

// NewError creates a new FlowError.
func NewError(code, message string) *FlowError {
	return &FlowError{Code: code, Message: message}
}

// NewErrorf creates a new FlowError with a formatted message.
func NewErrorf(code, format string, args ...any) *FlowError {
	return &FlowError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithStep attaches a step ID to the error.
func (e *FlowError) WithStep(stepID string) *FlowError {
	e.StepID = stepID
	return e
}

// WithCause attaches an underlying cause.
func (e *FlowError) WithCause(err error) *FlowError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *FlowError) WithDetails(details map[string]any) *FlowError {
	e.Details = details
	return e
}

// CodeOf returns the code of the first FlowError in err's chain, or "" if none.
func CodeOf(err error) string {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// IsTerminal reports whether err carries a terminal FlowError code.
func IsTerminal(err error) bool {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe.IsTerminal()
	}
	return false
}

// Message returns the human-readable message of err without the code prefix
// when err is a FlowError, else err.Error().
func Message(err error) string {
	if err == nil {
		return ""
	}
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe.Message
	}
	return err.Error()
}
