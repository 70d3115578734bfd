package schema

import (
	"fmt"
	"strings"
)

// Severity of a ValidationIssue. Only errors make a definition unrunnable.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// ValidationIssue locates one problem in a definition. Path uses the
// definition's JSON field names, e.g. "steps[2].retry.delay_ms".
type ValidationIssue struct {
	Path     string   `json:"path"`
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

func (i ValidationIssue) String() string {
	if i.Path == "" || i.Path == "/" {
		return i.Message
	}
	return i.Path + ": " + i.Message
}

// ValidationResult collects the issues found by every validation pass.
type ValidationResult struct {
	Errors   []ValidationIssue `json:"errors,omitempty"`
	Warnings []ValidationIssue `json:"warnings,omitempty"`
}

// Valid reports whether no error was recorded.
func (r *ValidationResult) Valid() bool { return len(r.Errors) == 0 }

func (r *ValidationResult) AddError(path, code, message string) {
	r.Errors = append(r.Errors, ValidationIssue{Path: path, Code: code, Message: message, Severity: SeverityError})
}

func (r *ValidationResult) AddWarning(path, code, message string) {
	r.Warnings = append(r.Warnings, ValidationIssue{Path: path, Code: code, Message: message, Severity: SeverityWarning})
}

// Merge appends other's issues. A nil other is ignored.
func (r *ValidationResult) Merge(other *ValidationResult) {
	if other != nil {
		r.Errors = append(r.Errors, other.Errors...)
		r.Warnings = append(r.Warnings, other.Warnings...)
	}
}

// ToError returns nil for a valid result, otherwise a VALIDATION_ERROR whose
// message names the first error and whose details carry every issue.
func (r *ValidationResult) ToError() error {
	if r.Valid() {
		return nil
	}

	var b strings.Builder
	b.WriteString(r.Errors[0].String())
	if n := len(r.Errors) - 1; n > 0 {
		fmt.Fprintf(&b, " (and %d more error", n)
		if n > 1 {
			b.WriteByte('s')
		}
		b.WriteByte(')')
	}

	return NewError(ErrCodeValidation, b.String()).WithDetails(map[string]any{
		"errors":   r.Errors,
		"warnings": r.Warnings,
	})
}
