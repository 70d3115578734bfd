package validation

import (
	"fmt"
	"strings"

	"github.com/rendis/flowrun/internal/expressions"
	"github.com/rendis/flowrun/pkg/schema"
)

// maxAttemptsWarning is the attempt count above which a retry policy is flagged.
const maxAttemptsWarning = 10

// validateSemantic checks what the JSON Schema cannot express: unique step
// IDs, registered tools, and template references that can never resolve.
// With unknownToolsWarn an unregistered tool is a warning instead of an error.
func validateSemantic(def *schema.WorkflowDefinition, lookup ToolLookup, unknownToolsWarn bool) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	seen := make(map[string]int, len(def.Steps))
	for i := range def.Steps {
		step := &def.Steps[i]
		path := fmt.Sprintf("steps[%d]", i)

		if first, dup := seen[step.ID]; dup {
			result.AddError(path+".id", schema.ErrCodeValidation,
				fmt.Sprintf("duplicate step id %q (first used by steps[%d])", step.ID, first))
		} else {
			seen[step.ID] = i
		}

		validateStep(def, step, path, seen, lookup, unknownToolsWarn, result)
	}
	return result
}

// validateStep checks one step. earlier holds the IDs of the steps before it
// plus its own ID.
func validateStep(def *schema.WorkflowDefinition, step *schema.StepDefinition, path string, earlier map[string]int, lookup ToolLookup, unknownToolsWarn bool, result *schema.ValidationResult) {
	if lookup != nil && step.Tool != "" && !lookup.Has(step.Tool) {
		msg := fmt.Sprintf("tool %q not registered", step.Tool)
		if unknownToolsWarn {
			result.AddWarning(path+".tool", schema.ErrCodeToolNotFound, msg+"; the step will fail when it runs")
		} else {
			result.AddError(path+".tool", schema.ErrCodeToolNotFound, msg)
		}
	}

	if !step.OnError.Valid() {
		result.AddError(path+".on_error", schema.ErrCodeValidation,
			fmt.Sprintf("on_error must be %q or %q, got %q", schema.OnErrorStop, schema.OnErrorContinue, step.OnError))
	}
	if step.Timeout < 0 {
		result.AddError(path+".timeout", schema.ErrCodeValidation, "timeout must not be negative")
	}
	if r := step.Retry; r != nil {
		if r.MaxAttempts < 0 || r.DelayMs < 0 {
			result.AddError(path+".retry", schema.ErrCodeValidation, "retry values must not be negative")
		}
		if r.MaxAttempts > maxAttemptsWarning {
			result.AddWarning(path+".retry.max_attempts", schema.ErrCodeValidation,
				fmt.Sprintf("max_attempts %d is unusually high; backoff grows linearly per attempt", r.MaxAttempts))
		}
	}

	if strings.Contains(step.ID, ".") {
		result.AddWarning(path+".id", schema.ErrCodeValidation,
			fmt.Sprintf("step id %q contains '.'; its output cannot be referenced by path", step.ID))
	}
	if _, ok := def.Variables[step.ID]; ok {
		result.AddWarning(path+".id", schema.ErrCodeValidation,
			fmt.Sprintf("step id %q shadows a workflow variable once the step completes", step.ID))
	}

	for _, ref := range expressions.References(step.Input) {
		root, _, _ := strings.Cut(ref, ".")
		if _, ok := def.Variables[root]; ok {
			continue
		}
		if _, ok := earlier[root]; ok && root != step.ID {
			continue
		}
		result.AddWarning(path+".input", schema.ErrCodeUnresolved,
			fmt.Sprintf("reference {{%s}} does not match a variable or an earlier step; it must come from run input", ref))
	}
}
