package validation

import (
	"errors"

	"github.com/rendis/flowrun/pkg/schema"
)

// WorkflowValidator checks shape first, then meaning. Semantic checks (step
// IDs, tool names, policies, template references) only run on a definition
// whose shape is valid.
type WorkflowValidator struct {
	shape *JSONSchemaValidator
	tools ToolLookup // nil skips tool existence checks

	unknownToolsWarn bool
}

// Option configures a WorkflowValidator.
type Option func(*WorkflowValidator)

// UnknownToolsAsWarnings downgrades unregistered tool names from errors to
// warnings. The engine uses it so an unknown tool fails only its own step,
// under that step's retry policy and on_error.
func UnknownToolsAsWarnings() Option {
	return func(wv *WorkflowValidator) { wv.unknownToolsWarn = true }
}

// NewWorkflowValidator returns a validator resolving tool names with lookup.
func NewWorkflowValidator(lookup ToolLookup, opts ...Option) (*WorkflowValidator, error) {
	shape, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	wv := &WorkflowValidator{shape: shape, tools: lookup}
	for _, o := range opts {
		o(wv)
	}
	return wv, nil
}

// Validate collects every error and warning for def.
func (wv *WorkflowValidator) Validate(def *schema.WorkflowDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if def == nil {
		result.AddError("/", schema.ErrCodeValidation, "workflow definition is nil")
		return result
	}

	for _, msg := range shapeViolations(wv.shape.ValidateDefinition(def)) {
		result.AddError("/", schema.ErrCodeValidation, msg)
	}
	if result.Valid() {
		result.Merge(validateSemantic(def, wv.tools, wv.unknownToolsWarn))
	}
	return result
}

// ValidateDefinition returns Validate's errors as a single VALIDATION_ERROR.
func (wv *WorkflowValidator) ValidateDefinition(def *schema.WorkflowDefinition) error {
	return wv.Validate(def).ToError()
}

func (wv *WorkflowValidator) ValidateInput(input map[string]any, inputSchema []byte) error {
	return wv.shape.ValidateInput(input, inputSchema)
}

func shapeViolations(err error) []string {
	if err == nil {
		return nil
	}
	var fe *schema.FlowError
	if !errors.As(err, &fe) {
		return []string{err.Error()}
	}
	if vs, ok := fe.Details["violations"].([]string); ok && len(vs) > 0 {
		return vs
	}
	return []string{fe.Message}
}
