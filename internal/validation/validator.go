package validation

import "github.com/rendis/flowrun/pkg/schema"

// Validator checks workflow definitions for correctness before execution.
// Uses JSON Schema Draft 2020-12 for structure and input validation.
type Validator interface {
	ValidateDefinition(def *schema.WorkflowDefinition) error
	ValidateInput(input map[string]any, inputSchema []byte) error
}

// ToolLookup reports whether a tool name is known. Satisfied by *tools.Registry.
type ToolLookup interface {
	Has(name string) bool
}
