package validation

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/rendis/flowrun/pkg/schema"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

const workflowSchemaURL = "https://flowrun.dev/schemas/workflow.json"

// workflowSchemaJSON is the JSON Schema for WorkflowDefinition structure.
const workflowSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://flowrun.dev/schemas/workflow.json",
  "type": "object",
  "required": ["steps"],
  "properties": {
    "id": { "type": "string" },
    "name": { "type": "string" },
    "description": { "type": "string" },
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/step" }
    },
    "variables": { "type": "object" }
  },
  "additionalProperties": false,
  "$defs": {
    "step": {
      "type": "object",
      "required": ["id", "tool"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "name": { "type": "string" },
        "tool": { "type": "string", "minLength": 1 },
        "input": {},
        "on_error": { "type": "string", "enum": ["stop", "continue"] },
        "retry": { "$ref": "#/$defs/retry" },
        "timeout": { "type": "integer", "minimum": 0 }
      },
      "additionalProperties": false
    },
    "retry": {
      "type": "object",
      "properties": {
        "max_attempts": { "type": "integer", "minimum": 0 },
        "delay_ms": { "type": "integer", "minimum": 0 }
      },
      "additionalProperties": false
    }
  }
}`

// JSONSchemaValidator checks definitions against the built-in workflow
// schema and step inputs against caller-supplied schemas (Draft 2020-12).
// Safe for concurrent use.
type JSONSchemaValidator struct {
	workflowSchema *jsonschema.Schema

	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema // sha256 of schema bytes -> compiled
}

// NewJSONSchemaValidator compiles the workflow schema.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	compiled, err := compileSchema(workflowSchemaURL, []byte(workflowSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("workflow schema: %w", err)
	}
	return &JSONSchemaValidator{
		workflowSchema: compiled,
		cache:          map[string]*jsonschema.Schema{},
	}, nil
}

// ValidateDefinition reports structural problems in def as one
// VALIDATION_ERROR whose details list every violation.
func (v *JSONSchemaValidator) ValidateDefinition(def *schema.WorkflowDefinition) error {
	if def == nil {
		return schema.NewError(schema.ErrCodeValidation, "workflow definition is nil")
	}
	return check(v.workflowSchema, def, "workflow definition")
}

// ValidateInput checks input against inputSchema. An empty schema accepts
// anything.
func (v *JSONSchemaValidator) ValidateInput(input map[string]any, inputSchema []byte) error {
	if input == nil {
		return schema.NewError(schema.ErrCodeValidation, "input is nil")
	}
	if len(inputSchema) == 0 {
		return nil
	}
	compiled, err := v.inputSchema(inputSchema)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "invalid input schema").WithCause(err)
	}
	return check(compiled, input, "input")
}

func (v *JSONSchemaValidator) inputSchema(raw []byte) (*jsonschema.Schema, error) {
	sum := sha256.Sum256(raw)
	key := hex.EncodeToString(sum[:])

	v.mu.RLock()
	compiled := v.cache[key]
	v.mu.RUnlock()
	if compiled != nil {
		return compiled, nil
	}

	compiled, err := compileSchema("flowrun://input/"+key, raw)
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if existing := v.cache[key]; existing != nil {
		return existing, nil
	}
	v.cache[key] = compiled
	return compiled, nil
}

// compileSchema compiles raw on a private compiler so resources from
// different schemas never collide.
func compileSchema(url string, raw []byte) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	return c.Compile(url)
}

// check validates value against s. The value is re-encoded first because the
// validator expects json.Number for numerics.
func check(s *jsonschema.Schema, value any, what string) error {
	b, err := json.Marshal(value)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "encode %s", what).WithCause(err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(b))
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "decode %s", what).WithCause(err)
	}

	err = s.Validate(doc)
	if err == nil {
		return nil
	}
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := leafViolations(verr)
	msg := verr.Error()
	switch len(violations) {
	case 0:
	case 1:
		msg = violations[0]
	default:
		msg = fmt.Sprintf("%s has %d schema violations", what, len(violations))
	}
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// leafViolations flattens the cause tree into "/path: message" lines, in
// the order the validator reported them.
func leafViolations(root *jsonschema.ValidationError) []string {
	var out []string
	stack := []*jsonschema.ValidationError{root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if len(n.Causes) > 0 {
			for i := len(n.Causes) - 1; i >= 0; i-- {
				stack = append(stack, n.Causes[i])
			}
			continue
		}
		out = append(out, "/"+strings.Join(n.InstanceLocation, "/")+": "+n.Error())
	}
	return out
}
