package validation

import (
	"errors"
	"sync"
	"testing"

	"github.com/rendis/flowrun/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flowErr(t *testing.T, err error) *schema.FlowError {
	t.Helper()
	var fe *schema.FlowError
	require.True(t, errors.As(err, &fe), "expected FlowError, got %T", err)
	return fe
}

func TestNewJSONSchemaValidator(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)
	require.NotNil(t, v)
}

func TestValidateDefinition_Nil(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	err = v.ValidateDefinition(nil)
	assert.Equal(t, schema.ErrCodeValidation, flowErr(t, err).Code)
}

func TestValidateDefinition_FullValid(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	def := &schema.WorkflowDefinition{
		ID:        "wf-onboard",
		Name:      "Onboard lead",
		Variables: map[string]any{"email": "ada@x.io"},
		Steps: []schema.StepDefinition{
			{
				ID:      "create",
				Tool:    "create_contact",
				Input:   map[string]any{"email": "{{email}}"},
				OnError: schema.OnErrorContinue,
				Retry:   &schema.RetryPolicy{MaxAttempts: 3, DelayMs: 200},
				Timeout: 5000,
			},
			{ID: "notify", Tool: "webhook"},
		},
	}
	assert.NoError(t, v.ValidateDefinition(def))
}

func TestValidateDefinition_EmptySteps(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	err = v.ValidateDefinition(&schema.WorkflowDefinition{Steps: []schema.StepDefinition{}})
	assert.Equal(t, schema.ErrCodeValidation, flowErr(t, err).Code)
}

func TestValidateDefinition_StepMissingTool(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	err = v.ValidateDefinition(&schema.WorkflowDefinition{
		Steps: []schema.StepDefinition{{ID: "s1"}},
	})
	fe := flowErr(t, err)
	assert.Contains(t, fe.Details, "violations")
}

func TestValidateDefinition_BadOnError(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	err = v.ValidateDefinition(&schema.WorkflowDefinition{
		Steps: []schema.StepDefinition{{ID: "s1", Tool: "t", OnError: "retry-forever"}},
	})
	require.Error(t, err)
}

func TestValidateDefinition_NegativeNumbers(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	err = v.ValidateDefinition(&schema.WorkflowDefinition{
		Steps: []schema.StepDefinition{{ID: "s1", Tool: "t", Timeout: -1}},
	})
	require.Error(t, err)

	err = v.ValidateDefinition(&schema.WorkflowDefinition{
		Steps: []schema.StepDefinition{{ID: "s1", Tool: "t", Retry: &schema.RetryPolicy{DelayMs: -10}}},
	})
	require.Error(t, err)
}

func TestValidateDefinition_MultipleViolations(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	err = v.ValidateDefinition(&schema.WorkflowDefinition{
		Steps: []schema.StepDefinition{{ID: "s1"}, {Tool: "x", Timeout: -5}},
	})
	fe := flowErr(t, err)
	violations, ok := fe.Details["violations"].([]string)
	require.True(t, ok)
	assert.GreaterOrEqual(t, len(violations), 2)
}

func TestValidateInput_NilInput(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	err = v.ValidateInput(nil, []byte(`{"type": "object"}`))
	fe := flowErr(t, err)
	assert.Equal(t, schema.ErrCodeValidation, fe.Code)
	assert.Contains(t, fe.Message, "nil")
}

func TestValidateInput_EmptySchema(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	assert.NoError(t, v.ValidateInput(map[string]any{"foo": "bar"}, nil))
	assert.NoError(t, v.ValidateInput(map[string]any{"foo": "bar"}, []byte{}))
}

func TestValidateInput_RequiredAndTypes(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	inputSchema := []byte(`{
		"type": "object",
		"required": ["email", "score"],
		"properties": {
			"email": {"type": "string", "format": "email"},
			"score": {"type": "integer", "minimum": 0, "maximum": 100}
		}
	}`)

	assert.NoError(t, v.ValidateInput(map[string]any{"email": "ada@x.io", "score": 42}, inputSchema))

	err = v.ValidateInput(map[string]any{"email": "ada@x.io"}, inputSchema)
	assert.Equal(t, schema.ErrCodeValidation, flowErr(t, err).Code)

	err = v.ValidateInput(map[string]any{"email": "not-an-email", "score": 42}, inputSchema)
	require.Error(t, err)

	err = v.ValidateInput(map[string]any{"email": "ada@x.io", "score": 101}, inputSchema)
	require.Error(t, err)
}

func TestValidateInput_InvalidSchema(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	err = v.ValidateInput(map[string]any{}, []byte(`{not json`))
	fe := flowErr(t, err)
	assert.Contains(t, fe.Message, "invalid input schema")
}

func TestValidateInput_SchemaCaching(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	s := []byte(`{"type": "object", "properties": {"n": {"type": "number"}}}`)
	require.NoError(t, v.ValidateInput(map[string]any{"n": 1}, s))
	require.NoError(t, v.ValidateInput(map[string]any{"n": 2}, s))

	v.mu.RLock()
	defer v.mu.RUnlock()
	assert.Len(t, v.cache, 1)
}

func TestValidateInput_Concurrent(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	s := []byte(`{"type": "object", "required": ["id"]}`)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, v.ValidateInput(map[string]any{"id": i}, s))
		}(i)
	}
	wg.Wait()
}
