package validation

import (
	"sync"
	"testing"

	"github.com/rendis/flowrun/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkflowValidator_ImplementsValidator(t *testing.T) {
	var _ Validator = (*WorkflowValidator)(nil)
}

func TestWorkflowValidator_FullValid(t *testing.T) {
	wv, err := NewWorkflowValidator(newMockLookup("http_request", "parse_json"))
	require.NoError(t, err)

	def := &schema.WorkflowDefinition{
		Steps: []schema.StepDefinition{
			{ID: "fetch", Tool: "http_request", Input: map[string]any{"url": "https://x.io"}},
			{ID: "parse", Tool: "parse_json", Input: map[string]any{"text": "{{fetch.body}}"}},
		},
	}
	result := wv.Validate(def)
	assert.True(t, result.Valid())
	assert.Empty(t, result.Errors)
	assert.Empty(t, result.Warnings)
}

func TestWorkflowValidator_NilDef(t *testing.T) {
	wv, err := NewWorkflowValidator(nil)
	require.NoError(t, err)

	result := wv.Validate(nil)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0].Message, "nil")
}

func TestWorkflowValidator_StructuralFailShortCircuits(t *testing.T) {
	wv, err := NewWorkflowValidator(newMockLookup())
	require.NoError(t, err)

	// Missing tool fails the schema; the unknown-tool semantic check never runs.
	def := &schema.WorkflowDefinition{Steps: []schema.StepDefinition{{ID: "s1"}}}
	result := wv.Validate(def)
	require.False(t, result.Valid())
	for _, e := range result.Errors {
		assert.Equal(t, "/", e.Path)
	}
}

func TestWorkflowValidator_UnknownToolAndDuplicate(t *testing.T) {
	wv, err := NewWorkflowValidator(newMockLookup("t"))
	require.NoError(t, err)

	def := &schema.WorkflowDefinition{Steps: []schema.StepDefinition{
		{ID: "a", Tool: "t"}, {ID: "a", Tool: "missing"},
	}}
	result := wv.Validate(def)
	assert.Len(t, result.Errors, 2)

	verr := wv.ValidateDefinition(def)
	require.Error(t, verr)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(verr))
	assert.Contains(t, verr.Error(), "(and 1 more error)")
}

func TestWorkflowValidator_UnknownToolsAsWarnings(t *testing.T) {
	wv, err := NewWorkflowValidator(newMockLookup("t"), UnknownToolsAsWarnings())
	require.NoError(t, err)

	def := &schema.WorkflowDefinition{Steps: []schema.StepDefinition{
		{ID: "a", Tool: "t"}, {ID: "b", Tool: "missing"},
	}}
	result := wv.Validate(def)
	assert.True(t, result.Valid())
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, schema.ErrCodeToolNotFound, result.Warnings[0].Code)
	assert.NoError(t, wv.ValidateDefinition(def))

	// Other semantic errors still reject the definition.
	def.Steps[1].ID = "a"
	assert.Error(t, wv.ValidateDefinition(def))
}

func TestWorkflowValidator_WarningsPassThrough(t *testing.T) {
	wv, err := NewWorkflowValidator(nil)
	require.NoError(t, err)

	def := &schema.WorkflowDefinition{Steps: []schema.StepDefinition{
		{ID: "a", Tool: "t", Input: "{{customer.name}}"},
	}}
	result := wv.Validate(def)
	assert.True(t, result.Valid())
	assert.Len(t, result.Warnings, 1)
	assert.NoError(t, wv.ValidateDefinition(def))
}

func TestWorkflowValidator_ValidateInput(t *testing.T) {
	wv, err := NewWorkflowValidator(nil)
	require.NoError(t, err)

	s := []byte(`{"type": "object", "required": ["x"]}`)
	assert.NoError(t, wv.ValidateInput(map[string]any{"x": 1}, s))
	assert.Error(t, wv.ValidateInput(map[string]any{}, s))
}

func TestWorkflowValidator_Concurrent(t *testing.T) {
	wv, err := NewWorkflowValidator(newMockLookup("t"))
	require.NoError(t, err)

	def := &schema.WorkflowDefinition{Steps: []schema.StepDefinition{{ID: "a", Tool: "t"}}}
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.True(t, wv.Validate(def).Valid())
		}()
	}
	wg.Wait()
}
