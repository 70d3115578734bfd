package expressions

import (
	"encoding/json"
	"sync"

	"github.com/rendis/flowrun/pkg/schema"
)

// Scope is the accumulated variable space of one workflow run: workflow
// variables, caller input overrides, and one entry per completed step keyed by
// step ID. Step entries are append-only; a step ID can be registered once.
//
// Step outputs shadow variables and inputs with the same key.
type Scope struct {
	mu    sync.RWMutex
	vars  map[string]any // variables overlaid with input (frozen at init)
	steps map[string]any // step ID -> frozen output
	order []string       // step IDs in completion order
}

// NewScope creates a Scope from workflow variables and caller input. Input
// keys override variables. Both maps are deep-copied.
func NewScope(variables, input map[string]any) *Scope {
	vars := make(map[string]any, len(variables)+len(input))
	for k, v := range variables {
		vars[k] = deepCopyAny(v)
	}
	for k, v := range input {
		vars[k] = deepCopyAny(v)
	}
	return &Scope{
		vars:  vars,
		steps: make(map[string]any),
	}
}

// AddStepOutput registers a completed (or continue-policy failed) step's
// output. The value is deep-copied so later mutation by the caller cannot
// leak into the scope.
func (s *Scope) AddStepOutput(stepID string, output any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.steps[stepID]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict,
			"step %q output already registered; scope entries are append-only", stepID)
	}
	s.steps[stepID] = deepCopyAny(output)
	s.order = append(s.order, stepID)
	return nil
}

// Snapshot returns a deep copy of the whole scope as a single map.
func (s *Scope) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]any, len(s.vars)+len(s.steps))
	for k, v := range s.vars {
		out[k] = deepCopyAny(v)
	}
	for k, v := range s.steps {
		out[k] = deepCopyAny(v)
	}
	return out
}

// StepOutput returns a copy of one step's registered output.
func (s *Scope) StepOutput(stepID string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.steps[stepID]
	return deepCopyAny(v), ok
}

// StepIDs returns registered step IDs in registration order.
func (s *Scope) StepIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

// Len returns the total number of top-level keys.
func (s *Scope) Len() int {
	return len(s.Snapshot())
}

// --- Deep copy utilities ---

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = deepCopyAny(v)
	}
	return cp
}

// deepCopyAny recursively copies maps and slices; primitives are value types.
func deepCopyAny(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = deepCopyAny(item)
		}
		return cp
	case map[string]string:
		cp := make(map[string]any, len(val))
		for k, item := range val {
			cp[k] = item
		}
		return cp
	case json.RawMessage:
		if val == nil {
			return nil
		}
		cp := make(json.RawMessage, len(val))
		copy(cp, val)
		return cp
	default:
		return v
	}
}

// DeepCopy exposes the scope copy semantics for callers that hand values
// across run boundaries.
func DeepCopy(v any) any { return deepCopyAny(v) }
