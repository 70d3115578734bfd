package expressions

import (
	"context"
	"encoding/json"
	"sync"
)

// Engine evaluates an expression language against arbitrary JSON-shaped data.
// Three implementations back the data-transform and control-flow tools:
// CEL (conditions), GoJQ (reshaping), Expr (computed values).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data any) (any, error)
}

// programCache memoizes compiled programs by expression text. Safe for
// concurrent use.
type programCache[T any] struct {
	mu    sync.RWMutex
	items map[string]T
}

func newProgramCache[T any]() *programCache[T] {
	return &programCache[T]{items: make(map[string]T)}
}

func (c *programCache[T]) getOrCompile(expression string, compile func() (T, error)) (T, error) {
	c.mu.RLock()
	if p, ok := c.items[expression]; ok {
		c.mu.RUnlock()
		return p, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.items[expression]; ok {
		return p, nil
	}
	p, err := compile()
	if err != nil {
		var zero T
		return zero, err
	}
	c.items[expression] = p
	return p, nil
}

func (c *programCache[T]) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// normalizeJSON converts Go values into the plain JSON shapes the evaluators
// understand (map[string]any, []any, float64, string, bool, nil). Values that
// already have that shape are returned as-is.
func normalizeJSON(v any) any {
	switch val := v.(type) {
	case nil, string, bool, float64:
		return v
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case int32:
		return float64(val)
	case float32:
		return float64(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizeJSON(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeJSON(item)
		}
		return out
	}

	// Structs, typed slices, json.Number, etc.: round-trip through JSON.
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}
