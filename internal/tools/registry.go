package tools

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/rendis/flowrun/pkg/schema"
)

// Registry is the thread-safe tool index and dispatcher. Tools are known by
// name (the value of a step's "tool" field); handlers are keyed by
// (category, name).
type Registry struct {
	mu       sync.RWMutex
	defs     map[string]Definition
	handlers map[handlerKey]Handler
}

type handlerKey struct {
	category Category
	name     string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		defs:     make(map[string]Definition),
		handlers: make(map[handlerKey]Handler),
	}
}

// Register adds a handler and its definition. Returns CONFLICT on a duplicate
// tool name.
func (r *Registry) Register(h Handler) error {
	if h == nil {
		return schema.NewError(schema.ErrCodeValidation, "handler is nil")
	}
	def := Definition{Name: h.Name(), Category: h.Category(), Description: describe(h)}
	if err := checkDefinition(def); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.defs[def.Name]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "tool %q already registered", def.Name)
	}
	r.defs[def.Name] = def
	r.handlers[handlerKey{def.Category, def.Name}] = h
	return nil
}

// Declare adds a definition without a handler. Dispatching a declared tool
// routes on its category: a known category reports TOOL_NOT_IMPLEMENTED, any
// other category falls back to the generic handler.
func (r *Registry) Declare(def Definition) error {
	if err := checkDefinition(def); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.defs[def.Name]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "tool %q already registered", def.Name)
	}
	r.defs[def.Name] = def
	return nil
}

func checkDefinition(def Definition) error {
	if def.Name == "" {
		return schema.NewError(schema.ErrCodeValidation, "tool name is empty")
	}
	if def.Category == "" {
		return schema.NewErrorf(schema.ErrCodeValidation, "tool %q has no category", def.Name)
	}
	return nil
}

// Lookup resolves a tool name to its definition.
func (r *Registry) Lookup(name string) (Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.defs[name]
	if !ok {
		return Definition{}, schema.NewErrorf(schema.ErrCodeToolNotFound, "tool %q not found", name)
	}
	return def, nil
}

// Has checks if a tool name is known.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.defs[name]
	return ok
}

// Dispatch routes one invocation to the handler for def.
//
// Errors returned by handlers that are not already a *schema.FlowError are
// wrapped as TOOL_EXECUTION_ERROR. A nil output is returned as an empty map.
func (r *Registry) Dispatch(ctx context.Context, def Definition, input any) (map[string]any, error) {
	r.mu.RLock()
	h, ok := r.handlers[handlerKey{def.Category, def.Name}]
	r.mu.RUnlock()

	if !ok {
		if def.Category.Known() {
			return nil, schema.NewErrorf(schema.ErrCodeToolNotImplemented,
				"tool %q is not implemented by the %s handler", def.Name, def.Category).
				WithDetails(map[string]any{"tool": def.Name, "category": string(def.Category)})
		}
		return genericHandler{}.acknowledge(def), nil
	}

	out, err := h.Invoke(ctx, input)
	if err != nil {
		var fe *schema.FlowError
		if errors.As(err, &fe) {
			return nil, err
		}
		return nil, schema.NewErrorf(schema.ErrCodeToolExecution, "%s: %s", def.Name, err.Error()).
			WithCause(err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

// List returns all definitions, sorted by category then name.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, 0, len(r.defs))
	for _, d := range r.defs {
		defs = append(defs, d)
	}
	sort.Slice(defs, func(i, j int) bool {
		if defs[i].Category != defs[j].Category {
			return defs[i].Category < defs[j].Category
		}
		return defs[i].Name < defs[j].Name
	})
	return defs
}

// Names returns all tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.defs))
	for n := range r.defs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of known tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.defs)
}
