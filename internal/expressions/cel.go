package expressions

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/rendis/flowrun/pkg/schema"
)

// CELEngine evaluates Common Expression Language conditions. The environment
// exposes two variables:
//   - data:  dyn, the value supplied by the caller (usually a step's resolved input)
//   - scope: map(string, dyn), the run scope when the caller provides one
//
// Compiled programs are cached and reused across goroutines.
type CELEngine struct {
	env   *cel.Env
	cache *programCache[cel.Program]
}

// NewCELEngine creates a new CEL engine with a sandboxed environment.
func NewCELEngine() (*CELEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("data", cel.DynType),
		cel.Variable("scope", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	return &CELEngine{env: env, cache: newProgramCache[cel.Program]()}, nil
}

// Name returns the engine identifier.
func (e *CELEngine) Name() string { return "cel" }

// Evaluate compiles (or reuses) expression and runs it with data bound to
// `data`. When data is a map holding a "scope" map, that map is bound to
// `scope` as well.
func (e *CELEngine) Evaluate(_ context.Context, expression string, data any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty CEL expression")
	}

	prg, err := e.cache.getOrCompile(expression, func() (cel.Program, error) {
		ast, issues := e.env.Compile(expression)
		if issues != nil && issues.Err() != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"CEL compile error in %q: %s", expression, issues.Err().Error()).
				WithCause(issues.Err()).
				WithDetails(map[string]any{"expression": expression})
		}
		p, perr := e.env.Program(ast)
		if perr != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"CEL program error for %q: %s", expression, perr.Error()).
				WithCause(perr)
		}
		return p, nil
	})
	if err != nil {
		return nil, err
	}

	out, _, err := prg.Eval(celActivation(data))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeToolExecution,
			"CEL evaluation failed for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}
	return out.Value(), nil
}

// celActivation binds both variables, defaulting missing ones to empty maps
// so a reference never fails with "no such attribute".
func celActivation(data any) map[string]any {
	normalized := normalizeJSON(data)
	if normalized == nil {
		normalized = map[string]any{}
	}
	act := map[string]any{
		"data":  normalized,
		"scope": map[string]any{},
	}
	if m, ok := normalized.(map[string]any); ok {
		if sc, ok := m["scope"].(map[string]any); ok {
			act["scope"] = sc
		}
	}
	return act
}

var _ Engine = (*CELEngine)(nil)
