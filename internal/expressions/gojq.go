package expressions

import (
	"context"

	"github.com/itchyny/gojq"
	"github.com/rendis/flowrun/pkg/schema"
)

// GoJQEngine evaluates jq filters for reshaping step outputs.
// Compiled code is cached and reused across goroutines.
type GoJQEngine struct {
	cache *programCache[*gojq.Code]
}

// NewGoJQEngine creates a new GoJQ expression engine.
func NewGoJQEngine() *GoJQEngine {
	return &GoJQEngine{cache: newProgramCache[*gojq.Code]()}
}

// Name returns the engine identifier.
func (e *GoJQEngine) Name() string { return "jq" }

// Evaluate runs the jq filter against data. A single output is returned
// directly, several are collected into []any, none yields nil.
func (e *GoJQEngine) Evaluate(ctx context.Context, expression string, data any) (any, error) {
	results, err := e.EvaluateAll(ctx, expression, data)
	if err != nil {
		return nil, err
	}
	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

// EvaluateAll is like Evaluate but always returns every output.
func (e *GoJQEngine) EvaluateAll(ctx context.Context, expression string, data any) ([]any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty jq expression")
	}

	code, err := e.cache.getOrCompile(expression, func() (*gojq.Code, error) {
		query, perr := gojq.Parse(expression)
		if perr != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"jq parse error in %q: %s", expression, perr.Error()).WithCause(perr)
		}
		// Sandbox: no $ENV.
		c, cerr := gojq.Compile(query, gojq.WithEnvironLoader(func() []string { return nil }))
		if cerr != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"jq compile error in %q: %s", expression, cerr.Error()).WithCause(cerr)
		}
		return c, nil
	})
	if err != nil {
		return nil, err
	}

	iter := code.RunWithContext(ctx, normalizeJSON(data))
	results := make([]any, 0, 1)
	for {
		val, ok := iter.Next()
		if !ok {
			break
		}
		if verr, isErr := val.(error); isErr {
			return nil, schema.NewErrorf(schema.ErrCodeToolExecution,
				"jq evaluation failed for %q: %s", expression, verr.Error()).
				WithCause(verr).
				WithDetails(map[string]any{"expression": expression})
		}
		results = append(results, val)
	}
	return results, nil
}

var _ Engine = (*GoJQEngine)(nil)
