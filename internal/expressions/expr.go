package expressions

import (
	"context"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/rendis/flowrun/pkg/schema"
)

// ExprEngine evaluates expr-lang expressions: arithmetic, string functions,
// array builtins (filter, map, sum, ...), nil coalescing and optional chaining.
// When data is a map, its keys become top-level variables; any other value is
// exposed as `data`.
type ExprEngine struct {
	cache *programCache[*vm.Program]
}

// NewExprEngine creates a new Expr expression engine.
func NewExprEngine() *ExprEngine {
	return &ExprEngine{cache: newProgramCache[*vm.Program]()}
}

// Name returns the engine identifier.
func (e *ExprEngine) Name() string { return "expr" }

// Evaluate compiles (or reuses) expression and runs it against data.
// Programs are compiled without a typed environment so a cached program is
// valid for any data shape.
func (e *ExprEngine) Evaluate(_ context.Context, expression string, data any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty expr expression")
	}

	prg, err := e.cache.getOrCompile(expression, func() (*vm.Program, error) {
		p, cerr := expr.Compile(expression, expr.AllowUndefinedVariables())
		if cerr != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"expr compile error in %q: %s", expression, cerr.Error()).
				WithCause(cerr).
				WithDetails(map[string]any{"expression": expression})
		}
		return p, nil
	})
	if err != nil {
		return nil, err
	}

	out, err := vm.Run(prg, exprEnv(data))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeToolExecution,
			"expr evaluation failed for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}
	return out, nil
}

func exprEnv(data any) map[string]any {
	env := map[string]any{}
	if m, ok := data.(map[string]any); ok {
		for k, v := range m {
			env[k] = v
		}
	}
	if _, ok := env["data"]; !ok {
		env["data"] = data
	}
	return env
}

var _ Engine = (*ExprEngine)(nil)
