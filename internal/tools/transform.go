package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/rendis/flowrun/internal/expressions"
	"github.com/rendis/flowrun/internal/validation"
	"github.com/rendis/flowrun/pkg/schema"
)

// TransformConfig configures the data_transform tools.
type TransformConfig struct {
	JQ      *expressions.GoJQEngine
	Expr    *expressions.ExprEngine
	Schemas *validation.JSONSchemaValidator // compiled-schema cache for validate_json
}

// DataTransformHandlers returns the data_transform category tools.
func DataTransformHandlers(cfg TransformConfig) []Handler {
	if cfg.JQ == nil {
		cfg.JQ = expressions.NewGoJQEngine()
	}
	if cfg.Expr == nil {
		cfg.Expr = expressions.NewExprEngine()
	}
	if cfg.Schemas == nil {
		cfg.Schemas, _ = validation.NewJSONSchemaValidator()
	}
	return []Handler{
		&jqTransform{engine: cfg.JQ},
		&exprTransform{engine: cfg.Expr},
		&parseJSON{},
		&formatText{resolver: expressions.NewResolver()},
		&validateJSON{schemas: cfg.Schemas},
	}
}

// --- jq ---

type jqTransform struct{ engine *expressions.GoJQEngine }

func (*jqTransform) Category() Category  { return CategoryDataTransform }
func (*jqTransform) Name() string        { return "jq" }
func (*jqTransform) Description() string { return "Apply a jq filter to `data`" }

func (a *jqTransform) Invoke(ctx context.Context, input any) (map[string]any, error) {
	params, err := paramsOf("jq", input)
	if err != nil {
		return nil, err
	}
	filter, err := requireString("jq", params, "filter")
	if err != nil {
		return nil, err
	}
	if boolParam(params, "all", false) {
		results, err := a.engine.EvaluateAll(ctx, filter, params["data"])
		if err != nil {
			return nil, err
		}
		return map[string]any{"result": results, "count": len(results)}, nil
	}
	result, err := a.engine.Evaluate(ctx, filter, params["data"])
	if err != nil {
		return nil, err
	}
	return map[string]any{"result": result}, nil
}

// --- expression ---

type exprTransform struct{ engine *expressions.ExprEngine }

func (*exprTransform) Category() Category { return CategoryDataTransform }
func (*exprTransform) Name() string       { return "expression" }
func (*exprTransform) Description() string {
	return "Evaluate an expr-lang expression with `vars` as top-level variables"
}

func (a *exprTransform) Invoke(ctx context.Context, input any) (map[string]any, error) {
	params, err := paramsOf("expression", input)
	if err != nil {
		return nil, err
	}
	expression, err := requireString("expression", params, "expression")
	if err != nil {
		return nil, err
	}

	var env any = mapParam(params, "vars")
	if v, ok := params["data"]; ok {
		env = v
	}
	result, err := a.engine.Evaluate(ctx, expression, env)
	if err != nil {
		return nil, err
	}
	return map[string]any{"result": result}, nil
}

// --- parse_json ---

type parseJSON struct{}

func (*parseJSON) Category() Category  { return CategoryDataTransform }
func (*parseJSON) Name() string        { return "parse_json" }
func (*parseJSON) Description() string { return "Decode a JSON document held in `text`" }

func (*parseJSON) Invoke(_ context.Context, input any) (map[string]any, error) {
	params, err := paramsOf("parse_json", input)
	if err != nil {
		return nil, err
	}
	raw, ok := params["text"]
	if !ok {
		return nil, schema.NewError(schema.ErrCodeValidation, "parse_json: \"text\" is required")
	}
	// Already-structured values pass through; resolving {{step.body}} often
	// hands over a decoded object.
	text, isString := raw.(string)
	if !isString {
		return map[string]any{"data": raw}, nil
	}

	var data any
	if err := json.Unmarshal([]byte(text), &data); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeToolExecution, "parse_json: %v", err).WithCause(err)
	}
	return map[string]any{"data": data}, nil
}

// --- format_text ---

// formatText renders a template with the same {{path}} syntax steps use,
// against the `values` object supplied in the input.
type formatText struct{ resolver *expressions.Resolver }

func (*formatText) Category() Category { return CategoryDataTransform }
func (*formatText) Name() string       { return "format_text" }
func (*formatText) Description() string {
	return "Render a {{path}} template against `values`; optional case: upper, lower, trim"
}

func (a *formatText) Invoke(_ context.Context, input any) (map[string]any, error) {
	params, err := paramsOf("format_text", input)
	if err != nil {
		return nil, err
	}
	tpl, ok := params["template"].(string)
	if !ok {
		return nil, schema.NewError(schema.ErrCodeValidation, "format_text: \"template\" must be a string")
	}

	values := mapParam(params, "values")
	if values == nil {
		values = map[string]any{}
	}
	out, err := a.resolver.Resolve(tpl, values)
	if err != nil {
		return nil, err
	}
	text, ok := out.(string)
	if !ok {
		b, merr := json.Marshal(out)
		if merr != nil {
			return nil, schema.NewErrorf(schema.ErrCodeToolExecution, "format_text: %v", merr).WithCause(merr)
		}
		text = string(b)
	}

	switch stringParam(params, "case", "") {
	case "upper":
		text = strings.ToUpper(text)
	case "lower":
		text = strings.ToLower(text)
	case "trim":
		text = strings.TrimSpace(text)
	}
	return map[string]any{"text": text, "length": len(text)}, nil
}

// --- validate_json ---

type validateJSON struct{ schemas *validation.JSONSchemaValidator }

func (*validateJSON) Category() Category { return CategoryDataTransform }
func (*validateJSON) Name() string       { return "validate_json" }
func (*validateJSON) Description() string {
	return "Check the `data` object against the JSON Schema in `schema`"
}

// Invoke reports violations in the output. Only a malformed request or
// schema is an error.
func (a *validateJSON) Invoke(_ context.Context, input any) (map[string]any, error) {
	params, err := paramsOf("validate_json", input)
	if err != nil {
		return nil, err
	}
	data := mapParam(params, "data")
	if data == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "validate_json: \"data\" must be an object")
	}
	rawSchema, ok := params["schema"]
	if !ok {
		return nil, schema.NewError(schema.ErrCodeValidation, "validate_json: \"schema\" is required")
	}
	schemaBytes, err := json.Marshal(rawSchema)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "validate_json: %v", err).WithCause(err)
	}

	if a.schemas == nil {
		return nil, schema.NewError(schema.ErrCodeToolExecution, "validate_json: schema validator unavailable")
	}
	verr := a.schemas.ValidateInput(data, schemaBytes)
	if verr == nil {
		return map[string]any{"valid": true, "errors": []any{}}, nil
	}

	var fe *schema.FlowError
	if !errors.As(verr, &fe) || fe.Cause != nil {
		// Uncompilable schema, not a data violation.
		return nil, verr
	}
	errs := []any{}
	if vs, ok := fe.Details["violations"].([]string); ok {
		for _, v := range vs {
			errs = append(errs, v)
		}
	} else {
		errs = append(errs, fe.Message)
	}
	return map[string]any{"valid": false, "errors": errs}, nil
}
