package tools

import (
	"encoding/json"
	"fmt"

	"github.com/rendis/flowrun/pkg/schema"
)

// paramsOf converts a resolved step input into a parameter map. A nil input
// is an empty map; any non-map input is rejected.
func paramsOf(tool string, input any) (map[string]any, error) {
	switch v := input.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return v, nil
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"%s: input must be an object, got %T", tool, input)
	}
}

// requireString fetches a non-empty string param.
func requireString(tool string, m map[string]any, key string) (string, error) {
	if s := stringParam(m, key, ""); s != "" {
		return s, nil
	}
	return "", schema.NewErrorf(schema.ErrCodeValidation, "%s: %q is required", tool, key)
}

// typed returns m[key] when it holds a T, else def.
func typed[T any](m map[string]any, key string, def T) T {
	if v, ok := m[key].(T); ok {
		return v
	}
	return def
}

func stringParam(m map[string]any, key, defaultVal string) string {
	return typed(m, key, defaultVal)
}

func boolParam(m map[string]any, key string, defaultVal bool) bool {
	return typed(m, key, defaultVal)
}

func mapParam(m map[string]any, key string) map[string]any {
	return typed[map[string]any](m, key, nil)
}

// number widens any numeric representation found in decoded JSON or YAML.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func intParam(m map[string]any, key string, defaultVal int) int {
	if f, ok := number(m[key]); ok {
		return int(f)
	}
	return defaultVal
}

func floatParam(m map[string]any, key string, defaultVal float64) float64 {
	if f, ok := number(m[key]); ok {
		return f
	}
	return defaultVal
}

func stringSliceParam(m map[string]any, key string) []string {
	switch arr := m[key].(type) {
	case []string:
		return arr
	case []any:
		out := make([]string, 0, len(arr))
		for _, item := range arr {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// stringMapParam flattens a header-style map. Nil values are dropped and
// non-strings are formatted.
func stringMapParam(m map[string]any, key string) map[string]string {
	switch raw := m[key].(type) {
	case map[string]string:
		return raw
	case map[string]any:
		out := make(map[string]string, len(raw))
		for k, v := range raw {
			if v == nil {
				continue
			}
			if s, ok := v.(string); ok {
				out[k] = s
				continue
			}
			out[k] = fmt.Sprint(v)
		}
		return out
	}
	return nil
}

func sliceParam(m map[string]any, key string) []any {
	switch arr := m[key].(type) {
	case []any:
		return arr
	case []string:
		out := make([]any, 0, len(arr))
		for _, s := range arr {
			out = append(out, s)
		}
		return out
	}
	return nil
}
