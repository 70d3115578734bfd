package expressions

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/rendis/flowrun/pkg/schema"
)

const (
	openMarker  = "{{"
	closeMarker = "}}"
)

// Resolver substitutes {{dotted.path}} tokens in a template tree with values
// from a scope. By default it is fail-soft: a token whose path cannot be found
// is left in the output verbatim. In strict mode the same situation is an
// UNRESOLVED_REFERENCE error.
//
// There is no escape sequence for a literal "{{".
type Resolver struct {
	strict bool
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithStrict makes unresolved references an error instead of leaving them in place.
func WithStrict() ResolverOption {
	return func(r *Resolver) { r.strict = true }
}

// NewResolver creates a Resolver.
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Strict reports whether the resolver runs in strict mode.
func (r *Resolver) Strict() bool { return r.strict }

// Resolve returns a resolved copy of tree. The input tree is never mutated.
//
// A string that consists of exactly one token resolves to the raw scope value,
// preserving its type, so "{{count}}" yields a number and "{{user}}" a map.
// This is deliberate: callers that need text must format the value
// themselves. Tokens embedded in longer strings are rendered as text, and a
// nil value renders there as the empty string.
func (r *Resolver) Resolve(tree any, scope map[string]any) (any, error) {
	var missing []string
	out := r.resolveValue(tree, scope, &missing)

	if r.strict && len(missing) > 0 {
		sort.Strings(missing)
		return nil, schema.NewErrorf(schema.ErrCodeUnresolved,
			"unresolved template reference(s): %s", strings.Join(missing, ", ")).
			WithDetails(map[string]any{"paths": missing})
	}
	return out, nil
}

func (r *Resolver) resolveValue(v any, scope map[string]any, missing *[]string) any {
	switch val := v.(type) {
	case string:
		return r.resolveString(val, scope, missing)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = r.resolveValue(item, scope, missing)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = r.resolveValue(item, scope, missing)
		}
		return out
	case map[string]string:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = r.resolveString(item, scope, missing)
		}
		return out
	case []string:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = r.resolveString(item, scope, missing)
		}
		return out
	default:
		return v
	}
}

func (r *Resolver) resolveString(s string, scope map[string]any, missing *[]string) any {
	if !strings.Contains(s, openMarker) {
		return s
	}

	// Whole-string token: hand back the raw value.
	if path, ok := singleToken(s); ok {
		if val, found := Lookup(scope, path); found {
			return val
		}
		*missing = append(*missing, path)
		return s
	}

	var b strings.Builder
	b.Grow(len(s))

	i := 0
	for i < len(s) {
		idx := strings.Index(s[i:], openMarker)
		if idx == -1 {
			b.WriteString(s[i:])
			break
		}
		b.WriteString(s[i : i+idx])
		start := i + idx + len(openMarker)

		end := strings.Index(s[start:], closeMarker)
		if end == -1 {
			// Unclosed marker: the rest is literal text.
			b.WriteString(s[i+idx:])
			break
		}
		end += start
		token := s[i+idx : end+len(closeMarker)]
		path := strings.TrimSpace(s[start:end])

		if val, found := Lookup(scope, path); found && path != "" {
			b.WriteString(renderInline(val))
		} else {
			if path != "" {
				*missing = append(*missing, path)
			}
			b.WriteString(token)
		}
		i = end + len(closeMarker)
	}
	return b.String()
}

// singleToken reports whether s is exactly one {{path}} token.
func singleToken(s string) (string, bool) {
	if !strings.HasPrefix(s, openMarker) || !strings.HasSuffix(s, closeMarker) {
		return "", false
	}
	inner := s[len(openMarker) : len(s)-len(closeMarker)]
	if strings.Contains(inner, openMarker) || strings.Contains(inner, closeMarker) {
		return "", false
	}
	path := strings.TrimSpace(inner)
	if path == "" {
		return "", false
	}
	return path, true
}

// renderInline converts a scope value to the text embedded in a larger string.
func renderInline(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

// Lookup walks scope along a dotted path. Map segments select keys; numeric
// segments index into arrays. Any missing segment yields found=false.
func Lookup(scope map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	var cur any = scope
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case map[string]string:
			next, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

// References returns every distinct {{path}} found in tree, in first-seen order.
func References(tree any) []string {
	seen := make(map[string]bool)
	var refs []string
	collectRefs(tree, seen, &refs)
	return refs
}

func collectRefs(v any, seen map[string]bool, refs *[]string) {
	switch val := v.(type) {
	case string:
		rest := val
		for {
			idx := strings.Index(rest, openMarker)
			if idx == -1 {
				return
			}
			rest = rest[idx+len(openMarker):]
			end := strings.Index(rest, closeMarker)
			if end == -1 {
				return
			}
			path := strings.TrimSpace(rest[:end])
			if path != "" && !seen[path] {
				seen[path] = true
				*refs = append(*refs, path)
			}
			rest = rest[end+len(closeMarker):]
		}
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			collectRefs(val[k], seen, refs)
		}
	case []any:
		for _, item := range val {
			collectRefs(item, seen, refs)
		}
	}
}

// HasTemplate reports whether tree contains at least one {{...}} token.
func HasTemplate(tree any) bool {
	return len(References(tree)) > 0
}
