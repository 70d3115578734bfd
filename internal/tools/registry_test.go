package tools

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rendis/flowrun/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stubHandler(category Category, name string, fn func(ctx context.Context, input any) (map[string]any, error)) *HandlerFunc {
	if fn == nil {
		fn = func(_ context.Context, _ any) (map[string]any, error) {
			return map[string]any{"ok": true}, nil
		}
	}
	return &HandlerFunc{ToolCategory: category, ToolName: name, Desc: "stub " + name, Fn: fn}
}

func TestRegistry_Register_Success(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(stubHandler(CategoryNetwork, "ping", nil)))
	assert.Equal(t, 1, reg.Count())
	assert.True(t, reg.Has("ping"))

	def, err := reg.Lookup("ping")
	require.NoError(t, err)
	assert.Equal(t, Definition{Name: "ping", Category: CategoryNetwork, Description: "stub ping"}, def)
}

func TestRegistry_Register_Duplicate(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(stubHandler(CategoryNetwork, "dup", nil)))

	err := reg.Register(stubHandler(CategoryCRM, "dup", nil))
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeConflict, schema.CodeOf(err))

	err = reg.Declare(Definition{Name: "dup", Category: "custom"})
	assert.Equal(t, schema.ErrCodeConflict, schema.CodeOf(err))
}

func TestRegistry_Register_Invalid(t *testing.T) {
	reg := NewRegistry()
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(reg.Register(nil)))
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(reg.Register(stubHandler(CategoryCRM, "", nil))))
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(reg.Declare(Definition{Name: "x"})))
}

func TestRegistry_Lookup_NotFound(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Lookup("nope")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeToolNotFound, schema.CodeOf(err))
}

func TestRegistry_Dispatch_RoutesToHandler(t *testing.T) {
	reg := NewRegistry()
	var got any
	require.NoError(t, reg.Register(stubHandler(CategoryDataTransform, "echo", func(_ context.Context, input any) (map[string]any, error) {
		got = input
		return map[string]any{"echo": input}, nil
	})))

	def, err := reg.Lookup("echo")
	require.NoError(t, err)
	out, err := reg.Dispatch(context.Background(), def, map[string]any{"a": 1})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 1}, got)
	assert.Equal(t, map[string]any{"echo": map[string]any{"a": 1}}, out)
}

func TestRegistry_Dispatch_KnownCategoryUnknownName(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Declare(Definition{Name: "send_fax", Category: CategoryNetwork}))

	def, err := reg.Lookup("send_fax")
	require.NoError(t, err)
	_, err = reg.Dispatch(context.Background(), def, nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeToolNotImplemented, schema.CodeOf(err))
	assert.True(t, schema.IsTerminal(err))
}

func TestRegistry_Dispatch_UnknownCategoryFallsBack(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Declare(Definition{Name: "future_tool", Category: "quantum"}))

	def, err := reg.Lookup("future_tool")
	require.NoError(t, err)
	out, err := reg.Dispatch(context.Background(), def, map[string]any{"x": 1})
	require.NoError(t, err)
	assert.Equal(t, true, out["acknowledged"])
	assert.Equal(t, "future_tool", out["tool"])
	assert.Equal(t, "quantum", out["category"])
	assert.NotEmpty(t, out["message"])
}

func TestRegistry_Dispatch_CustomCategoryHandler(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(stubHandler("billing", "charge", nil)))

	def, _ := reg.Lookup("charge")
	out, err := reg.Dispatch(context.Background(), def, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ok": true}, out)
}

func TestRegistry_Dispatch_WrapsPlainErrors(t *testing.T) {
	reg := NewRegistry()
	boom := errors.New("connection reset")
	require.NoError(t, reg.Register(stubHandler(CategoryNetwork, "flaky", func(context.Context, any) (map[string]any, error) {
		return nil, boom
	})))

	def, _ := reg.Lookup("flaky")
	_, err := reg.Dispatch(context.Background(), def, nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeToolExecution, schema.CodeOf(err))
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestRegistry_Dispatch_KeepsFlowErrors(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(stubHandler(CategoryNetwork, "strict", func(context.Context, any) (map[string]any, error) {
		return nil, schema.NewError(schema.ErrCodeValidation, "bad input")
	})))

	def, _ := reg.Lookup("strict")
	_, err := reg.Dispatch(context.Background(), def, nil)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

func TestRegistry_Dispatch_NilOutputBecomesEmptyMap(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(stubHandler(CategoryNetwork, "void", func(context.Context, any) (map[string]any, error) {
		return nil, nil
	})))

	def, _ := reg.Lookup("void")
	out, err := reg.Dispatch(context.Background(), def, nil)
	require.NoError(t, err)
	assert.NotNil(t, out)
	assert.Empty(t, out)
}

func TestRegistry_ListSorted(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(stubHandler(CategoryNetwork, "b", nil)))
	require.NoError(t, reg.Register(stubHandler(CategoryCRM, "z", nil)))
	require.NoError(t, reg.Register(stubHandler(CategoryNetwork, "a", nil)))

	list := reg.List()
	require.Len(t, list, 3)
	assert.Equal(t, "z", list[0].Name)
	assert.Equal(t, "a", list[1].Name)
	assert.Equal(t, "b", list[2].Name)
	assert.Equal(t, []string{"a", "b", "z"}, reg.Names())
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(stubHandler(CategoryNetwork, "shared", nil)))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			def, err := reg.Lookup("shared")
			if err != nil {
				return
			}
			_, _ = reg.Dispatch(context.Background(), def, nil)
			_ = reg.List()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, reg.Count())
}

func TestRegisterBuiltins_Catalogue(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, RegisterBuiltins(reg, Config{}))

	for _, name := range []string{
		"read_file", "write_file", "list_directory",
		"execute_code",
		"http_request", "webhook",
		"sql_query", "sql_execute", "sql_insert",
		"condition", "delay", "loop_iteration", "schedule_next",
		"jq", "expression", "parse_json", "format_text", "validate_json",
		"create_contact", "update_contact", "log_activity",
		"search_leads", "enrich_lead",
		"monitor_mentions", "fetch_posts",
		"compose_email", "score_lead",
	} {
		assert.True(t, reg.Has(name), name)
	}
	for _, d := range reg.List() {
		assert.True(t, d.Category.Known(), d.Name)
		assert.NotEmpty(t, d.Description, d.Name)
	}
}
