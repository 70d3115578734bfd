package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rendis/flowrun/internal/logging"
	"github.com/rendis/flowrun/internal/tools"
	"github.com/rendis/flowrun/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Helpers ---

type usageRecorder struct {
	mu   sync.Mutex
	recs []UsageRecord
	err  error
}

func (u *usageRecorder) LogUsage(_ context.Context, rec UsageRecord) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.recs = append(u.recs, rec)
	return u.err
}

func (u *usageRecorder) records() []UsageRecord {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]UsageRecord(nil), u.recs...)
}

func tool(name string, fn func(ctx context.Context, input any) (map[string]any, error)) tools.Handler {
	return &tools.HandlerFunc{ToolCategory: tools.CategoryDataTransform, ToolName: name, Fn: fn}
}

// echoTool returns its input under "echo".
func echoTool(name string) tools.Handler {
	return tool(name, func(_ context.Context, input any) (map[string]any, error) {
		return map[string]any{"echo": input}, nil
	})
}

func failingTool(name, msg string) tools.Handler {
	return tool(name, func(context.Context, any) (map[string]any, error) {
		return nil, errors.New(msg)
	})
}

func newTestEngine(t *testing.T, cfg Config, handlers ...tools.Handler) (*Engine, *usageRecorder) {
	t.Helper()
	reg := tools.NewRegistry()
	for _, h := range handlers {
		require.NoError(t, reg.Register(h))
	}
	sink := &usageRecorder{}
	e, err := New(reg, cfg, WithUsageSink(sink), WithLogger(logging.Discard()))
	require.NoError(t, err)
	t.Cleanup(e.Shutdown)
	return e, sink
}

func steps(s ...schema.StepDefinition) *schema.WorkflowDefinition {
	return &schema.WorkflowDefinition{ID: "wf-test", Steps: s}
}

// --- Happy path ---

func TestRun_AllStepsSucceed(t *testing.T) {
	e, sink := newTestEngine(t, Config{}, echoTool("a"), echoTool("b"), echoTool("c"))

	res, err := e.Run(context.Background(), steps(
		schema.StepDefinition{ID: "s1", Tool: "a", Input: "one"},
		schema.StepDefinition{ID: "s2", Tool: "b", Input: "two"},
		schema.StepDefinition{ID: "s3", Tool: "c", Input: "three"},
	), nil)
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, schema.WorkflowStatusCompleted, res.Status)
	assert.Empty(t, res.Error)
	assert.NotEmpty(t, res.ExecutionID)
	assert.Equal(t, "wf-test", res.WorkflowID)
	assert.Len(t, res.Outputs, 3)
	require.Len(t, res.Log, 3)
	for i, id := range []string{"s1", "s2", "s3"} {
		assert.Equal(t, id, res.Log[i].StepID)
		assert.Equal(t, schema.StepStatusCompleted, res.Log[i].Status)
		assert.Equal(t, 1, res.Log[i].Attempts)
		assert.Contains(t, res.Outputs, id)
	}
	assert.Len(t, sink.records(), 3)
}

func TestRun_OutputsCarryDuration(t *testing.T) {
	e, _ := newTestEngine(t, Config{}, echoTool("a"))

	res, err := e.Run(context.Background(), steps(schema.StepDefinition{ID: "s1", Tool: "a", Input: "x"}), nil)
	require.NoError(t, err)

	out := res.Outputs["s1"].(map[string]any)
	assert.Equal(t, "x", out["echo"])
	assert.IsType(t, int64(0), out[DurationKey])
	assert.Equal(t, out, res.Log[0].Output)
}

func TestRun_TemplateResolution(t *testing.T) {
	e, sink := newTestEngine(t, Config{},
		tool("produce", func(context.Context, any) (map[string]any, error) {
			return map[string]any{"output": "X", "items": []any{"first", "second"}}, nil
		}),
		echoTool("consume"),
	)
	def := &schema.WorkflowDefinition{
		ID:        "wf",
		Variables: map[string]any{"greeting": "hello", "who": "var"},
		Steps: []schema.StepDefinition{
			{ID: "step1", Tool: "produce"},
			{ID: "step2", Tool: "consume", Input: map[string]any{
				"exact":   "{{step1.output}}",
				"indexed": "{{step1.items.1}}",
				"inline":  "{{greeting}}, {{who}}!",
				"missing": "{{missing.path}}",
			}},
		},
	}

	res, err := e.Run(context.Background(), def, map[string]any{"who": "input"})
	require.NoError(t, err)
	require.True(t, res.Success)

	echo := res.Outputs["step2"].(map[string]any)["echo"].(map[string]any)
	assert.Equal(t, "X", echo["exact"])
	assert.Equal(t, "second", echo["indexed"])
	assert.Equal(t, "hello, input!", echo["inline"])
	assert.Equal(t, "{{missing.path}}", echo["missing"])
	assert.Equal(t, "var", def.Variables["who"], "input overrides never mutate the definition")

	recs := sink.records()
	require.Len(t, recs, 2)
	assert.Equal(t, "X", recs[1].Input.(map[string]any)["exact"])
}

func TestRun_StrictTemplatesFailStep(t *testing.T) {
	var called int64
	e, sink := newTestEngine(t, Config{StrictTemplates: true},
		tool("t", func(context.Context, any) (map[string]any, error) {
			atomic.AddInt64(&called, 1)
			return nil, nil
		}))

	res, err := e.Run(context.Background(), steps(
		schema.StepDefinition{ID: "s1", Tool: "t", Input: "{{nope}}", Retry: &schema.RetryPolicy{MaxAttempts: 3, DelayMs: 1}},
	), nil)
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, schema.ErrCodeUnresolved, res.ErrorCode)
	assert.Contains(t, res.Error, "nope")
	assert.Zero(t, atomic.LoadInt64(&called), "resolution happens before the tool is invoked")

	recs := sink.records()
	require.Len(t, recs, 1)
	assert.False(t, recs[0].Success)
	assert.Equal(t, "{{nope}}", recs[0].Input)
}

// --- Error policy ---

func TestRun_OnErrorStop(t *testing.T) {
	e, sink := newTestEngine(t, Config{}, echoTool("ok"), failingTool("bad", "kaput"), echoTool("never"))

	res, err := e.Run(context.Background(), steps(
		schema.StepDefinition{ID: "s1", Tool: "ok"},
		schema.StepDefinition{ID: "s2", Tool: "bad", OnError: schema.OnErrorStop, Retry: &schema.RetryPolicy{MaxAttempts: 2, DelayMs: 1}},
		schema.StepDefinition{ID: "s3", Tool: "never"},
	), nil)
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, schema.WorkflowStatusFailed, res.Status)
	require.Len(t, res.Log, 2)
	assert.Equal(t, schema.StepStatusFailed, res.Log[1].Status)
	assert.Equal(t, 2, res.Log[1].Attempts)
	assert.Contains(t, res.Log[1].Error, "kaput")
	assert.Equal(t, res.Log[1].Error, res.Error)
	assert.Equal(t, schema.ErrCodeToolExecution, res.ErrorCode)
	assert.Equal(t, []string{"s1"}, keys(res.Outputs))
	assert.Len(t, sink.records(), 2)
}

func TestRun_EmptyOnErrorMeansStop(t *testing.T) {
	e, _ := newTestEngine(t, Config{}, failingTool("bad", "x"), echoTool("never"))

	res, err := e.Run(context.Background(), steps(
		schema.StepDefinition{ID: "s1", Tool: "bad"},
		schema.StepDefinition{ID: "s2", Tool: "never"},
	), nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Len(t, res.Log, 1)
}

func TestRun_UnknownOnErrorAtRuntimeStops(t *testing.T) {
	e, _ := newTestEngine(t, Config{}, failingTool("bad", "x"), echoTool("never"))

	// Bypass validation to exercise the runner's own fallback.
	res := e.run(context.Background(), steps(
		schema.StepDefinition{ID: "s1", Tool: "bad", OnError: "ignore"},
		schema.StepDefinition{ID: "s2", Tool: "never"},
	), nil)
	assert.False(t, res.Success)
	assert.Len(t, res.Log, 1)
	assert.Empty(t, res.Outputs)
}

func TestRun_OnErrorContinue(t *testing.T) {
	e, _ := newTestEngine(t, Config{}, failingTool("bad", "kaput"), echoTool("next"))

	res, err := e.Run(context.Background(), steps(
		schema.StepDefinition{ID: "k", Tool: "bad", OnError: schema.OnErrorContinue},
		schema.StepDefinition{ID: "k1", Tool: "next", Input: map[string]any{"prev": "{{k.error}}"}},
	), nil)
	require.NoError(t, err)

	assert.True(t, res.Success)
	require.Len(t, res.Log, 2)
	assert.Equal(t, schema.StepStatusFailed, res.Log[0].Status)
	assert.Equal(t, schema.StepStatusCompleted, res.Log[1].Status)

	placeholder := res.Outputs["k"].(map[string]any)
	assert.Equal(t, map[string]any{"error": res.Log[0].Error}, placeholder)
	assert.Contains(t, placeholder["error"], "kaput")

	echo := res.Outputs["k1"].(map[string]any)["echo"].(map[string]any)
	assert.Equal(t, placeholder["error"], echo["prev"])
}

func TestRun_InvalidDefinition(t *testing.T) {
	e, _ := newTestEngine(t, Config{}, echoTool("a"))

	res, err := e.Run(context.Background(), steps(
		schema.StepDefinition{ID: "s1", Tool: "a"},
		schema.StepDefinition{ID: "s1", Tool: "a"},
	), nil)
	assert.Nil(t, res)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))

	res, err = e.Run(context.Background(), steps(schema.StepDefinition{ID: "s1", Tool: "a", OnError: "maybe"}), nil)
	assert.Nil(t, res)
	assert.Error(t, err)
}

func TestRun_UnknownToolFailsStep(t *testing.T) {
	e, sink := newTestEngine(t, Config{}, echoTool("a"))

	res, err := e.Run(context.Background(), steps(
		schema.StepDefinition{ID: "s1", Tool: "ghost"},
		schema.StepDefinition{ID: "s2", Tool: "a"},
	), nil)
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.False(t, res.Success)
	assert.Equal(t, schema.ErrCodeToolNotFound, res.ErrorCode)
	require.Len(t, res.Log, 1)
	assert.Equal(t, schema.StepStatusFailed, res.Log[0].Status)
	assert.Contains(t, res.Log[0].Error, "ghost")

	recs := sink.records()
	require.Len(t, recs, 1)
	assert.Equal(t, "ghost", recs[0].ToolName)
	assert.False(t, recs[0].Success)

	// Validate still rejects the same definition up front.
	assert.False(t, e.Validate(steps(schema.StepDefinition{ID: "s1", Tool: "ghost"})).Valid())
}

func TestRun_UnknownToolOnErrorContinue(t *testing.T) {
	e, _ := newTestEngine(t, Config{}, echoTool("a"))

	res, err := e.Run(context.Background(), steps(
		schema.StepDefinition{ID: "s1", Tool: "ghost", OnError: schema.OnErrorContinue},
		schema.StepDefinition{ID: "s2", Tool: "a", Input: "{{s1.error}}"},
	), nil)
	require.NoError(t, err)

	assert.True(t, res.Success)
	require.Len(t, res.Log, 2)
	assert.Equal(t, schema.StepStatusFailed, res.Log[0].Status)
	assert.Equal(t, schema.StepStatusCompleted, res.Log[1].Status)

	placeholder := res.Outputs["s1"].(map[string]any)
	assert.Contains(t, placeholder["error"], "ghost")
	assert.Equal(t, placeholder["error"], res.Outputs["s2"].(map[string]any)["echo"])
}

func TestRun_UnknownToolIsRetried(t *testing.T) {
	e, sink := newTestEngine(t, Config{}, echoTool("a"))

	res, err := e.Run(context.Background(), steps(
		schema.StepDefinition{ID: "s1", Tool: "ghost", Retry: &schema.RetryPolicy{MaxAttempts: 3, DelayMs: 1}},
	), nil)
	require.NoError(t, err)

	assert.False(t, res.Success)
	require.Len(t, res.Log, 1)
	assert.Equal(t, 3, res.Log[0].Attempts)
	assert.Equal(t, schema.ErrCodeToolNotFound, res.ErrorCode)

	recs := sink.records()
	require.Len(t, recs, 1)
	assert.Equal(t, 3, recs[0].Attempts)
}

// --- Retry and timeout ---

func TestRun_RetryLinearBackoff(t *testing.T) {
	var calls int64
	e, sink := newTestEngine(t, Config{}, tool("flaky", func(context.Context, any) (map[string]any, error) {
		if atomic.AddInt64(&calls, 1) <= 2 {
			return nil, errors.New("temporary")
		}
		return map[string]any{"ok": true}, nil
	}))

	start := time.Now()
	res, err := e.Run(context.Background(), steps(
		schema.StepDefinition{ID: "s1", Tool: "flaky", Retry: &schema.RetryPolicy{MaxAttempts: 3, DelayMs: 100}},
	), nil)
	require.NoError(t, err)

	assert.True(t, res.Success)
	require.Len(t, res.Log, 1)
	assert.Equal(t, schema.StepStatusCompleted, res.Log[0].Status)
	assert.Equal(t, 3, res.Log[0].Attempts)
	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)

	recs := sink.records()
	require.Len(t, recs, 1, "one usage record per step, not per attempt")
	assert.Equal(t, 3, recs[0].Attempts)
	assert.True(t, recs[0].Success)
	assert.Nil(t, recs[0].Error)
}

func TestRun_TimeoutFailsStep(t *testing.T) {
	slow := tool("slow", func(ctx context.Context, _ any) (map[string]any, error) {
		select {
		case <-time.After(2 * time.Second):
			return map[string]any{"late": true}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	e, _ := newTestEngine(t, Config{}, slow, echoTool("after"))

	res, err := e.Run(context.Background(), steps(
		schema.StepDefinition{ID: "s1", Tool: "slow", Timeout: 30, OnError: schema.OnErrorContinue},
		schema.StepDefinition{ID: "s2", Tool: "after"},
	), nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, schema.StepStatusFailed, res.Log[0].Status)
	assert.Contains(t, res.Log[0].Error, "timed out")

	res, err = e.Run(context.Background(), steps(
		schema.StepDefinition{ID: "s1", Tool: "slow", Timeout: 30},
		schema.StepDefinition{ID: "s2", Tool: "after"},
	), nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, schema.ErrCodeTimeout, res.ErrorCode)
	assert.Len(t, res.Log, 1)
}

func TestRun_DefaultTimeoutFromConfig(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	e, _ := newTestEngine(t, Config{DefaultTimeout: 25 * time.Millisecond},
		tool("stuck", func(context.Context, any) (map[string]any, error) {
			<-block
			return nil, nil
		}))

	start := time.Now()
	res, err := e.Run(context.Background(), steps(schema.StepDefinition{ID: "s1", Tool: "stuck"}), nil)
	require.NoError(t, err)
	assert.Equal(t, schema.ErrCodeTimeout, res.ErrorCode)
	assert.Less(t, time.Since(start), time.Second)
}

// --- Dispatch routing ---

func TestRun_ToolRouting(t *testing.T) {
	reg := tools.NewRegistry()
	require.NoError(t, reg.Declare(tools.Definition{Name: "post_tweet", Category: "social_publishing"}))
	require.NoError(t, reg.Declare(tools.Definition{Name: "delete_contact", Category: tools.CategoryCRM}))
	sink := &usageRecorder{}
	e, err := New(reg, Config{SkipTerminalRetries: true}, WithUsageSink(sink), WithLogger(logging.Discard()))
	require.NoError(t, err)
	defer e.Shutdown()

	res, err := e.Run(context.Background(), steps(
		schema.StepDefinition{ID: "tweet", Tool: "post_tweet"},
		schema.StepDefinition{ID: "del", Tool: "delete_contact", Retry: &schema.RetryPolicy{MaxAttempts: 4, DelayMs: 1000}},
	), nil)
	require.NoError(t, err)

	ack := res.Outputs["tweet"].(map[string]any)
	assert.Equal(t, true, ack["acknowledged"])
	assert.Equal(t, "social_publishing", ack["category"])

	assert.False(t, res.Success)
	assert.Equal(t, schema.ErrCodeToolNotImplemented, res.ErrorCode)
	assert.Equal(t, 1, res.Log[1].Attempts, "terminal errors are not retried when skipping")

	recs := sink.records()
	require.Len(t, recs, 2)
	assert.Equal(t, "crm", recs[1].Category)
}

func TestRun_NonFlowErrorWrapped(t *testing.T) {
	e, _ := newTestEngine(t, Config{}, failingTool("bad", "disk on fire"))
	res, err := e.Run(context.Background(), steps(schema.StepDefinition{ID: "s1", Tool: "bad"}), nil)
	require.NoError(t, err)
	assert.Equal(t, schema.ErrCodeToolExecution, res.ErrorCode)
	assert.Contains(t, res.Error, "disk on fire")
}

// --- Usage sink ---

func TestRun_UsageSinkFailureIsTolerated(t *testing.T) {
	reg := tools.NewRegistry()
	require.NoError(t, reg.Register(echoTool("a")))
	var calls int64
	sink := SinkFunc(func(context.Context, UsageRecord) error {
		atomic.AddInt64(&calls, 1)
		return errors.New("db down")
	})
	e, err := New(reg, Config{}, WithUsageSink(sink), WithLogger(logging.Discard()))
	require.NoError(t, err)
	defer e.Shutdown()

	res, err := e.Run(context.Background(), steps(
		schema.StepDefinition{ID: "s1", Tool: "a"},
		schema.StepDefinition{ID: "s2", Tool: "a"},
	), nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.EqualValues(t, 2, atomic.LoadInt64(&calls))
}

func TestRun_UsageRecordFields(t *testing.T) {
	e, sink := newTestEngine(t, Config{}, echoTool("a"), failingTool("b", "nope"))

	res, err := e.Run(context.Background(), &schema.WorkflowDefinition{
		ID: "wf-usage",
		Steps: []schema.StepDefinition{
			{ID: "s1", Tool: "a", Input: map[string]any{"k": "v"}},
			{ID: "s2", Tool: "b", OnError: schema.OnErrorContinue},
		},
	}, nil)
	require.NoError(t, err)

	recs := sink.records()
	require.Len(t, recs, 2)
	assert.Equal(t, "a", recs[0].ToolName)
	assert.Equal(t, "wf-usage", recs[0].WorkflowID)
	assert.Equal(t, res.ExecutionID, recs[0].ExecutionID)
	assert.Equal(t, "s1", recs[0].StepID)
	assert.Equal(t, map[string]any{"k": "v"}, recs[0].Input)
	assert.NotNil(t, recs[0].Output)
	assert.True(t, recs[0].Success)

	assert.False(t, recs[1].Success)
	assert.Nil(t, recs[1].Output)
	require.NotNil(t, recs[1].Error)
	assert.Contains(t, *recs[1].Error, "nope")
}

// --- Cancellation and events ---

func TestRun_CancelledBeforeNextStep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := tools.NewRegistry()
	require.NoError(t, reg.Register(echoTool("a")))
	require.NoError(t, reg.Register(echoTool("never")))
	// Cancel once the first step has completed, before the runner moves on.
	obs := ObserverFunc(func(_ context.Context, ev Event) {
		if ev.Type == schema.EventStepCompleted && ev.StepID == "s1" {
			cancel()
		}
	})
	e, err := New(reg, Config{}, WithObserver(obs), WithLogger(logging.Discard()))
	require.NoError(t, err)
	defer e.Shutdown()

	res, err := e.Run(ctx, steps(
		schema.StepDefinition{ID: "s1", Tool: "a"},
		schema.StepDefinition{ID: "s2", Tool: "never"},
	), nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, schema.ErrCodeCancelled, res.ErrorCode)
	assert.Contains(t, res.Error, "s2")
	assert.Len(t, res.Log, 1)
	assert.Contains(t, res.Outputs, "s1")
}

func TestRun_EmitsEvents(t *testing.T) {
	reg := tools.NewRegistry()
	var calls int64
	require.NoError(t, reg.Register(tool("flaky", func(context.Context, any) (map[string]any, error) {
		if atomic.AddInt64(&calls, 1) == 1 {
			return nil, errors.New("once")
		}
		return nil, nil
	})))
	obs := &recordingObserver{}
	e, err := New(reg, Config{}, WithObserver(obs), WithLogger(logging.Discard()))
	require.NoError(t, err)
	defer e.Shutdown()

	_, err = e.Run(context.Background(), steps(
		schema.StepDefinition{ID: "s1", Tool: "flaky", Retry: &schema.RetryPolicy{MaxAttempts: 2, DelayMs: 1}},
	), nil)
	require.NoError(t, err)

	assert.Equal(t, []string{
		schema.EventWorkflowStarted,
		schema.EventStepStarted,
		schema.EventStepRetrying,
		schema.EventStepCompleted,
		schema.EventWorkflowCompleted,
	}, obs.types())
}

// --- Concurrency ---

func TestRun_ConcurrentRunsAreIndependent(t *testing.T) {
	e, _ := newTestEngine(t, Config{MaxConcurrentRuns: 4},
		tool("id", func(_ context.Context, input any) (map[string]any, error) {
			time.Sleep(5 * time.Millisecond)
			return map[string]any{"value": input}, nil
		}))
	def := steps(
		schema.StepDefinition{ID: "s1", Tool: "id", Input: "{{who}}"},
		schema.StepDefinition{ID: "s2", Tool: "id", Input: "{{s1.value}}-again"},
	)

	const n = 8
	results := make([]*schema.ExecutionResult, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := e.Run(context.Background(), def, map[string]any{"who": fmt.Sprintf("run-%d", i)})
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for i, res := range results {
		require.NotNil(t, res)
		assert.True(t, res.Success)
		assert.False(t, seen[res.ExecutionID])
		seen[res.ExecutionID] = true
		want := fmt.Sprintf("run-%d", i)
		assert.Equal(t, want, res.Outputs["s1"].(map[string]any)["value"])
		assert.Equal(t, want+"-again", res.Outputs["s2"].(map[string]any)["value"])
	}
	assert.EqualValues(t, n, e.PoolMetrics().Completed)
}

func TestRunAsync(t *testing.T) {
	e, _ := newTestEngine(t, Config{}, echoTool("a"))

	var got []*schema.ExecutionResult
	var mu sync.Mutex
	for i := 0; i < 3; i++ {
		require.NoError(t, e.RunAsync(context.Background(), steps(schema.StepDefinition{ID: "s", Tool: "a"}), nil,
			func(r *schema.ExecutionResult) {
				mu.Lock()
				got = append(got, r)
				mu.Unlock()
			}))
	}
	e.Wait()
	assert.Len(t, got, 3)

	err := e.RunAsync(context.Background(), steps(
		schema.StepDefinition{ID: "s", Tool: "a"},
		schema.StepDefinition{ID: "s", Tool: "a"},
	), nil, nil)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

func TestRun_AfterShutdown(t *testing.T) {
	e, _ := newTestEngine(t, Config{}, echoTool("a"))
	e.Shutdown()

	res, err := e.Run(context.Background(), steps(schema.StepDefinition{ID: "s", Tool: "a"}), nil)
	assert.Nil(t, res)
	assert.Equal(t, schema.ErrCodeCancelled, schema.CodeOf(err))
}

func TestNew_RequiresRegistry(t *testing.T) {
	_, err := New(nil, Config{})
	assert.Error(t, err)
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
