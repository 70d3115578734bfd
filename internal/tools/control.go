package tools

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/flowrun/internal/expressions"
	"github.com/rendis/flowrun/pkg/schema"
)

const (
	defaultMaxDelay     = 5 * time.Minute
	defaultMaxIteration = 10000
	maxScheduleCount    = 100
)

// ControlConfig configures the control_flow tools.
type ControlConfig struct {
	CEL      *expressions.CELEngine
	MaxDelay time.Duration
	// Now is the clock used by schedule_next. Nil means time.Now.
	Now func() time.Time
}

// ControlFlowHandlers returns the control_flow category tools.
func ControlFlowHandlers(cfg ControlConfig) ([]Handler, error) {
	if cfg.CEL == nil {
		eng, err := expressions.NewCELEngine()
		if err != nil {
			return nil, err
		}
		cfg.CEL = eng
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = defaultMaxDelay
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return []Handler{
		&condition{cfg: cfg},
		&delay{cfg: cfg},
		&loopIteration{},
		&scheduleNext{
			cfg:    cfg,
			parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		},
	}, nil
}

// --- condition ---

type condition struct{ cfg ControlConfig }

func (*condition) Category() Category { return CategoryControlFlow }
func (*condition) Name() string       { return "condition" }
func (*condition) Description() string {
	return "Evaluate a CEL expression against `data`; reports the value and the taken branch"
}

func (a *condition) Invoke(ctx context.Context, input any) (map[string]any, error) {
	params, err := paramsOf("condition", input)
	if err != nil {
		return nil, err
	}
	expression, err := requireString("condition", params, "expression")
	if err != nil {
		return nil, err
	}

	data, ok := params["data"]
	if !ok {
		rest := make(map[string]any, len(params))
		for k, v := range params {
			if k != "expression" {
				rest[k] = v
			}
		}
		data = rest
	}

	result, err := a.cfg.CEL.Evaluate(ctx, expression, data)
	if err != nil {
		return nil, err
	}
	matched := truthy(result)
	branch := "false"
	if matched {
		branch = "true"
	}
	return map[string]any{
		"result":  result,
		"matched": matched,
		"branch":  branch,
	}, nil
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case int64:
		return t != 0
	case uint64:
		return t != 0
	case float64:
		return t != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}

// --- delay ---

type delay struct{ cfg ControlConfig }

func (*delay) Category() Category  { return CategoryControlFlow }
func (*delay) Name() string        { return "delay" }
func (*delay) Description() string { return "Pause the run for ms milliseconds (or a Go duration string)" }

func (a *delay) Invoke(ctx context.Context, input any) (map[string]any, error) {
	params, err := paramsOf("delay", input)
	if err != nil {
		return nil, err
	}

	d := time.Duration(intParam(params, "ms", 0)) * time.Millisecond
	if s := stringParam(params, "duration", ""); s != "" {
		parsed, perr := time.ParseDuration(s)
		if perr != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "delay: invalid duration %q", s).WithCause(perr)
		}
		d = parsed
	}
	if d < 0 {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "delay: negative duration %s", d)
	}
	if d > a.cfg.MaxDelay {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "delay: %s exceeds maximum %s", d, a.cfg.MaxDelay)
	}

	start := time.Now()
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return nil, schema.NewErrorf(schema.ErrCodeToolExecution, "delay interrupted: %v", ctx.Err()).WithCause(ctx.Err())
	}
	return map[string]any{"delayed_ms": time.Since(start).Milliseconds()}, nil
}

// --- loop_iteration ---

// loopIteration reports iteration bookkeeping for a collection. It does not
// execute anything per item.
type loopIteration struct{}

func (*loopIteration) Category() Category { return CategoryControlFlow }
func (*loopIteration) Name() string       { return "loop_iteration" }
func (*loopIteration) Description() string {
	return "Report iteration counts and the current item for `items` (or `count`) at `index`"
}

func (a *loopIteration) Invoke(_ context.Context, input any) (map[string]any, error) {
	params, err := paramsOf("loop_iteration", input)
	if err != nil {
		return nil, err
	}

	items := sliceParam(params, "items")
	total := len(items)
	if items == nil {
		total = intParam(params, "count", 0)
	}
	if total < 0 || total > defaultMaxIteration {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"loop_iteration: count %d outside [0, %d]", total, defaultMaxIteration)
	}

	index := intParam(params, "index", 0)
	out := map[string]any{
		"total":      total,
		"index":      index,
		"iterations": total,
		"has_next":   index+1 < total,
		"done":       index >= total,
	}
	if items != nil && index >= 0 && index < total {
		out["item"] = items[index]
	}
	return out, nil
}

// --- schedule_next ---

type scheduleNext struct {
	cfg    ControlConfig
	parser cron.Parser
}

func (*scheduleNext) Category() Category { return CategoryControlFlow }
func (*scheduleNext) Name() string       { return "schedule_next" }
func (*scheduleNext) Description() string {
	return "Compute the next activation time(s) of a cron expression"
}

func (a *scheduleNext) Invoke(_ context.Context, input any) (map[string]any, error) {
	params, err := paramsOf("schedule_next", input)
	if err != nil {
		return nil, err
	}
	expr, err := requireString("schedule_next", params, "cron")
	if err != nil {
		return nil, err
	}
	sched, err := a.parser.Parse(expr)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "schedule_next: invalid cron %q: %v", expr, err).WithCause(err)
	}

	loc := time.UTC
	if tz := stringParam(params, "timezone", ""); tz != "" {
		l, lerr := time.LoadLocation(tz)
		if lerr != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "schedule_next: unknown timezone %q", tz).WithCause(lerr)
		}
		loc = l
	}

	from := a.cfg.Now().In(loc)
	if s := stringParam(params, "from", ""); s != "" {
		t, perr := time.Parse(time.RFC3339, s)
		if perr != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "schedule_next: invalid from %q", s).WithCause(perr)
		}
		from = t.In(loc)
	}

	count := intParam(params, "count", 1)
	if count < 1 || count > maxScheduleCount {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "schedule_next: count must be in [1, %d]", maxScheduleCount)
	}

	upcoming := make([]any, 0, count)
	t := from
	for i := 0; i < count; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		upcoming = append(upcoming, t.Format(time.RFC3339))
	}
	if len(upcoming) == 0 {
		return nil, schema.NewErrorf(schema.ErrCodeToolExecution, "schedule_next: cron %q never fires", expr)
	}

	return map[string]any{
		"cron":     expr,
		"next":     upcoming[0],
		"upcoming": upcoming,
	}, nil
}
