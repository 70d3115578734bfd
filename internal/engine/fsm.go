package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rendis/flowrun/pkg/schema"
)

// Event is a lifecycle notification emitted during a run.
type Event struct {
	Type        string         `json:"type"`
	ExecutionID string         `json:"execution_id"`
	WorkflowID  string         `json:"workflow_id,omitempty"`
	StepID      string         `json:"step_id,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// EventObserver receives run events. OnEvent is called synchronously on the
// run's goroutine and must not block for long.
type EventObserver interface {
	OnEvent(ctx context.Context, ev Event)
}

// ObserverFunc adapts a function to EventObserver.
type ObserverFunc func(ctx context.Context, ev Event)

// OnEvent calls f.
func (f ObserverFunc) OnEvent(ctx context.Context, ev Event) { f(ctx, ev) }

// Observers fans every event out to each non-nil observer, in order.
func Observers(obs ...EventObserver) EventObserver {
	var list multiObserver
	for _, o := range obs {
		if o != nil {
			list = append(list, o)
		}
	}
	return list
}

type multiObserver []EventObserver

func (m multiObserver) OnEvent(ctx context.Context, ev Event) {
	for _, o := range m {
		o.OnEvent(ctx, ev)
	}
}

// TransitionHook is called after a state transition.
type TransitionHook func(from, to string)

// ValidWorkflowTransitions defines the allowed state transitions for a run.
// The empty status is a run that has not started.
var ValidWorkflowTransitions = map[schema.WorkflowStatus][]schema.WorkflowStatus{
	"":                             {schema.WorkflowStatusRunning},
	schema.WorkflowStatusRunning:   {schema.WorkflowStatusCompleted, schema.WorkflowStatusFailed},
	schema.WorkflowStatusCompleted: {},
	schema.WorkflowStatusFailed:    {},
}

// ValidStepTransitions defines the allowed state transitions for steps.
var ValidStepTransitions = map[schema.StepStatus][]schema.StepStatus{
	schema.StepStatusPending:   {schema.StepStatusRunning},
	schema.StepStatusRunning:   {schema.StepStatusCompleted, schema.StepStatusFailed},
	schema.StepStatusCompleted: {},
	schema.StepStatusFailed:    {},
}

type hookKey[S ~string] struct{ from, to S }

// lifecycle validates transitions against a table and emits the event mapped
// to the target state.
type lifecycle[S ~string] struct {
	mu       sync.Mutex
	table    map[S][]S
	events   map[S]string
	observer EventObserver
	after    map[hookKey[S]][]TransitionHook
}

func newLifecycle[S ~string](table map[S][]S, events map[S]string, observer EventObserver) *lifecycle[S] {
	return &lifecycle[S]{
		table:    table,
		events:   events,
		observer: observer,
		after:    make(map[hookKey[S]][]TransitionHook),
	}
}

func (l *lifecycle[S]) onAfter(from, to S, hook TransitionHook) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := hookKey[S]{from, to}
	l.after[key] = append(l.after[key], hook)
}

func (l *lifecycle[S]) valid(from, to S) bool {
	for _, a := range l.table[from] {
		if a == to {
			return true
		}
	}
	return false
}

func (l *lifecycle[S]) transition(ctx context.Context, ev Event, from, to S) error {
	if !l.valid(from, to) {
		return schema.NewErrorf(schema.ErrCodeConflict, "invalid transition: %q -> %q", from, to).
			WithStep(ev.StepID).
			WithDetails(map[string]any{"from": string(from), "to": string(to)})
	}

	if t, ok := l.events[to]; ok && l.observer != nil {
		ev.Type = t
		if ev.Timestamp.IsZero() {
			ev.Timestamp = time.Now().UTC()
		}
		l.observer.OnEvent(ctx, ev)
	}

	l.mu.Lock()
	hooks := l.after[hookKey[S]{from, to}]
	l.mu.Unlock()
	for _, hook := range hooks {
		hook(string(from), string(to))
	}
	return nil
}

// WorkflowFSM manages run lifecycle transitions.
type WorkflowFSM struct {
	l *lifecycle[schema.WorkflowStatus]
}

// NewWorkflowFSM creates a WorkflowFSM emitting to observer, which may be nil.
func NewWorkflowFSM(observer EventObserver) *WorkflowFSM {
	return &WorkflowFSM{l: newLifecycle(ValidWorkflowTransitions, map[schema.WorkflowStatus]string{
		schema.WorkflowStatusRunning:   schema.EventWorkflowStarted,
		schema.WorkflowStatusCompleted: schema.EventWorkflowCompleted,
		schema.WorkflowStatusFailed:    schema.EventWorkflowFailed,
	}, observer)}
}

// OnAfter registers a hook called after a workflow transition.
func (f *WorkflowFSM) OnAfter(from, to schema.WorkflowStatus, hook TransitionHook) {
	f.l.onAfter(from, to, hook)
}

// Transition validates a run transition and emits the matching event.
func (f *WorkflowFSM) Transition(ctx context.Context, ev Event, from, to schema.WorkflowStatus) error {
	return f.l.transition(ctx, ev, from, to)
}

// StepFSM manages step lifecycle transitions.
type StepFSM struct {
	l *lifecycle[schema.StepStatus]
}

// NewStepFSM creates a StepFSM emitting to observer, which may be nil.
func NewStepFSM(observer EventObserver) *StepFSM {
	return &StepFSM{l: newLifecycle(ValidStepTransitions, map[schema.StepStatus]string{
		schema.StepStatusRunning:   schema.EventStepStarted,
		schema.StepStatusCompleted: schema.EventStepCompleted,
		schema.StepStatusFailed:    schema.EventStepFailed,
	}, observer)}
}

// OnAfter registers a hook called after a step transition.
func (f *StepFSM) OnAfter(from, to schema.StepStatus, hook TransitionHook) {
	f.l.onAfter(from, to, hook)
}

// Transition validates a step transition and emits the matching event.
func (f *StepFSM) Transition(ctx context.Context, ev Event, from, to schema.StepStatus) error {
	return f.l.transition(ctx, ev, from, to)
}

func emit(ctx context.Context, observer EventObserver, ev Event) {
	if observer == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	observer.OnEvent(ctx, ev)
}
