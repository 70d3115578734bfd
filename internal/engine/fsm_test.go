package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/rendis/flowrun/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	mu     sync.Mutex
	events []Event
}

func (o *recordingObserver) OnEvent(_ context.Context, ev Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, ev)
}

func (o *recordingObserver) types() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, len(o.events))
	for i, ev := range o.events {
		out[i] = ev.Type
	}
	return out
}

func TestWorkflowFSM_ValidLifecycle(t *testing.T) {
	obs := &recordingObserver{}
	fsm := NewWorkflowFSM(obs)
	ctx := context.Background()
	ev := Event{ExecutionID: "e1", WorkflowID: "wf"}

	require.NoError(t, fsm.Transition(ctx, ev, "", schema.WorkflowStatusRunning))
	require.NoError(t, fsm.Transition(ctx, ev, schema.WorkflowStatusRunning, schema.WorkflowStatusFailed))

	assert.Equal(t, []string{schema.EventWorkflowStarted, schema.EventWorkflowFailed}, obs.types())
	assert.Equal(t, "e1", obs.events[0].ExecutionID)
	assert.False(t, obs.events[0].Timestamp.IsZero())
}

func TestWorkflowFSM_RejectsInvalid(t *testing.T) {
	obs := &recordingObserver{}
	fsm := NewWorkflowFSM(obs)

	err := fsm.Transition(context.Background(), Event{}, schema.WorkflowStatusCompleted, schema.WorkflowStatusRunning)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeConflict, schema.CodeOf(err))
	assert.Empty(t, obs.types())
}

func TestStepFSM_TransitionsAndHooks(t *testing.T) {
	obs := &recordingObserver{}
	fsm := NewStepFSM(obs)
	ctx := context.Background()

	var hooked []string
	fsm.OnAfter(schema.StepStatusRunning, schema.StepStatusCompleted, func(from, to string) {
		hooked = append(hooked, from+"->"+to)
	})

	ev := Event{ExecutionID: "e1", StepID: "s1"}
	require.NoError(t, fsm.Transition(ctx, ev, schema.StepStatusPending, schema.StepStatusRunning))
	require.NoError(t, fsm.Transition(ctx, ev, schema.StepStatusRunning, schema.StepStatusCompleted))

	err := fsm.Transition(ctx, ev, schema.StepStatusCompleted, schema.StepStatusFailed)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s1")

	assert.Equal(t, []string{schema.EventStepStarted, schema.EventStepCompleted}, obs.types())
	assert.Equal(t, []string{"running->completed"}, hooked)
}

func TestFSM_NilObserver(t *testing.T) {
	fsm := NewStepFSM(nil)
	assert.NoError(t, fsm.Transition(context.Background(), Event{}, schema.StepStatusPending, schema.StepStatusRunning))
}

func TestObservers_FanOut(t *testing.T) {
	var got []string
	a := ObserverFunc(func(_ context.Context, ev Event) { got = append(got, "a:"+ev.Type) })
	b := ObserverFunc(func(_ context.Context, ev Event) { got = append(got, "b:"+ev.Type) })

	Observers(a, nil, b).OnEvent(context.Background(), Event{Type: schema.EventStepStarted})
	assert.Equal(t, []string{"a:step_started", "b:step_started"}, got)

	Observers().OnEvent(context.Background(), Event{Type: schema.EventStepStarted})
	assert.Len(t, got, 2)
}
