package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/rendis/flowrun/internal/engine"
	"github.com/rendis/flowrun/pkg/schema"
)

// EventLog journals engine run events into the store and replays them into
// per-step state. It implements engine.EventObserver.
type EventLog struct {
	store  Store
	logger *slog.Logger
}

var _ engine.EventObserver = (*EventLog)(nil)

// NewEventLog wraps a Store. A nil logger uses slog.Default().
func NewEventLog(s Store, logger *slog.Logger) *EventLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventLog{store: s, logger: logger}
}

// OnEvent appends ev to the journal. Append failures are logged; they never
// affect the run. The write outlives cancellation of the run context.
func (el *EventLog) OnEvent(ctx context.Context, ev engine.Event) {
	var payload json.RawMessage
	if len(ev.Payload) > 0 {
		raw, err := json.Marshal(ev.Payload)
		if err != nil {
			el.logger.WarnContext(ctx, "event payload not serializable", "event", ev.Type, "error", err.Error())
		} else {
			payload = raw
		}
	}
	err := el.store.AppendEvent(context.WithoutCancel(ctx), &Event{
		ExecutionID: ev.ExecutionID,
		WorkflowID:  ev.WorkflowID,
		StepID:      ev.StepID,
		Type:        ev.Type,
		Payload:     payload,
		Timestamp:   ev.Timestamp,
	})
	if err != nil {
		el.logger.WarnContext(ctx, "event journal append failed", "event", ev.Type, "error", err.Error())
	}
}

// Events returns the journal for an execution with sequence > since.
func (el *EventLog) Events(ctx context.Context, executionID string, since int64) ([]*Event, error) {
	return el.store.GetEvents(ctx, executionID, since)
}

// ReplaySteps rebuilds step states for an execution from its journal.
// A gap in the sequence is reported as STORE_ERROR.
func (el *EventLog) ReplaySteps(ctx context.Context, executionID string) (map[string]*StepState, error) {
	events, err := el.store.GetEvents(ctx, executionID, 0)
	if err != nil {
		return nil, fmt.Errorf("get events for replay: %w", err)
	}

	for i, e := range events {
		if want := int64(i + 1); e.Sequence != want {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in execution %s: expected %d, got %d", executionID, want, e.Sequence)
		}
	}

	states := make(map[string]*StepState)
	for _, e := range events {
		if e.StepID == "" {
			continue
		}
		ss, ok := states[e.StepID]
		if !ok {
			ss = &StepState{StepID: e.StepID, Status: schema.StepStatusPending}
			states[e.StepID] = ss
		}

		switch e.Type {
		case schema.EventStepStarted:
			ss.Status = schema.StepStatusRunning
			ts := e.Timestamp
			ss.StartedAt = &ts
		case schema.EventStepCompleted:
			ss.Status = schema.StepStatusCompleted
			ts := e.Timestamp
			ss.CompletedAt = &ts
			if ss.StartedAt != nil {
				ss.DurationMs = ts.Sub(*ss.StartedAt).Milliseconds()
			}
		case schema.EventStepFailed:
			ss.Status = schema.StepStatusFailed
			ts := e.Timestamp
			ss.CompletedAt = &ts
			ss.Error = payloadError(e.Payload)
		case schema.EventStepRetrying:
			ss.Retries++
		}
	}
	return states, nil
}

func payloadError(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var p struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return ""
	}
	return p.Error
}
