// Package streaming fans live run events out to in-process subscribers.
package streaming

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rendis/flowrun/internal/engine"
)

const defaultBuffer = 64

// StreamEvent is one run event as delivered to subscribers.
type StreamEvent struct {
	Type        string         `json:"type"`
	ExecutionID string         `json:"execution_id"`
	WorkflowID  string         `json:"workflow_id"`
	StepID      string         `json:"step_id,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// Filter selects events. Empty fields match everything.
type Filter struct {
	ExecutionID string
	WorkflowID  string
	Types       []string
}

func (f Filter) match(e StreamEvent) bool {
	if f.ExecutionID != "" && f.ExecutionID != e.ExecutionID {
		return false
	}
	if f.WorkflowID != "" && f.WorkflowID != e.WorkflowID {
		return false
	}
	return len(f.Types) == 0 || slices.Contains(f.Types, e.Type)
}

type subscriber struct {
	ch     chan StreamEvent
	filter Filter
}

// Hub is an engine.EventObserver that republishes run events on buffered
// channels. A subscriber whose buffer is full misses events; runs are never
// slowed by a slow reader.
type Hub struct {
	mu      sync.RWMutex
	subs    map[uint64]*subscriber
	seq     atomic.Uint64
	dropped atomic.Int64
	buffer  int
}

var _ engine.EventObserver = (*Hub)(nil)

// NewHub creates a Hub. buffer <= 0 uses 64 events per subscriber.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub{subs: make(map[uint64]*subscriber), buffer: buffer}
}

// OnEvent publishes ev to every matching subscriber.
func (h *Hub) OnEvent(_ context.Context, ev engine.Event) {
	h.Publish(StreamEvent{
		Type:        ev.Type,
		ExecutionID: ev.ExecutionID,
		WorkflowID:  ev.WorkflowID,
		StepID:      ev.StepID,
		Timestamp:   ev.Timestamp,
		Payload:     ev.Payload,
	})
}

// Publish delivers e without blocking.
func (h *Hub) Publish(e StreamEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		if !sub.filter.match(e) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribe registers a subscriber. The returned cancel func removes it and
// closes the channel; it is safe to call more than once. The subscription is
// also cancelled when ctx is done.
func (h *Hub) Subscribe(ctx context.Context, f Filter) (<-chan StreamEvent, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	id := h.seq.Add(1)
	sub := &subscriber{ch: make(chan StreamEvent, h.buffer), filter: f}

	h.mu.Lock()
	h.subs[id] = sub
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			close(sub.ch)
			h.mu.Unlock()
		})
	}
	context.AfterFunc(ctx, cancel)
	return sub.ch, cancel, nil
}

// Subscribers returns the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped returns how many deliveries were skipped because a buffer was full.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }
