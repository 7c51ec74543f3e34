package events

import (
	"sync"

	"riskledger/core/types"
)

// Event represents a structured state change emitted by the ledger.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (audit sinks, metrics,
// log streams).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Multi fans every event out to each emitter in order.
type Multi []Emitter

// Emit implements the Emitter interface.
func (m Multi) Emit(e Event) {
	for _, emitter := range m {
		if emitter != nil {
			emitter.Emit(e)
		}
	}
}

// Recorder keeps every emitted event in memory. Tests use it to assert on the
// audit trail.
type Recorder struct {
	mu     sync.Mutex
	events []*types.Event
}

// Emit implements the Emitter interface. Events that do not carry a normalized
// payload are recorded with their type only.
func (r *Recorder) Emit(e Event) {
	if r == nil || e == nil {
		return
	}
	var normalized *types.Event
	switch v := e.(type) {
	case *types.Event:
		normalized = v.Clone()
	case interface{ Event() *types.Event }:
		normalized = v.Event()
	default:
		normalized = &types.Event{Type: e.EventType(), Attributes: map[string]string{}}
	}
	r.mu.Lock()
	r.events = append(r.events, normalized)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []*types.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*types.Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types returns the recorded event types in emission order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

// Reset drops all recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
