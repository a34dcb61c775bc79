package events

import (
	"sync"

	"github.com/minanew12/eurodollar-protocol-sub001/core/types"
)

// Event represents a structured state change emitted by the ledger.
type Event interface {
	EventType() string
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. the HTTP API, the
// audit log).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Recorder buffers emitted events until they are drained. The ledger facade
// uses it to collect the events of a single call and drop them on revert.
type Recorder struct {
	mu     sync.Mutex
	events []*types.Event
}

// Emit implements the Emitter interface.
func (r *Recorder) Emit(evt Event) {
	if r == nil || evt == nil {
		return
	}
	rendered := evt.Event()
	if rendered == nil {
		return
	}
	r.mu.Lock()
	r.events = append(r.events, rendered)
	r.mu.Unlock()
}

// Len reports the number of buffered events.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// Truncate drops every event recorded after the first n.
func (r *Recorder) Truncate(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n < 0 {
		n = 0
	}
	if n < len(r.events) {
		r.events = r.events[:n]
	}
}

// Drain returns the buffered events and resets the recorder.
func (r *Recorder) Drain() []*types.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.events
	r.events = nil
	return out
}
