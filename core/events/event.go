package events

import "sync"

// Event is a typed, flat record of a committed state transition.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Clone returns a deep copy so subscribers cannot mutate shared attributes.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	clone := &Event{Type: e.Type, Attributes: make(map[string]string, len(e.Attributes))}
	for k, v := range e.Attributes {
		clone.Attributes[k] = v
	}
	return clone
}

// Emitter broadcasts events to downstream subscribers (e.g. journals, indexers).
type Emitter interface {
	Emit(*Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(*Event) {}

// Fanout forwards every event to each wrapped emitter in order.
type Fanout []Emitter

// Emit implements the Emitter interface.
func (f Fanout) Emit(evt *Event) {
	for _, emitter := range f {
		if emitter != nil {
			emitter.Emit(evt)
		}
	}
}

// Buffer records events in memory. Safe for concurrent use.
type Buffer struct {
	mu     sync.Mutex
	events []*Event
}

// Emit implements the Emitter interface.
func (b *Buffer) Emit(evt *Event) {
	if b == nil || evt == nil {
		return
	}
	b.mu.Lock()
	b.events = append(b.events, evt.Clone())
	b.mu.Unlock()
}

// Events returns a copy of everything recorded so far.
func (b *Buffer) Events() []*Event {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Event, len(b.events))
	copy(out, b.events)
	return out
}

// OfType filters recorded events by type.
func (b *Buffer) OfType(kind string) []*Event {
	var out []*Event
	for _, evt := range b.Events() {
		if evt.Type == kind {
			out = append(out, evt)
		}
	}
	return out
}
