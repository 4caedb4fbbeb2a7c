package events

// Event represents a structured state change emitted by the ledger.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Recorder captures emitted events in order. Intended for tests and for
// in-process subscribers that drain the backlog themselves.
type Recorder struct {
	events []Event
}

// Emit implements the Emitter interface.
func (r *Recorder) Emit(evt Event) {
	r.events = append(r.events, evt)
}

// Events returns the captured events in emission order.
func (r *Recorder) Events() []Event {
	return append([]Event(nil), r.events...)
}

// Reset discards everything captured so far.
func (r *Recorder) Reset() {
	r.events = nil
}
