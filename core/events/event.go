package events

// Event represents a structured state change emitted by the engine.
type Event struct {
	Type       string
	Attributes map[string]string
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(*Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(*Event) {}

// CollectingEmitter buffers every emitted event in order. Intended for tests
// and for tooling that replays engine activity.
type CollectingEmitter struct {
	Events []*Event
}

// Emit implements the Emitter interface.
func (c *CollectingEmitter) Emit(evt *Event) {
	if evt == nil {
		return
	}
	c.Events = append(c.Events, evt)
}
