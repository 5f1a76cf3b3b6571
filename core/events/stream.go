package events

import (
	"sync"

	"github.com/google/uuid"
)

// Stream is a fan-out Emitter: every emitted event is delivered to each live
// subscriber. Delivery is non-blocking; a subscriber that falls behind its
// buffer misses events rather than stalling the engine.
type Stream struct {
	mu   sync.Mutex
	subs map[string]chan *Event
}

// NewStream returns an empty stream with no subscribers.
func NewStream() *Stream {
	return &Stream{subs: make(map[string]chan *Event)}
}

// Emit implements the Emitter interface.
func (s *Stream) Emit(evt *Event) {
	if evt == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Subscribe registers a new subscriber with the given channel buffer and
// returns its identifier together with the receive channel.
func (s *Stream) Subscribe(buffer int) (string, <-chan *Event) {
	if buffer <= 0 {
		buffer = 16
	}
	id := uuid.NewString()
	ch := make(chan *Event, buffer)
	s.mu.Lock()
	s.subs[id] = ch
	s.mu.Unlock()
	return id, ch
}

// Unsubscribe removes the subscriber and closes its channel.
func (s *Stream) Unsubscribe(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.subs[id]
	if !ok {
		return
	}
	delete(s.subs, id)
	close(ch)
}

// SubscriberCount reports the number of live subscribers.
func (s *Stream) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Tee forwards every event to each of the given emitters. Useful to combine a
// Stream with another sink.
type Tee []Emitter

// Emit implements the Emitter interface.
func (t Tee) Emit(evt *Event) {
	for _, emitter := range t {
		if emitter != nil {
			emitter.Emit(evt)
		}
	}
}
