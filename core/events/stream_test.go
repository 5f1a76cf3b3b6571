package events

import "testing"

func TestStreamFanOut(t *testing.T) {
	stream := NewStream()
	idA, chA := stream.Subscribe(4)
	_, chB := stream.Subscribe(4)

	stream.Emit(&Event{Type: "test.event"})
	for _, ch := range []<-chan *Event{chA, chB} {
		select {
		case evt := <-ch:
			if evt.Type != "test.event" {
				t.Fatalf("event type = %s", evt.Type)
			}
		default:
			t.Fatalf("subscriber did not receive the event")
		}
	}

	stream.Unsubscribe(idA)
	if _, ok := <-chA; ok {
		t.Fatalf("channel should be closed after unsubscribe")
	}
	if got := stream.SubscriberCount(); got != 1 {
		t.Fatalf("subscriber count = %d, want 1", got)
	}
}

func TestStreamDropsWhenBufferFull(t *testing.T) {
	stream := NewStream()
	_, ch := stream.Subscribe(1)
	stream.Emit(&Event{Type: "first"})
	stream.Emit(&Event{Type: "second"})

	evt := <-ch
	if evt.Type != "first" {
		t.Fatalf("event type = %s, want first", evt.Type)
	}
	select {
	case evt := <-ch:
		t.Fatalf("unexpected buffered event %s", evt.Type)
	default:
	}
}

func TestTee(t *testing.T) {
	a := &CollectingEmitter{}
	b := &CollectingEmitter{}
	tee := Tee{a, nil, b}
	tee.Emit(&Event{Type: "test.event"})
	if len(a.Events) != 1 || len(b.Events) != 1 {
		t.Fatalf("tee did not forward to every sink")
	}
}
