// Package eventbus provides the typed, channel-based event dispatch used by
// every meshberry component, replacing the source design's ad-hoc named
// string events (spec.md §9, "Event-bus style → typed channels") with a
// closed sum type per component.
package eventbus

import "sync"

// Event is the closed sum type every component-specific event struct
// implements. Kind returns a short stable tag for logging/metrics; the
// concrete struct carries the event's actual payload.
type Event interface {
	Kind() string
}

// Bus dispatches Events to a single buffered channel. Sends are
// non-blocking: a full channel drops the event rather than stalling the
// single-threaded cooperative loop described in spec.md §5.
//
// Grounded on the teacher's internal/eventdispatch.Dispatcher, generalized
// from one concrete event type to the Event interface.
type Bus struct {
	events chan Event
	mu     sync.Mutex
	closed bool

	onDrop func(Event)
}

// New creates a Bus with the given buffer size. onDrop, if non-nil, is
// called (outside any lock) whenever a full buffer forces an event to be
// dropped, so callers can surface it as a metric.
func New(bufferSize int, onDrop func(Event)) *Bus {
	return &Bus{
		events: make(chan Event, bufferSize),
		onDrop: onDrop,
	}
}

// Emit publishes an event. Non-blocking: if the buffer is full, the event
// is dropped and onDrop (if set) is invoked.
func (b *Bus) Emit(evt Event) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	select {
	case b.events <- evt:
	default:
		if b.onDrop != nil {
			b.onDrop(evt)
		}
	}
}

// Events returns the channel consumers read from. It is closed when Close
// is called.
func (b *Bus) Events() <-chan Event {
	return b.events
}

// Close closes the events channel. Idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.events)
	}
}
