package events

import (
	"github.com/kelindar/event"
)

// Bus wraps a kelindar/event dispatcher. Each subscriber gets its own
// goroutine, so delivery is asynchronous but ordered per subscriber.
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		dispatcher: event.NewDispatcher(),
	}
}

// Publish publishes an event to all subscribers of its concrete type.
// Usage: bus.Publish(CommandEndedEvent{...})
func (b *Bus) Publish(ev Event) {
	switch e := ev.(type) {
	case CommandQueuedEvent:
		event.Publish(b.dispatcher, e)
	case CommandStartedEvent:
		event.Publish(b.dispatcher, e)
	case CommandEndedEvent:
		event.Publish(b.dispatcher, e)
	case CommandSpawnFailedEvent:
		event.Publish(b.dispatcher, e)
	case ConcurrencyChangedEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe registers handler for the event type named by its parameter and
// returns an unsubscribe function. Unknown handler types get a no-op.
// Usage: unsub := bus.Subscribe(func(e CommandEndedEvent) { ... })
func (b *Bus) Subscribe(handler any) func() {
	switch h := handler.(type) {
	case func(CommandQueuedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(CommandStartedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(CommandEndedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(CommandSpawnFailedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(ConcurrencyChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		return func() {}
	}
}

// Close stops every subscriber goroutine.
func (b *Bus) Close() error {
	return b.dispatcher.Close()
}
