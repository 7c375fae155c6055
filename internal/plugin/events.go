package plugin

import (
	"context"

	"github.com/dshills/modgate/internal/event"
	"github.com/dshills/modgate/internal/event/events"
	"github.com/dshills/modgate/internal/event/topic"
)

// EventType is the type of a lifecycle event.
type EventType int

const (
	// EventLoaded is emitted when a unit becomes active.
	EventLoaded EventType = iota
	// EventUnloaded is emitted when an unload or removal succeeds.
	EventUnloaded
	// EventRejected is emitted when the scanner refuses a unit.
	EventRejected
	// EventFailed is emitted when any other operation fails.
	EventFailed
)

// String returns a string representation of the event type.
func (t EventType) String() string {
	switch t {
	case EventLoaded:
		return "loaded"
	case EventUnloaded:
		return "unloaded"
	case EventRejected:
		return "rejected"
	case EventFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Event describes the outcome of a lifecycle operation.
type Event struct {
	Type EventType
	Kind Kind
	Name string
	Err  error

	// Items are the flagged names of a rejected unit.
	Items []string
}

// Topic returns the bus topic the event type is published under.
func (t EventType) Topic() topic.Topic {
	switch t {
	case EventLoaded:
		return events.TopicUnitLoaded
	case EventUnloaded:
		return events.TopicUnitUnloaded
	case EventRejected:
		return events.TopicUnitRejected
	default:
		return events.TopicUnitFailed
	}
}

// EventHandler receives lifecycle events. Handlers run synchronously after
// the operation has released its locks; panics are recovered.
type EventHandler func(event Event)

// Subscribe adds an event handler on the loader's bus and returns a
// function that removes it.
func (l *Loader) Subscribe(handler EventHandler) func() {
	if handler == nil {
		return func() {}
	}

	sub, err := l.bus.Subscribe(events.TopicUnitAll, event.AsHandler(func(_ context.Context, e event.Event[Event]) error {
		handler(e.Payload)
		return nil
	}))
	if err != nil {
		l.logger.Error("subscribe: %v", err)
		return func() {}
	}
	return func() {
		_ = l.bus.Unsubscribe(sub)
	}
}

// Bus returns the bus lifecycle events are published on.
func (l *Loader) Bus() *event.Bus {
	return l.bus
}

func (l *Loader) emit(ctx context.Context, ev Event) {
	err := l.bus.Publish(context.WithoutCancel(ctx), event.NewEvent(ev.Type.Topic(), ev, "loader"))
	if err != nil {
		l.logger.Warn("event subscribers: %v", err)
	}
}
