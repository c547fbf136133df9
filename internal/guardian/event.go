package guardian

import (
	"context"
	"time"
)

// EventKind classifies an Event.
type EventKind string

const (
	EventCreated            EventKind = "created"
	EventUpdated            EventKind = "updated"
	EventCompleted          EventKind = "completed"
	EventFailed             EventKind = "failed"
	EventDependencyResolved EventKind = "dependency_resolved"
)

// Event is an immutable record of one change observed by the Guardian.
type Event struct {
	ID        string         `json:"id"`
	Kind      EventKind      `json:"kind"`
	TaskID    string         `json:"task_id"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Clone returns a deep copy of the event payload.
func (e Event) Clone() Event {
	if e.Payload == nil {
		return e
	}
	payload := make(map[string]any, len(e.Payload))
	for k, v := range e.Payload {
		if list, ok := v.([]string); ok {
			v = cloneStrings(list)
		}
		payload[k] = v
	}
	e.Payload = payload
	return e
}

// EventSink receives every emitted event when notifications are enabled.
// Delivery is fire-and-forget: returned errors are logged and dropped.
type EventSink interface {
	Notify(ctx context.Context, event Event) error
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(ctx context.Context, event Event) error

// Notify calls f.
func (f SinkFunc) Notify(ctx context.Context, event Event) error {
	return f(ctx, event)
}

func eventKindFor(to State) EventKind {
	switch to {
	case StateCompleted:
		return EventCompleted
	case StateFailed:
		return EventFailed
	default:
		return EventUpdated
	}
}
