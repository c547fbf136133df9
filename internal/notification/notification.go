// Package notification delivers Guardian events to humans and other systems.
//
// Every type here implements guardian.EventSink. Sinks that perform I/O should
// be wrapped in a Dispatcher so the Guardian never waits on them.
package notification

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"guardian/internal/guardian"
)

// Summary renders a one-line, human readable description of an event.
func Summary(event guardian.Event) string {
	p := event.Payload
	switch event.Kind {
	case guardian.EventCreated:
		summary := fmt.Sprintf("created %q (%v, %v)", p["description"], p["kind"], p["priority"])
		if deps, ok := p["dependencies"].([]string); ok && len(deps) > 0 {
			summary += " after " + strings.Join(deps, ", ")
		}
		return summary
	case guardian.EventDependencyResolved:
		return fmt.Sprintf("unblocked by %v", p["prerequisite"])
	}

	if from, ok := p["from"]; ok {
		summary := fmt.Sprintf("%v -> %v", from, p["to"])
		if reason, _ := p["reason"].(string); reason != "" {
			summary += fmt.Sprintf(" (%s)", reason)
		}
		return summary
	}
	if files, ok := p["files"].([]string); ok {
		return "touched " + strings.Join(files, ", ")
	}
	if effort, ok := p["actual_effort"]; ok {
		return fmt.Sprintf("actual effort %v min", effort)
	}

	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, p[k]))
	}
	return strings.Join(parts, " ")
}

// Recorder keeps every event it receives in memory.
type Recorder struct {
	mu     sync.Mutex
	events []guardian.Event
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Notify records the event.
func (r *Recorder) Notify(_ context.Context, event guardian.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event.Clone())
	return nil
}

// Events returns copies of the recorded events in arrival order.
func (r *Recorder) Events() []guardian.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]guardian.Event, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Clone()
	}
	return out
}

// Kinds returns the kinds of the recorded events in arrival order.
func (r *Recorder) Kinds() []guardian.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]guardian.EventKind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}

// Len returns the number of recorded events.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// Reset drops every recorded event.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

type fanout []guardian.EventSink

// Fanout returns a sink that forwards each event to every non-nil sink in
// order. Errors from individual sinks are joined; a failing sink does not stop
// delivery to the rest.
func Fanout(sinks ...guardian.EventSink) guardian.EventSink {
	out := make(fanout, 0, len(sinks))
	for _, sink := range sinks {
		if sink != nil {
			out = append(out, sink)
		}
	}
	return out
}

func (f fanout) Notify(ctx context.Context, event guardian.Event) error {
	var errs []error
	for _, sink := range f {
		if err := sink.Notify(ctx, event.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
