package guardian

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultEventLogCapacity is the number of events retained by default.
const DefaultEventLogCapacity = 1000

// eventLog is an append-only buffer that keeps the most recent events.
//
// Entries are only ever added and listed, never looked up, so the LRU order of
// the cache is insertion order and eviction drops the oldest event.
type eventLog struct {
	cache *lru.Cache[uint64, Event]
	seq   uint64
}

func newEventLog(capacity int, onEvict func(Event)) (*eventLog, error) {
	if capacity <= 0 {
		capacity = DefaultEventLogCapacity
	}
	cache, err := lru.NewWithEvict[uint64, Event](capacity, func(_ uint64, ev Event) {
		if onEvict != nil {
			onEvict(ev)
		}
	})
	if err != nil {
		return nil, err
	}
	return &eventLog{cache: cache}, nil
}

func (l *eventLog) append(ev Event) {
	l.seq++
	l.cache.Add(l.seq, ev)
}

// history returns copies of the retained events, oldest first.
func (l *eventLog) history() []Event {
	values := l.cache.Values()
	out := make([]Event, len(values))
	for i, ev := range values {
		out[i] = ev.Clone()
	}
	return out
}
