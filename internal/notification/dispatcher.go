package notification

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"guardian/internal/guardian"
	"guardian/internal/logging"
	"guardian/internal/observability"
)

const defaultDispatchBuffer = 256

var (
	// ErrQueueFull is returned when the dispatch buffer has no room; the event is dropped.
	ErrQueueFull = errors.New("notification queue full")
	// ErrDispatcherClosed is returned after Close.
	ErrDispatcherClosed = errors.New("notification dispatcher closed")
)

// Dispatcher decouples a slow sink from the caller. Notify only enqueues; one
// worker goroutine delivers events to the wrapped sink in arrival order.
type Dispatcher struct {
	sink   guardian.EventSink
	logger logging.Logger
	queue  chan guardian.Event

	mu     sync.RWMutex
	closed bool

	done      chan struct{}
	delivered atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

// NewDispatcher starts a dispatcher in front of sink. buffer <= 0 uses the
// default size.
func NewDispatcher(sink guardian.EventSink, buffer int, logger logging.Logger) *Dispatcher {
	if buffer <= 0 {
		buffer = defaultDispatchBuffer
	}
	d := &Dispatcher{
		sink:   sink,
		logger: logging.OrNop(logger),
		queue:  make(chan guardian.Event, buffer),
		done:   make(chan struct{}),
	}
	go d.run()
	return d
}

// Notify enqueues the event without blocking.
func (d *Dispatcher) Notify(_ context.Context, event guardian.Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	select {
	case d.queue <- event.Clone():
		return nil
	default:
		d.dropped.Add(1)
		return ErrQueueFull
	}
}

// Close stops accepting events and waits until queued ones are delivered or
// ctx is done.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats reports delivered, dropped and failed event counts.
func (d *Dispatcher) Stats() (delivered, dropped, failed uint64) {
	return d.delivered.Load(), d.dropped.Load(), d.failed.Load()
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for event := range d.queue {
		d.deliver(event)
	}
}

func (d *Dispatcher) deliver(event guardian.Event) {
	ctx := observability.ContextWithTaskID(context.Background(), event.TaskID)
	logger := logging.WithContext(ctx, d.logger)
	defer func() {
		if r := recover(); r != nil {
			d.failed.Add(1)
			logger.Error("Dispatcher: sink panicked on event %s: %v", event.ID, r)
		}
	}()
	if err := d.sink.Notify(ctx, event); err != nil {
		d.failed.Add(1)
		logger.Warn("Dispatcher: delivery of event %s failed: %v", event.ID, err)
		return
	}
	d.delivered.Add(1)
}
