// Package guardian implements an in-process task lifecycle orchestrator.
//
// A Guardian owns a task store, a fixed transition table, a dependency graph
// consulted when tasks complete, a bounded event log and an auto-retry
// scheduler for failed tasks. It is the only writer of task state: every
// mutation runs under one lock from validation through event emission, and
// event sinks are notified after the lock is released.
package guardian

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"guardian/internal/logging"
	"guardian/internal/observability"
	"guardian/internal/retry"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Guardian is the task lifecycle orchestrator. It is safe for concurrent use.
type Guardian struct {
	config  Config
	clock   retry.Clock
	logger  logging.Logger
	metrics *Metrics
	tracer  trace.Tracer
	sinks   []EventSink
	newID   func(prefix string) string

	mu           sync.RWMutex
	store        *taskStore
	graph        *dependencyGraph
	events       *eventLog
	retries      *retry.Scheduler
	retryHandles map[string]*retry.Handle
}

// Option customizes a Guardian.
type Option func(*Guardian)

// WithLogger sets the logger. Defaults to the "guardian" component logger.
func WithLogger(logger logging.Logger) Option {
	return func(g *Guardian) {
		g.logger = logger
	}
}

// WithSinks appends event sinks notified when notifications are enabled.
func WithSinks(sinks ...EventSink) Option {
	return func(g *Guardian) {
		for _, sink := range sinks {
			if sink != nil {
				g.sinks = append(g.sinks, sink)
			}
		}
	}
}

// WithClock replaces the wall clock used for timestamps and retry timers.
func WithClock(clock retry.Clock) Option {
	return func(g *Guardian) {
		if clock != nil {
			g.clock = clock
		}
	}
}

// WithMetrics sets the metrics sink. Defaults to collectors on the global
// Prometheus registry.
func WithMetrics(metrics *Metrics) Option {
	return func(g *Guardian) {
		g.metrics = metrics
	}
}

// WithTracer sets the tracer. Defaults to the global OpenTelemetry provider.
func WithTracer(tracer trace.Tracer) Option {
	return func(g *Guardian) {
		if tracer != nil {
			g.tracer = tracer
		}
	}
}

// WithIDGenerator replaces the uuid-based id generator.
func WithIDGenerator(fn func(prefix string) string) Option {
	return func(g *Guardian) {
		if fn != nil {
			g.newID = fn
		}
	}
}

// New creates a Guardian. Zero-valued durations and capacities in cfg take
// their DefaultConfig values.
func New(cfg Config, opts ...Option) (*Guardian, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	g := &Guardian{
		config:       cfg,
		clock:        retry.RealClock(),
		tracer:       otel.Tracer(observability.TraceScope),
		newID:        newUUID,
		store:        newTaskStore(),
		graph:        newDependencyGraph(),
		retryHandles: make(map[string]*retry.Handle),
	}
	for _, opt := range opts {
		opt(g)
	}
	if logging.IsNil(g.logger) {
		g.logger = logging.NewComponentLogger("guardian")
	}
	if g.metrics == nil {
		g.metrics = defaultMetrics()
	}

	events, err := newEventLog(cfg.EventLogCapacity, func(Event) {
		g.metrics.IncEventsEvicted()
	})
	if err != nil {
		return nil, fmt.Errorf("create event log: %w", err)
	}
	g.events = events
	g.retries = retry.NewScheduler(cfg.RetryPolicy(), g.clock, g.onRetryDue, g.logger)

	return g, nil
}

func newUUID(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.New().String())
}

// Config returns the effective configuration.
func (g *Guardian) Config() Config {
	return g.config
}

// Close cancels every armed retry. The Guardian stays readable afterwards.
func (g *Guardian) Close() {
	g.mu.Lock()
	for taskID := range g.retryHandles {
		delete(g.retryHandles, taskID)
	}
	g.mu.Unlock()
	g.retries.Stop()
}

// CreateTasks seeds tasks from catalog and returns their ids in catalog order.
// The catalog is validated as a whole before any task is created.
func (g *Guardian) CreateTasks(ctx context.Context, catalog Catalog) ([]string, error) {
	ctx, span := g.startSpan(ctx, observability.SpanCreateTasks,
		attribute.Int(observability.AttrTaskCount, len(catalog.Tasks)))
	defer span.End()

	defs, deps, err := validateCatalog(catalog)
	if err != nil {
		markSpanResult(span, err)
		return nil, err
	}

	g.mu.Lock()
	now := g.clock.Now()
	ids := make([]string, len(defs))
	for i := range defs {
		ids[i] = g.newID("task")
	}
	events := make([]Event, 0, len(defs))
	for i, def := range defs {
		prereqs := make([]string, 0, len(deps[i]))
		for _, idx := range deps[i] {
			prereqs = append(prereqs, ids[idx])
		}
		events = append(events, g.createLocked(ids[i], def, prereqs, now))
	}
	g.mu.Unlock()

	markSpanResult(span, nil)
	g.logger.Info("Guardian: seeded %d tasks", len(ids))
	g.notify(ctx, events)
	return ids, nil
}

// CreateTask creates one task whose prerequisites must already exist.
func (g *Guardian) CreateTask(ctx context.Context, def TaskDefinition, prerequisites ...string) (string, error) {
	ctx, span := g.startSpan(ctx, observability.SpanCreateTasks,
		attribute.Int(observability.AttrTaskCount, 1))
	defer span.End()

	def, err := def.validate()
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
		markSpanResult(span, err)
		return "", err
	}

	g.mu.Lock()
	prereqs := make([]string, 0, len(prerequisites))
	seen := make(map[string]struct{}, len(prerequisites))
	for _, id := range prerequisites {
		if _, ok := g.store.get(id); !ok {
			g.mu.Unlock()
			err := &TaskNotFoundError{TaskID: id}
			markSpanResult(span, err)
			return "", err
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		prereqs = append(prereqs, id)
	}
	id := g.newID("task")
	event := g.createLocked(id, def, prereqs, g.clock.Now())
	g.mu.Unlock()

	markSpanResult(span, nil)
	g.logger.Info("Guardian: created task %s (%s)", id, def.Kind)
	g.notify(ctx, []Event{event})
	return id, nil
}

func validateCatalog(catalog Catalog) ([]TaskDefinition, map[int][]int, error) {
	defs := make([]TaskDefinition, len(catalog.Tasks))
	for i, raw := range catalog.Tasks {
		def, err := raw.validate()
		if err != nil {
			return nil, nil, &CatalogError{Index: i, Reason: err.Error()}
		}
		defs[i] = def
	}
	deps, err := normalizeCatalogDependencies(len(defs), catalog.Dependencies)
	if err != nil {
		return nil, nil, err
	}
	if err := validateAcyclic(len(defs), deps); err != nil {
		return nil, nil, err
	}
	return defs, deps, nil
}

// ValidateCatalog performs the structural checks CreateTasks applies, without
// creating anything.
func ValidateCatalog(catalog Catalog) error {
	_, _, err := validateCatalog(catalog)
	return err
}

func (g *Guardian) createLocked(id string, def TaskDefinition, prereqs []string, now time.Time) Event {
	task := &Task{
		ID:              id,
		Description:     def.Description,
		Kind:            def.Kind,
		State:           StatePending,
		Progress:        ProgressOf(StatePending),
		Priority:        def.Priority,
		Dependencies:    cloneStrings(prereqs),
		EstimatedEffort: cloneInt(def.EstimatedEffort),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	g.store.add(task)
	g.graph.set(id, prereqs)
	g.metrics.ObserveCreated()

	payload := map[string]any{
		"description": task.Description,
		"kind":        string(task.Kind),
		"priority":    string(task.Priority),
	}
	if len(prereqs) > 0 {
		payload["dependencies"] = cloneStrings(prereqs)
	}
	return g.emitLocked(EventCreated, id, now, payload)
}

// Transition moves a task to state to. The call is all-or-nothing: on error
// nothing about the task or the event log has changed.
func (g *Guardian) Transition(ctx context.Context, taskID string, to State, reason string) (TransitionRecord, error) {
	ctx, span := g.startSpan(ctx, observability.SpanTransition,
		observability.TransitionAttrs(taskID, "", string(to), reason)...)
	defer span.End()

	g.mu.Lock()
	record, events, err := g.transitionLocked(taskID, to, reason)
	g.mu.Unlock()

	markSpanResult(span, err)
	if err != nil {
		return TransitionRecord{}, err
	}
	span.SetAttributes(attribute.String(observability.AttrFromState, string(record.From)))
	g.notify(ctx, events)
	return record, nil
}

func (g *Guardian) transitionLocked(taskID string, to State, reason string) (TransitionRecord, []Event, error) {
	task, ok := g.store.get(taskID)
	if !ok {
		g.metrics.IncRejection(rejectNotFound)
		return TransitionRecord{}, nil, &TaskNotFoundError{TaskID: taskID}
	}
	from := task.State
	if !CanTransition(from, to) {
		g.metrics.IncRejection(rejectInvalid)
		return TransitionRecord{}, nil, &InvalidTransitionError{TaskID: taskID, From: from, To: to}
	}
	if to == StateCompleted {
		if unmet := g.unmetLocked(taskID); len(unmet) > 0 {
			g.metrics.IncRejection(rejectDependencies)
			return TransitionRecord{}, nil, &DependencyNotMetError{TaskID: taskID, Unmet: unmet}
		}
	}

	// Dependents whose last blocker may be this task.
	var blocked []string
	if !from.SatisfiesDependency() && to.SatisfiesDependency() {
		for _, dependent := range g.graph.dependentsOf(taskID) {
			if len(g.unmetLocked(dependent)) > 0 {
				blocked = append(blocked, dependent)
			}
		}
	}

	now := g.clock.Now()
	task.State = to
	task.Progress = ProgressOf(to)
	task.UpdatedAt = now

	record := TransitionRecord{
		TaskID:    taskID,
		From:      from,
		To:        to,
		Timestamp: now,
		Reason:    reason,
	}
	events := []Event{g.emitLocked(eventKindFor(to), taskID, now, map[string]any{
		"from":     string(from),
		"to":       string(to),
		"reason":   reason,
		"progress": task.Progress,
	})}
	for _, dependent := range blocked {
		if len(g.unmetLocked(dependent)) == 0 {
			events = append(events, g.emitLocked(EventDependencyResolved, dependent, now, map[string]any{
				"prerequisite": taskID,
			}))
		}
	}

	g.metrics.ObserveTransition(from, to)
	g.logger.Info("Guardian: task %s %s -> %s%s", taskID, from, to, formatReason(reason))

	if from == StateFailed {
		g.cancelRetryLocked(taskID)
	}
	switch to {
	case StateCompleted, StateVerified:
		task.RetryCount = 0
		g.retries.Reset(taskID)
	case StateFailed:
		if g.config.AutoRetryFailedTasks {
			g.scheduleRetryLocked(taskID)
		}
	case StateInProgress:
		g.warnConcurrencyLocked()
	}

	return record, events, nil
}

func formatReason(reason string) string {
	if strings.TrimSpace(reason) == "" {
		return ""
	}
	return fmt.Sprintf(" (%s)", reason)
}

// CheckDependencies returns a *DependencyNotMetError listing every
// prerequisite of taskID that is not Completed or Verified.
func (g *Guardian) CheckDependencies(taskID string) error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, ok := g.store.get(taskID); !ok {
		return &TaskNotFoundError{TaskID: taskID}
	}
	if unmet := g.unmetLocked(taskID); len(unmet) > 0 {
		return &DependencyNotMetError{TaskID: taskID, Unmet: unmet}
	}
	return nil
}

func (g *Guardian) unmetLocked(taskID string) []string {
	var unmet []string
	for _, prereqID := range g.graph.prerequisitesOf(taskID) {
		prereq, ok := g.store.get(prereqID)
		if !ok || !prereq.State.SatisfiesDependency() {
			unmet = append(unmet, prereqID)
		}
	}
	return unmet
}

func (g *Guardian) warnConcurrencyLocked() {
	limit := g.config.MaxConcurrentTasks
	if limit <= 0 {
		return
	}
	if active := g.store.countState(StateInProgress); active > limit {
		g.logger.Warn("Guardian: %d tasks in progress exceeds advisory limit %d", active, limit)
	}
}

// RecordFilesTouched adds paths to the task's file set. Blank and already
// recorded paths are ignored. State and progress are untouched.
func (g *Guardian) RecordFilesTouched(ctx context.Context, taskID string, files ...string) error {
	ctx, span := g.startSpan(ctx, observability.SpanRecord, observability.TaskAttrs(taskID)...)
	defer span.End()

	g.mu.Lock()
	task, ok := g.store.get(taskID)
	if !ok {
		g.mu.Unlock()
		err := &TaskNotFoundError{TaskID: taskID}
		markSpanResult(span, err)
		return err
	}

	seen := make(map[string]struct{}, len(task.FilesTouched))
	for _, existing := range task.FilesTouched {
		seen[existing] = struct{}{}
	}
	added := make([]string, 0, len(files))
	for _, file := range files {
		file = strings.TrimSpace(file)
		if file == "" {
			continue
		}
		if _, dup := seen[file]; dup {
			continue
		}
		seen[file] = struct{}{}
		added = append(added, file)
	}
	task.FilesTouched = append(task.FilesTouched, added...)

	now := g.clock.Now()
	task.UpdatedAt = now
	event := g.emitLocked(EventUpdated, taskID, now, map[string]any{
		"files": added,
	})
	g.mu.Unlock()

	markSpanResult(span, nil)
	g.notify(ctx, []Event{event})
	return nil
}

// RecordActualEffort stores the measured effort in minutes.
func (g *Guardian) RecordActualEffort(ctx context.Context, taskID string, minutes int) error {
	ctx, span := g.startSpan(ctx, observability.SpanRecord, observability.TaskAttrs(taskID)...)
	defer span.End()

	if minutes < 0 {
		err := fmt.Errorf("%w: %d", ErrNegativeEffort, minutes)
		markSpanResult(span, err)
		return err
	}

	g.mu.Lock()
	task, ok := g.store.get(taskID)
	if !ok {
		g.mu.Unlock()
		err := &TaskNotFoundError{TaskID: taskID}
		markSpanResult(span, err)
		return err
	}
	task.ActualEffort = &minutes
	now := g.clock.Now()
	task.UpdatedAt = now
	event := g.emitLocked(EventUpdated, taskID, now, map[string]any{
		"actual_effort": minutes,
	})
	g.mu.Unlock()

	markSpanResult(span, nil)
	g.notify(ctx, []Event{event})
	return nil
}

// Task returns a copy of one task.
func (g *Guardian) Task(taskID string) (Task, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	task, ok := g.store.get(taskID)
	if !ok {
		return Task{}, &TaskNotFoundError{TaskID: taskID}
	}
	return task.clone(), nil
}

// Tasks returns copies of all tasks in creation order.
func (g *Guardian) Tasks() []Task {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.store.snapshot(nil)
}

// TasksByState returns copies of the tasks currently in state.
func (g *Guardian) TasksByState(state State) []Task {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.store.snapshot(func(t *Task) bool { return t.State == state })
}

// TasksByKind returns copies of the tasks of kind.
func (g *Guardian) TasksByKind(kind Kind) []Task {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.store.snapshot(func(t *Task) bool { return t.Kind == kind })
}

// Dependencies returns the prerequisite ids of taskID in wiring order.
func (g *Guardian) Dependencies(taskID string) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if _, ok := g.store.get(taskID); !ok {
		return nil, &TaskNotFoundError{TaskID: taskID}
	}
	return cloneStrings(g.graph.prerequisitesOf(taskID)), nil
}

// Dependents returns the ids of tasks that list taskID as a prerequisite.
func (g *Guardian) Dependents(taskID string) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if _, ok := g.store.get(taskID); !ok {
		return nil, &TaskNotFoundError{TaskID: taskID}
	}
	return cloneStrings(g.graph.dependentsOf(taskID)), nil
}

// Progress counts Verified tasks against the total.
func (g *Guardian) Progress() ProgressSummary {
	g.mu.RLock()
	defer g.mu.RUnlock()

	total := g.store.len()
	completed := g.store.countState(StateVerified)
	percentage := 0
	if total > 0 {
		percentage = int(math.Round(float64(completed) * 100 / float64(total)))
	}
	return ProgressSummary{Completed: completed, Total: total, Percentage: percentage}
}

// EventHistory returns a copy of the retained events, oldest first.
func (g *Guardian) EventHistory() []Event {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.events.history()
}

// PendingRetry reports the armed auto-retry for taskID, if any.
func (g *Guardian) PendingRetry(taskID string) (RetryInfo, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	h, ok := g.retryHandles[taskID]
	if !ok {
		return RetryInfo{}, false
	}
	return RetryInfo{Attempt: h.Attempt, FireAt: h.FireAt}, true
}

func (g *Guardian) emitLocked(kind EventKind, taskID string, ts time.Time, payload map[string]any) Event {
	event := Event{
		ID:        g.newID("evt"),
		Kind:      kind,
		TaskID:    taskID,
		Timestamp: ts,
		Payload:   payload,
	}
	g.events.append(event)
	return event.Clone()
}

func (g *Guardian) scheduleRetryLocked(taskID string) {
	h, err := g.retries.Schedule(taskID)
	if err != nil {
		if errors.Is(err, retry.ErrAttemptsExhausted) {
			g.metrics.IncRetry(retryExhausted)
			g.logger.Warn("Guardian: task %s stays failed, auto-retry exhausted", taskID)
			return
		}
		g.logger.Warn("Guardian: failed to arm retry for task %s: %v", taskID, err)
		return
	}
	g.retryHandles[taskID] = h
	g.metrics.IncRetry(retryScheduled)
	g.logger.Info("Guardian: task %s will retry in %s (attempt %d)", taskID, h.Delay, h.Attempt)
}

func (g *Guardian) cancelRetryLocked(taskID string) {
	if _, ok := g.retryHandles[taskID]; !ok {
		return
	}
	delete(g.retryHandles, taskID)
	g.retries.Cancel(taskID)
	g.logger.Debug("Guardian: pending retry for task %s superseded", taskID)
}

// onRetryDue runs on the retry timer. It re-enters through the same validated
// transition path as any caller and no-ops if the retry was superseded.
func (g *Guardian) onRetryDue(h *retry.Handle) {
	ctx, span := g.startSpan(context.Background(), observability.SpanRetry, observability.TaskAttrs(h.TaskID)...)
	defer span.End()

	g.mu.Lock()
	events := g.applyRetryLocked(h)
	g.mu.Unlock()

	markSpanResult(span, nil)
	g.notify(ctx, events)
}

func (g *Guardian) applyRetryLocked(h *retry.Handle) []Event {
	current, ok := g.retryHandles[h.TaskID]
	if !ok || current != h || h.Cancelled() {
		g.metrics.IncRetry(retrySkipped)
		g.logger.Debug("Guardian: retry %d for task %s superseded, skipping", h.Attempt, h.TaskID)
		return nil
	}
	delete(g.retryHandles, h.TaskID)

	task, ok := g.store.get(h.TaskID)
	if !ok || task.State != StateFailed {
		g.metrics.IncRetry(retrySkipped)
		g.logger.Debug("Guardian: task %s no longer failed, skipping retry", h.TaskID)
		return nil
	}

	_, events, err := g.transitionLocked(h.TaskID, StatePending, RetryReason)
	if err != nil {
		g.metrics.IncRetry(retrySkipped)
		g.logger.Warn("Guardian: auto-retry for task %s rejected: %v", h.TaskID, err)
		return nil
	}
	task.RetryCount = g.retries.Applied(h)
	g.metrics.IncRetry(retryApplied)
	return events
}

func (g *Guardian) notify(ctx context.Context, events []Event) {
	if !g.config.NotificationsEnabled || len(g.sinks) == 0 {
		return
	}
	for _, event := range events {
		for _, sink := range g.sinks {
			g.deliver(ctx, sink, event)
		}
	}
}

func (g *Guardian) deliver(ctx context.Context, sink EventSink, event Event) {
	defer func() {
		if r := recover(); r != nil {
			g.metrics.IncSinkFailure()
			g.logger.Error("Guardian: event sink panicked on %s: %v", event.ID, r)
		}
	}()
	if err := sink.Notify(observability.ContextWithTaskID(ctx, event.TaskID), event.Clone()); err != nil {
		g.metrics.IncSinkFailure()
		g.logger.Warn("Guardian: event sink failed for %s (%s): %v", event.ID, event.Kind, err)
	}
}

func (g *Guardian) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	return g.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func markSpanResult(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String(observability.AttrStatus, "error"))
		return
	}
	span.SetStatus(codes.Ok, "")
	span.SetAttributes(attribute.String(observability.AttrStatus, "success"))
}
