package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"guardian/internal/guardian"
	"guardian/internal/retry"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ts = time.Date(2026, 3, 1, 9, 0, 0, 123, time.UTC)

func openTemp(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "state", "journal.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestNotifyAndList(t *testing.T) {
	j := openTemp(t)
	ctx := context.Background()

	require.NoError(t, j.Notify(ctx, guardian.Event{
		ID: "evt-1", Kind: guardian.EventCreated, TaskID: "task-a", Timestamp: ts,
		Payload: map[string]any{"description": "a", "dependencies": []string{"task-b"}},
	}))
	require.NoError(t, j.Notify(ctx, guardian.Event{
		ID: "evt-2", Kind: guardian.EventCompleted, TaskID: "task-a", Timestamp: ts.Add(time.Second),
		Payload: map[string]any{"from": "in_progress", "to": "completed", "progress": 90},
	}))
	require.NoError(t, j.Notify(ctx, guardian.Event{
		ID: "evt-3", Kind: guardian.EventCreated, TaskID: "task-b", Timestamp: ts.Add(2 * time.Second),
	}))

	events, err := j.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "evt-1", events[0].ID)
	assert.True(t, ts.Equal(events[0].Timestamp))
	assert.Equal(t, []any{"task-b"}, events[0].Payload["dependencies"])
	assert.Equal(t, float64(90), events[1].Payload["progress"])
	assert.Nil(t, events[2].Payload)

	byTask, err := j.List(ctx, Filter{TaskID: "task-a"})
	require.NoError(t, err)
	assert.Len(t, byTask, 2)

	byKind, err := j.List(ctx, Filter{Kinds: []guardian.EventKind{guardian.EventCreated}, Limit: 1})
	require.NoError(t, err)
	require.Len(t, byKind, 1)
	assert.Equal(t, "evt-1", byKind[0].ID)

	count, err := j.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestNotifyIgnoresDuplicates(t *testing.T) {
	j := openTemp(t)
	ctx := context.Background()
	event := guardian.Event{ID: "evt-1", Kind: guardian.EventUpdated, TaskID: "task-a", Timestamp: ts}

	require.NoError(t, j.Notify(ctx, event))
	require.NoError(t, j.Notify(ctx, event))

	count, err := j.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestJournalSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, j.Notify(context.Background(), guardian.Event{ID: "evt-1", Kind: guardian.EventFailed, TaskID: "task-a", Timestamp: ts}))
	require.NoError(t, j.Close())

	reopened, err := Open(path, nil)
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, path, reopened.Path())

	events, err := reopened.List(context.Background(), Filter{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, guardian.EventFailed, events[0].Kind)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("  ", nil)
	require.Error(t, err)
}

func TestJournalAsGuardianSink(t *testing.T) {
	j := openTemp(t)
	clock := retry.NewManualClock(ts)
	cfg := guardian.DefaultConfig()
	g, err := guardian.New(cfg,
		guardian.WithSinks(j),
		guardian.WithClock(clock),
		guardian.WithMetrics(guardian.MustNewMetrics(prometheus.NewRegistry())),
	)
	require.NoError(t, err)
	defer g.Close()

	ctx := context.Background()
	ids, err := g.CreateTasks(ctx, guardian.Catalog{Tasks: []guardian.TaskDefinition{
		{Description: "persist me", Kind: guardian.KindRefactor},
	}})
	require.NoError(t, err)
	_, err = g.Transition(ctx, ids[0], guardian.StateFailed, "broken")
	require.NoError(t, err)
	clock.Advance(5 * time.Second)

	events, err := j.List(ctx, Filter{TaskID: ids[0]})
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, guardian.EventCreated, events[0].Kind)
	assert.Equal(t, guardian.EventFailed, events[1].Kind)
	assert.Equal(t, guardian.RetryReason, events[2].Payload["reason"])
}
