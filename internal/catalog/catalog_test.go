package catalog

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

func newGuardian(t *testing.T) (*guardian.Guardian, *retry.ManualClock) {
	t.Helper()
	clock := retry.NewManualClock(time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC))
	g, err := guardian.New(guardian.DefaultConfig(),
		guardian.WithClock(clock),
		guardian.WithMetrics(guardian.MustNewMetrics(prometheus.NewRegistry())),
	)
	require.NoError(t, err)
	t.Cleanup(g.Close)
	return g, clock
}

func manualWaiter(clock *retry.ManualClock) Waiter {
	return func(_ context.Context, d time.Duration) error {
		clock.Advance(d)
		return nil
	}
}

func TestLoadScenario(t *testing.T) {
	file, err := Load(filepath.Join("testdata", "scenario.yaml"))
	require.NoError(t, err)
	require.Len(t, file.Tasks, 2)
	require.Len(t, file.Steps, 6)
	require.NoError(t, file.Validate())

	catalog, err := file.Catalog()
	require.NoError(t, err)
	assert.Equal(t, map[int][]int{1: {0}}, catalog.Dependencies)
	require.NotNil(t, catalog.Tasks[0].EstimatedEffort)
	assert.Equal(t, 45, *catalog.Tasks[0].EstimatedEffort)
	assert.Equal(t, guardian.PriorityHigh, catalog.Tasks[0].Priority)
	assert.Equal(t, "dependency_not_met", file.Steps[1].ExpectError)
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte("tasks:\n  - description: x\n    kind: test\n    owner: me\n"))
	require.ErrorIs(t, err, ErrInvalidPlan)
}

func TestParseRequiresTasks(t *testing.T) {
	_, err := Parse([]byte("steps: []\n"))
	require.ErrorIs(t, err, ErrInvalidPlan)
}

func TestCatalogMergesIndexAndKeyDependencies(t *testing.T) {
	file, err := Parse([]byte(`
tasks:
  - {key: a, description: a, kind: test}
  - {description: b, kind: test}
  - {description: c, kind: test, depends_on: [a, "1"]}
dependencies:
  1: [0]
`))
	require.NoError(t, err)

	catalog, err := file.Catalog()
	require.NoError(t, err)
	assert.Equal(t, []int{0}, catalog.Dependencies[1])
	assert.Equal(t, []int{0, 1}, catalog.Dependencies[2])
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		doc    string
		target error
	}{
		{
			name:   "unknown dependency key",
			doc:    "tasks:\n  - {description: a, kind: test, depends_on: [ghost]}\n",
			target: ErrInvalidPlan,
		},
		{
			name:   "duplicate key",
			doc:    "tasks:\n  - {key: a, description: a, kind: test}\n  - {key: a, description: b, kind: test}\n",
			target: ErrInvalidPlan,
		},
		{
			name:   "numeric key",
			doc:    "tasks:\n  - {key: \"7\", description: a, kind: test}\n",
			target: ErrInvalidPlan,
		},
		{
			name:   "cycle",
			doc:    "tasks:\n  - {key: a, description: a, kind: test, depends_on: [b]}\n  - {key: b, description: b, kind: test, depends_on: [a]}\n",
			target: guardian.ErrDependencyCycle,
		},
		{
			name:   "unknown kind",
			doc:    "tasks:\n  - {description: a, kind: chore}\n",
			target: guardian.ErrInvalidCatalog,
		},
		{
			name:   "step unknown task",
			doc:    "tasks:\n  - {description: a, kind: test}\nsteps:\n  - {task: \"3\", to: in_progress}\n",
			target: ErrInvalidPlan,
		},
		{
			name:   "step unknown state",
			doc:    "tasks:\n  - {description: a, kind: test}\nsteps:\n  - {task: \"0\", to: done}\n",
			target: ErrInvalidPlan,
		},
		{
			name:   "step unknown expectation",
			doc:    "tasks:\n  - {description: a, kind: test}\nsteps:\n  - {task: \"0\", to: completed, expect_error: nope}\n",
			target: ErrInvalidPlan,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			file, err := Parse([]byte(tt.doc))
			require.NoError(t, err)
			require.ErrorIs(t, file.Validate(), tt.target)
		})
	}
}

func TestApplyScenario(t *testing.T) {
	file, err := Load(filepath.Join("testdata", "scenario.yaml"))
	require.NoError(t, err)
	g, clock := newGuardian(t)

	ids, results, err := Apply(context.Background(), g, file, manualWaiter(clock))
	require.NoError(t, err)
	require.Len(t, ids, 2)
	require.Len(t, results, 6)

	require.ErrorIs(t, results[1].Err, guardian.ErrDependencyNotMet)
	assert.Nil(t, results[1].Record)
	require.NotNil(t, results[5].Record)
	assert.Equal(t, guardian.StateCompleted, results[5].Record.To)

	assert.Equal(t, guardian.ProgressSummary{Completed: 1, Total: 2, Percentage: 50}, g.Progress())

	a, err := g.Task(ids[0])
	require.NoError(t, err)
	assert.Equal(t, []string{"internal/validate/helper.go"}, a.FilesTouched)
	require.NotNil(t, a.ActualEffort)
	assert.Equal(t, 40, *a.ActualEffort)
}

func TestApplyWaitDrivesRetry(t *testing.T) {
	file, err := Parse([]byte(`
tasks:
  - {key: flaky, description: flaky test, kind: test}
steps:
  - {task: flaky, to: failed, reason: timeout}
  - {task: flaky, wait: 5s}
  - {task: flaky, to: in_progress}
`))
	require.NoError(t, err)
	g, clock := newGuardian(t)

	ids, _, err := Apply(context.Background(), g, file, manualWaiter(clock))
	require.NoError(t, err)

	task, err := g.Task(ids[0])
	require.NoError(t, err)
	assert.Equal(t, guardian.StateInProgress, task.State)
	assert.Equal(t, 1, task.RetryCount)
}

func TestApplyStopsAtUnexpectedFailure(t *testing.T) {
	file, err := Parse([]byte(`
tasks:
  - {description: a, kind: test}
steps:
  - {task: "0", to: in_progress}
  - {task: "0", to: verified}
  - {task: "0", to: completed}
`))
	require.NoError(t, err)
	g, _ := newGuardian(t)

	_, results, err := Apply(context.Background(), g, file, nil)
	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, 1, stepErr.Index)
	require.ErrorIs(t, err, guardian.ErrInvalidTransition)
	assert.Len(t, results, 1)
}

func TestApplyFailsWhenExpectedErrorDoesNotHappen(t *testing.T) {
	file, err := Parse([]byte(`
tasks:
  - {description: a, kind: test}
steps:
  - {task: "0", to: in_progress, expect_error: invalid_transition}
`))
	require.NoError(t, err)
	g, _ := newGuardian(t)

	_, _, err = Apply(context.Background(), g, file, nil)
	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Contains(t, err.Error(), "transition succeeded")
}

func TestSleepWaiterHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, SleepWaiter(ctx, time.Hour), context.Canceled)
	require.NoError(t, SleepWaiter(context.Background(), time.Millisecond))
}
