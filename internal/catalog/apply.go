package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"guardian/internal/guardian"
)

var expectedErrors = map[string]error{
	"not_found":          guardian.ErrTaskNotFound,
	"invalid_transition": guardian.ErrInvalidTransition,
	"dependency_not_met": guardian.ErrDependencyNotMet,
}

// Engine is the part of the Guardian a plan drives.
type Engine interface {
	CreateTasks(ctx context.Context, catalog guardian.Catalog) ([]string, error)
	Transition(ctx context.Context, taskID string, to guardian.State, reason string) (guardian.TransitionRecord, error)
	RecordFilesTouched(ctx context.Context, taskID string, files ...string) error
	RecordActualEffort(ctx context.Context, taskID string, minutes int) error
}

// Waiter lets time pass between steps. Tests and simulations advance a manual
// clock; the CLI may sleep.
type Waiter func(ctx context.Context, d time.Duration) error

// SleepWaiter waits on the wall clock.
func SleepWaiter(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StepResult reports what one step did.
type StepResult struct {
	Index  int
	TaskID string
	Step   Step
	Record *guardian.TransitionRecord
	// Err is the rejection returned for a step with expect_error.
	Err error
}

// StepError wraps the failure of one step.
type StepError struct {
	Index int
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d: %v", e.Index, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Apply seeds the plan's tasks and runs its steps in order. It stops at the
// first unexpected failure and returns the results gathered so far.
func Apply(ctx context.Context, engine Engine, file *File, wait Waiter) ([]string, []StepResult, error) {
	if err := file.Validate(); err != nil {
		return nil, nil, err
	}
	catalog, _ := file.Catalog()
	ids, err := engine.CreateTasks(ctx, catalog)
	if err != nil {
		return nil, nil, fmt.Errorf("seed tasks: %w", err)
	}
	keys, _ := file.keyIndex()

	results := make([]StepResult, 0, len(file.Steps))
	for i, step := range file.Steps {
		idx, _ := resolve(keys, len(ids), step.Task)
		result := StepResult{Index: i, TaskID: ids[idx], Step: step}

		if step.Wait > 0 && wait != nil {
			if err := wait(ctx, step.Wait); err != nil {
				return ids, results, &StepError{Index: i, Err: err}
			}
		}
		if len(step.Files) > 0 {
			if err := engine.RecordFilesTouched(ctx, result.TaskID, step.Files...); err != nil {
				return ids, results, &StepError{Index: i, Err: err}
			}
		}
		if step.Effort != nil {
			if err := engine.RecordActualEffort(ctx, result.TaskID, *step.Effort); err != nil {
				return ids, results, &StepError{Index: i, Err: err}
			}
		}
		if step.To != "" {
			to, _ := guardian.ParseState(step.To)
			record, err := engine.Transition(ctx, result.TaskID, to, step.Reason)
			switch {
			case step.ExpectError != "":
				if err == nil {
					return ids, results, &StepError{Index: i, Err: fmt.Errorf("expected %s, transition succeeded", step.ExpectError)}
				}
				if !errors.Is(err, expectedErrors[step.ExpectError]) {
					return ids, results, &StepError{Index: i, Err: fmt.Errorf("expected %s: %w", step.ExpectError, err)}
				}
				result.Err = err
			case err != nil:
				return ids, results, &StepError{Index: i, Err: err}
			default:
				result.Record = &record
			}
		}
		results = append(results, result)
	}
	return ids, results, nil
}
