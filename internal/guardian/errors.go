package guardian

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTaskNotFound matches *TaskNotFoundError.
	ErrTaskNotFound = errors.New("task not found")
	// ErrInvalidTransition matches *InvalidTransitionError.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrDependencyNotMet matches *DependencyNotMetError.
	ErrDependencyNotMet = errors.New("dependencies not met")
	// ErrInvalidCatalog matches *CatalogError.
	ErrInvalidCatalog = errors.New("invalid task catalog")
	// ErrDependencyCycle matches *DependencyCycleError.
	ErrDependencyCycle = errors.New("dependency cycle")
	// ErrNegativeEffort is returned when recording a negative effort.
	ErrNegativeEffort = errors.New("effort must not be negative")
	// ErrInvalidConfig is returned by New for unusable configuration.
	ErrInvalidConfig = errors.New("invalid guardian config")
)

// TaskNotFoundError is returned whenever an operation references an unknown task.
type TaskNotFoundError struct {
	TaskID string
}

func (e *TaskNotFoundError) Error() string {
	return fmt.Sprintf("task not found: %s", e.TaskID)
}

func (e *TaskNotFoundError) Is(target error) bool {
	return target == ErrTaskNotFound
}

// InvalidTransitionError is returned when the transition table does not allow
// From -> To.
type InvalidTransitionError struct {
	TaskID string
	From   State
	To     State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition for task %s: %s -> %s", e.TaskID, e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// DependencyNotMetError lists every prerequisite blocking completion.
type DependencyNotMetError struct {
	TaskID string
	Unmet  []string
}

func (e *DependencyNotMetError) Error() string {
	return fmt.Sprintf("task %s has unmet dependencies: %s", e.TaskID, strings.Join(e.Unmet, ", "))
}

func (e *DependencyNotMetError) Is(target error) bool {
	return target == ErrDependencyNotMet
}

// CatalogError reports a structurally invalid catalog entry.
type CatalogError struct {
	Index  int
	Field  string
	Reason string
}

func (e *CatalogError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("catalog entry %d: %s", e.Index, e.Reason)
	}
	return fmt.Sprintf("catalog entry %d: %s: %s", e.Index, e.Field, e.Reason)
}

func (e *CatalogError) Is(target error) bool {
	return target == ErrInvalidCatalog
}

// DependencyCycleError carries one cycle witness as catalog indices, first and
// last element equal.
type DependencyCycleError struct {
	Path []int
}

func (e *DependencyCycleError) Error() string {
	parts := make([]string, len(e.Path))
	for i, idx := range e.Path {
		parts[i] = fmt.Sprintf("#%d", idx)
	}
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(parts, " -> "))
}

func (e *DependencyCycleError) Is(target error) bool {
	return target == ErrDependencyCycle || target == ErrInvalidCatalog
}
