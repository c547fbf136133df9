package guardian

import (
	"fmt"
	"strings"
	"time"
)

// Kind classifies a task. It has no effect on the state machine.
type Kind string

const (
	KindComponentFix  Kind = "component-fix"
	KindRefactor      Kind = "refactor"
	KindValidationFix Kind = "validation-fix"
	KindPerformance   Kind = "performance"
	KindUX            Kind = "ux"
	KindTest          Kind = "test"
	KindSecurity      Kind = "security"
)

var kinds = []Kind{
	KindComponentFix,
	KindRefactor,
	KindValidationFix,
	KindPerformance,
	KindUX,
	KindTest,
	KindSecurity,
}

// Kinds returns every task kind.
func Kinds() []Kind {
	out := make([]Kind, len(kinds))
	copy(out, kinds)
	return out
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	for _, known := range kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Priority is informational and never consulted by the engine.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	default:
		return false
	}
}

// Task is a snapshot of one tracked unit of work. Values returned by the
// Guardian are copies; mutating them has no effect on the store.
type Task struct {
	ID              string    `json:"id" yaml:"id"`
	Description     string    `json:"description" yaml:"description"`
	Kind            Kind      `json:"kind" yaml:"kind"`
	State           State     `json:"state" yaml:"state"`
	Progress        int       `json:"progress" yaml:"progress"`
	Priority        Priority  `json:"priority" yaml:"priority"`
	FilesTouched    []string  `json:"files_touched,omitempty" yaml:"files_touched,omitempty"`
	Dependencies    []string  `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	EstimatedEffort *int      `json:"estimated_effort,omitempty" yaml:"estimated_effort,omitempty"`
	ActualEffort    *int      `json:"actual_effort,omitempty" yaml:"actual_effort,omitempty"`
	RetryCount      int       `json:"retry_count" yaml:"retry_count"`
	CreatedAt       time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" yaml:"updated_at"`
}

func (t *Task) clone() Task {
	out := *t
	out.FilesTouched = cloneStrings(t.FilesTouched)
	out.Dependencies = cloneStrings(t.Dependencies)
	out.EstimatedEffort = cloneInt(t.EstimatedEffort)
	out.ActualEffort = cloneInt(t.ActualEffort)
	return out
}

// TaskDefinition is one catalog entry.
type TaskDefinition struct {
	Description     string   `json:"description" yaml:"description"`
	Kind            Kind     `json:"kind" yaml:"kind"`
	Priority        Priority `json:"priority,omitempty" yaml:"priority,omitempty"`
	EstimatedEffort *int     `json:"estimated_effort,omitempty" yaml:"estimated_effort,omitempty"`
}

func (d TaskDefinition) validate() (TaskDefinition, error) {
	d.Description = strings.TrimSpace(d.Description)
	if d.Description == "" {
		return d, fmt.Errorf("description is required")
	}
	if !d.Kind.Valid() {
		return d, fmt.Errorf("unknown kind %q", d.Kind)
	}
	if d.Priority == "" {
		d.Priority = PriorityMedium
	}
	if !d.Priority.Valid() {
		return d, fmt.Errorf("unknown priority %q", d.Priority)
	}
	if d.EstimatedEffort != nil && *d.EstimatedEffort < 0 {
		return d, fmt.Errorf("estimated effort must not be negative")
	}
	return d, nil
}

// Catalog is the ordered seed input. Dependencies maps a task index to the
// indices of its prerequisites.
type Catalog struct {
	Tasks        []TaskDefinition `json:"tasks" yaml:"tasks"`
	Dependencies map[int][]int    `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
}

// TransitionRecord describes one applied state change.
type TransitionRecord struct {
	TaskID    string    `json:"task_id"`
	From      State     `json:"from"`
	To        State     `json:"to"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason,omitempty"`
}

// ProgressSummary counts Verified tasks against the total.
type ProgressSummary struct {
	Completed  int `json:"completed"`
	Total      int `json:"total"`
	Percentage int `json:"percentage"`
}

// RetryInfo describes an armed auto-retry.
type RetryInfo struct {
	Attempt int
	FireAt  time.Time
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneInt(in *int) *int {
	if in == nil {
		return nil
	}
	v := *in
	return &v
}
