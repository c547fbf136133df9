package guardian

import (
	"fmt"
	"strings"
)

// State labels the lifecycle position of a task.
type State string

const (
	StatePending     State = "pending"
	StateInProgress  State = "in_progress"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
	StateNeedsReview State = "needs_review"
	StateVerified    State = "verified"
)

// states lists every state in lifecycle order.
var states = []State{
	StatePending,
	StateInProgress,
	StateCompleted,
	StateFailed,
	StateNeedsReview,
	StateVerified,
}

// allowedTransitions is the transition table. No state lists itself, so
// self-transitions are always rejected.
var allowedTransitions = map[State][]State{
	StatePending:     {StateInProgress, StateFailed},
	StateInProgress:  {StateCompleted, StateFailed, StateNeedsReview},
	StateCompleted:   {StateVerified, StateNeedsReview},
	StateFailed:      {StatePending, StateInProgress},
	StateNeedsReview: {StateVerified, StateInProgress, StateFailed},
	StateVerified:    {StateNeedsReview},
}

var progressByState = map[State]int{
	StatePending:     0,
	StateInProgress:  25,
	StateNeedsReview: 75,
	StateCompleted:   90,
	StateVerified:    100,
	StateFailed:      0,
}

// States returns every state in lifecycle order.
func States() []State {
	out := make([]State, len(states))
	copy(out, states)
	return out
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	_, ok := allowedTransitions[s]
	return ok
}

// String implements fmt.Stringer.
func (s State) String() string {
	return string(s)
}

// SatisfiesDependency reports whether a prerequisite in state s unblocks its
// dependents.
func (s State) SatisfiesDependency() bool {
	return s == StateCompleted || s == StateVerified
}

// ParseState accepts the canonical names plus the CamelCase spellings.
func ParseState(value string) (State, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	normalized = strings.NewReplacer("-", "_", " ", "_").Replace(normalized)
	switch normalized {
	case "inprogress":
		normalized = string(StateInProgress)
	case "needsreview":
		normalized = string(StateNeedsReview)
	}
	s := State(normalized)
	if !s.Valid() {
		return "", fmt.Errorf("unknown task state %q", value)
	}
	return s, nil
}

// CanTransition reports whether the table allows from -> to.
func CanTransition(from, to State) bool {
	for _, target := range allowedTransitions[from] {
		if target == to {
			return true
		}
	}
	return false
}

// AllowedTargets returns the states reachable in one step from from.
func AllowedTargets(from State) []State {
	targets := allowedTransitions[from]
	out := make([]State, len(targets))
	copy(out, targets)
	return out
}

// ProgressOf is the only source of a task's progress value.
func ProgressOf(s State) int {
	return progressByState[s]
}
