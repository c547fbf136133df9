package guardian

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseState(t *testing.T) {
	tests := map[string]State{
		"pending":      StatePending,
		"InProgress":   StateInProgress,
		"in-progress":  StateInProgress,
		" COMPLETED ":  StateCompleted,
		"NeedsReview":  StateNeedsReview,
		"needs review": StateNeedsReview,
		"verified":     StateVerified,
		"failed":       StateFailed,
	}
	for input, want := range tests {
		got, err := ParseState(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got, input)
	}

	_, err := ParseState("done")
	require.Error(t, err)
}

func TestNoStateAllowsItself(t *testing.T) {
	for _, s := range States() {
		assert.False(t, CanTransition(s, s), s)
	}
	assert.False(t, CanTransition("bogus", StatePending))
	assert.False(t, State("bogus").Valid())
}

func TestAllowedTargetsReturnsCopy(t *testing.T) {
	targets := AllowedTargets(StatePending)
	require.Equal(t, []State{StateInProgress, StateFailed}, targets)
	targets[0] = StateVerified
	assert.Equal(t, []State{StateInProgress, StateFailed}, AllowedTargets(StatePending))
}

func TestOnlyCompletedAndVerifiedSatisfyDependencies(t *testing.T) {
	for _, s := range States() {
		want := s == StateCompleted || s == StateVerified
		assert.Equal(t, want, s.SatisfiesDependency(), s)
	}
}
