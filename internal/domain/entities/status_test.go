package entities

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOfframpTransitions_OnlyBackwardEdgeIsSwapRetry(t *testing.T) {
	for from, targets := range ValidOfframpTransitions {
		for _, to := range targets {
			if from == OfframpStatusSwapping && to == OfframpStatusTokenReceived {
				continue // the bounded retry edge
			}
			assert.NotEqual(t, OfframpStatusAwaitingDeposit, to,
				"%s must never return to awaiting_deposit", from)
		}
	}

	assert.True(t, OfframpStatusSwapping.CanTransitionTo(OfframpStatusTokenReceived))
	assert.False(t, OfframpStatusSettledStable.CanTransitionTo(OfframpStatusSwapping))
	assert.False(t, OfframpStatusTokenReceived.CanTransitionTo(OfframpStatusAwaitingDeposit))
}

func TestOfframpTransitions_TerminalStatesHaveNoExits(t *testing.T) {
	for _, terminal := range []OfframpStatus{OfframpStatusCompleted, OfframpStatusFailed} {
		assert.True(t, terminal.IsTerminal())
		assert.Empty(t, ValidOfframpTransitions[terminal])
		for status := range ValidOfframpStatuses {
			assert.False(t, terminal.CanTransitionTo(status),
				"%s → %s must be rejected", terminal, status)
		}
	}
}

func TestOfframpTransitions_HappyPath(t *testing.T) {
	path := []OfframpStatus{
		OfframpStatusAwaitingDeposit,
		OfframpStatusTokenReceived,
		OfframpStatusSwapping,
		OfframpStatusSettledStable,
		OfframpStatusCompleted,
	}
	for i := 0; i < len(path)-1; i++ {
		assert.True(t, path[i].CanTransitionTo(path[i+1]),
			"%s → %s must be allowed", path[i], path[i+1])
	}
	// Every non-terminal state can fail.
	for _, s := range path[:len(path)-1] {
		assert.True(t, s.CanTransitionTo(OfframpStatusFailed))
	}
}

func TestOnrampTransitions_CompletedNeverReturnsToPending(t *testing.T) {
	assert.True(t, OnrampStatusPending.CanTransitionTo(OnrampStatusCompleted))
	assert.True(t, OnrampStatusPending.CanTransitionTo(OnrampStatusFailed))
	assert.False(t, OnrampStatusCompleted.CanTransitionTo(OnrampStatusPending))
	assert.False(t, OnrampStatusCompleted.CanTransitionTo(OnrampStatusFailed))
	assert.False(t, OnrampStatusFailed.CanTransitionTo(OnrampStatusPending))
}

func TestOfframpValidateTransition_ReportsBothStates(t *testing.T) {
	err := OfframpStatusCompleted.ValidateTransition(OfframpStatusSwapping)
	assert.Error(t, err)
	assert.NoError(t, OfframpStatusAwaitingDeposit.ValidateTransition(OfframpStatusTokenReceived))
}
