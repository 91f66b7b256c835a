package entities

import "fmt"

// OfframpStatus represents the status of an off-ramp transaction
type OfframpStatus string

const (
	OfframpStatusAwaitingDeposit OfframpStatus = "awaiting_deposit"
	OfframpStatusTokenReceived   OfframpStatus = "token_received"
	OfframpStatusSwapping        OfframpStatus = "swapping"
	OfframpStatusSettledStable   OfframpStatus = "settled_stable"
	OfframpStatusCompleted       OfframpStatus = "completed"
	OfframpStatusFailed          OfframpStatus = "failed"
)

// ValidOfframpStatuses contains all valid off-ramp statuses
var ValidOfframpStatuses = map[OfframpStatus]bool{
	OfframpStatusAwaitingDeposit: true,
	OfframpStatusTokenReceived:   true,
	OfframpStatusSwapping:        true,
	OfframpStatusSettledStable:   true,
	OfframpStatusCompleted:       true,
	OfframpStatusFailed:          true,
}

// ValidOfframpTransitions defines allowed status transitions. The
// swapping → token_received edge is the bounded retry edge for failed swap
// attempts; it is the only backward transition in the machine.
var ValidOfframpTransitions = map[OfframpStatus][]OfframpStatus{
	OfframpStatusAwaitingDeposit: {OfframpStatusTokenReceived, OfframpStatusFailed},
	OfframpStatusTokenReceived:   {OfframpStatusSwapping, OfframpStatusFailed},
	OfframpStatusSwapping:        {OfframpStatusSettledStable, OfframpStatusTokenReceived, OfframpStatusFailed},
	OfframpStatusSettledStable:   {OfframpStatusCompleted, OfframpStatusFailed},
	OfframpStatusCompleted:       {}, // Terminal state
	OfframpStatusFailed:          {}, // Terminal state
}

// IsValid checks if the status is a valid off-ramp status
func (s OfframpStatus) IsValid() bool {
	return ValidOfframpStatuses[s]
}

// CanTransitionTo checks if transition to new status is allowed
func (s OfframpStatus) CanTransitionTo(newStatus OfframpStatus) bool {
	allowed, exists := ValidOfframpTransitions[s]
	if !exists {
		return false
	}
	for _, status := range allowed {
		if status == newStatus {
			return true
		}
	}
	return false
}

// IsTerminal returns true if this is a terminal state
func (s OfframpStatus) IsTerminal() bool {
	return s == OfframpStatusCompleted || s == OfframpStatusFailed
}

// ValidateTransition validates and returns error if transition is invalid
func (s OfframpStatus) ValidateTransition(newStatus OfframpStatus) error {
	if !newStatus.IsValid() {
		return fmt.Errorf("invalid off-ramp status: %s", newStatus)
	}
	if !s.CanTransitionTo(newStatus) {
		return fmt.Errorf("invalid status transition from %s to %s", s, newStatus)
	}
	return nil
}
