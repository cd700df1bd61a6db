package domain

import "fmt"

var (
	ErrCoordinatorRejected  = fmt.Errorf("coordinator rejected request")
	ErrPhaseDesync          = fmt.Errorf("alice out of sync with round phase")
	ErrAliceLost            = fmt.Errorf("round moved too far ahead of alice")
	ErrCredentialImbalance  = fmt.Errorf("credential amounts do not balance")
	ErrAmountTooSmall       = fmt.Errorf("amount too small to participate")
	ErrOutputPlanning       = fmt.Errorf("cannot plan outputs")
	ErrNoSuitableRound      = fmt.Errorf("no round accepting registrations")
	ErrInputNotAllowed      = fmt.Errorf("input not allowed in round")
	ErrSigningAborted       = fmt.Errorf("transaction signing aborted")
	ErrOutputsNotRegistered = fmt.Errorf("own outputs not yet registered")
	ErrRoundVanished        = fmt.Errorf("round no longer published by coordinator")
	ErrRoundEnded           = fmt.Errorf("round ended before alice completed")
	ErrParticipationOff     = fmt.Errorf("coinjoin participation is disabled")
)

// ErrInvalidTransition is returned when an Alice is asked to move to a phase
// that is not strictly after its pending one.
type ErrInvalidTransition struct {
	From Phase
	To   Phase
}

func (e ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid phase transition from %s to %s", e.From, e.To)
}
