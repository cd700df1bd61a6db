package domain

import "fmt"

const (
	InputRegistration Phase = iota
	ConnectionConfirmation
	OutputRegistration
	TransactionSigning
	Ended
)

// Phase is the coordinator-defined round phase. Values are totally ordered
// and match the ordinals published by the coordinator.
type Phase int

func (p Phase) String() string {
	switch p {
	case InputRegistration:
		return "INPUT_REGISTRATION"
	case ConnectionConfirmation:
		return "CONNECTION_CONFIRMATION"
	case OutputRegistration:
		return "OUTPUT_REGISTRATION"
	case TransactionSigning:
		return "TRANSACTION_SIGNING"
	case Ended:
		return "ENDED"
	default:
		return fmt.Sprintf("UNKNOWN_PHASE(%d)", int(p))
	}
}

func (p Phase) IsValid() bool {
	return p >= InputRegistration && p <= Ended
}

// Next returns the phase following p. Ended is its own successor.
func (p Phase) Next() Phase {
	if p >= Ended {
		return Ended
	}
	return p + 1
}
