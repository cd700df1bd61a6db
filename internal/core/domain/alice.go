package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Utxo struct {
	Outpoint
	Amount     uint64
	PkScript   []byte
	ScriptType ScriptType
	Path       string
}

type AliceKey struct {
	RoundId  string
	Outpoint Outpoint
}

func (k AliceKey) String() string {
	return fmt.Sprintf("%s/%s", k.RoundId, k.Outpoint)
}

// ConfirmationData holds the coordinator's issuance responses to the
// credential requests presented at connection confirmation.
type ConfirmationData struct {
	ZeroAmount CredentialResponse
	ZeroVsize  CredentialResponse
	RealAmount CredentialResponse
	RealVsize  CredentialResponse
}

// PlannedOutput is an output funded by an Alice and paying to one of this
// wallet's addresses.
type PlannedOutput struct {
	Amount     uint64
	Fee        uint64
	Address    string
	Path       string
	PkScript   []byte
	ScriptType ScriptType
}

func (o PlannedOutput) Registered() RegisteredOutput {
	return RegisteredOutput{Amount: o.Amount, PkScript: o.PkScript}
}

// Alice is this wallet's participation with one input in one round.
type Alice struct {
	Utxo            Utxo
	Round           Round
	AliceId         string
	PendingPhase    Phase
	InputVsize      uint64
	OutputVsize     uint64
	CoordinationFee uint64
	InputFee        uint64
	OwnershipProof  []byte
	Credentials     CredentialMaterial
	Confirmation    *ConfirmationData
	Outputs         []PlannedOutput
	RegisteredAt    int64
	Changes         []ParticipationEvent
}

// NewAlice returns the record of an input accepted by the coordinator,
// waiting for connection confirmation.
func NewAlice(
	round Round, utxo Utxo, aliceId string, ownershipProof []byte,
	inputVsize, outputVsize, coordinationFee, inputFee uint64,
) (*Alice, error) {
	if len(aliceId) <= 0 {
		return nil, fmt.Errorf("missing alice id")
	}
	if coordinationFee+inputFee >= utxo.Amount {
		return nil, fmt.Errorf(
			"%w: fees %d exceed input amount %d",
			ErrAmountTooSmall, coordinationFee+inputFee, utxo.Amount,
		)
	}
	if inputVsize >= round.MaxVsizeAllocationPerAlice {
		return nil, fmt.Errorf(
			"input vsize %d exceeds round allocation %d",
			inputVsize, round.MaxVsizeAllocationPerAlice,
		)
	}

	a := &Alice{
		Utxo:            utxo,
		Round:           round.Snapshot(),
		AliceId:         aliceId,
		PendingPhase:    ConnectionConfirmation,
		InputVsize:      inputVsize,
		OutputVsize:     outputVsize,
		CoordinationFee: coordinationFee,
		InputFee:        inputFee,
		OwnershipProof:  ownershipProof,
		RegisteredAt:    time.Now().Unix(),
		Changes:         make([]ParticipationEvent, 0),
	}
	a.raise(AliceRegistered{
		Id:        uuid.New().String(),
		RoundId:   round.Id,
		Outpoint:  utxo.Outpoint,
		AliceId:   aliceId,
		Amount:    utxo.Amount,
		Timestamp: a.RegisteredAt,
	})
	return a, nil
}

func (a Alice) Key() AliceKey {
	return AliceKey{RoundId: a.Round.Id, Outpoint: a.Utxo.Outpoint}
}

// NetAmount is the value the Alice is entitled to in the round's amount
// credential ledger.
func NetAmount(amount, coordinationFee, inputFee uint64) uint64 {
	if coordinationFee+inputFee >= amount {
		return 0
	}
	return amount - coordinationFee - inputFee
}

func (a Alice) NetAmount() uint64 {
	return NetAmount(a.Utxo.Amount, a.CoordinationFee, a.InputFee)
}

// VsizeBudget is the vsize left for outputs once the input is paid for.
func (a Alice) VsizeBudget() uint64 {
	return a.Round.MaxVsizeAllocationPerAlice - a.InputVsize
}

// IsCommitted tells whether some of the Alice's outputs may already be
// registered in the round.
func (a Alice) IsCommitted() bool {
	return a.PendingPhase > OutputRegistration || len(a.Outputs) > 0
}

func (a Alice) ExpectedOutputs() []RegisteredOutput {
	outs := make([]RegisteredOutput, 0, len(a.Outputs))
	for _, o := range a.Outputs {
		outs = append(outs, o.Registered())
	}
	return outs
}

func (a *Alice) ConfirmConnection(confirmation ConfirmationData) error {
	if a.PendingPhase != ConnectionConfirmation {
		return ErrInvalidTransition{a.PendingPhase, ConnectionConfirmation.Next()}
	}
	a.Confirmation = &confirmation
	return a.advance(a.PendingPhase.Next())
}

func (a *Alice) RegisterOutputs(outputs []PlannedOutput) error {
	if a.PendingPhase != OutputRegistration {
		return ErrInvalidTransition{a.PendingPhase, OutputRegistration.Next()}
	}
	if len(outputs) <= 0 {
		return fmt.Errorf("missing outputs")
	}
	a.Outputs = append([]PlannedOutput{}, outputs...)
	return a.advance(a.PendingPhase.Next())
}

func (a *Alice) SubmitSignature() error {
	if a.PendingPhase != TransactionSigning {
		return ErrInvalidTransition{a.PendingPhase, TransactionSigning.Next()}
	}
	return a.advance(a.PendingPhase.Next())
}

func (a *Alice) Complete() {
	a.raise(AliceCompleted{
		Id:        uuid.New().String(),
		RoundId:   a.Round.Id,
		Outpoint:  a.Utxo.Outpoint,
		Timestamp: time.Now().Unix(),
	})
}

func (a *Alice) Drop(reason error) {
	msg := ""
	if reason != nil {
		msg = reason.Error()
	}
	a.raise(AliceDropped{
		Id:        uuid.New().String(),
		RoundId:   a.Round.Id,
		Outpoint:  a.Utxo.Outpoint,
		Phase:     a.PendingPhase,
		Reason:    msg,
		Committed: a.IsCommitted(),
		Timestamp: time.Now().Unix(),
	})
}

// PopChanges returns and clears the events raised since the last call.
func (a *Alice) PopChanges() []ParticipationEvent {
	changes := a.Changes
	a.Changes = make([]ParticipationEvent, 0)
	return changes
}

// pendingPhase never moves backwards.
func (a *Alice) advance(to Phase) error {
	if to <= a.PendingPhase || !to.IsValid() {
		return ErrInvalidTransition{a.PendingPhase, to}
	}
	from := a.PendingPhase
	a.PendingPhase = to
	a.raise(PhaseAdvanced{
		Id:        uuid.New().String(),
		RoundId:   a.Round.Id,
		Outpoint:  a.Utxo.Outpoint,
		From:      from,
		To:        to,
		Timestamp: time.Now().Unix(),
	})
	return nil
}

func (a *Alice) raise(event ParticipationEvent) {
	if a.Changes == nil {
		a.Changes = make([]ParticipationEvent, 0)
	}
	a.Changes = append(a.Changes, event)
}
