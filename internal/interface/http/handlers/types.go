package handlers

import (
	"encoding/hex"
	"fmt"

	"github.com/ark-network/coinjoin/internal/core/domain"
)

type roundInfo struct {
	Id                    string `json:"id"`
	Phase                 string `json:"phase"`
	InputRegistrationEnd  int64  `json:"inputRegistrationEnd"`
	MiningFeeRate         uint64 `json:"miningFeeRate"`
	CoordinationFeeRate   uint64 `json:"coordinationFeeRate"`
	PlebsDontPayThreshold uint64 `json:"plebsDontPayThreshold"`
	MinInputAmount        uint64 `json:"minInputAmount"`
	MaxInputAmount        uint64 `json:"maxInputAmount"`
	Inputs                int    `json:"inputs"`
	Outputs               int    `json:"outputs"`
}

type outputInfo struct {
	Address string `json:"address"`
	Amount  uint64 `json:"amount"`
	Fee     uint64 `json:"fee"`
}

type aliceInfo struct {
	RoundId         string       `json:"roundId"`
	Outpoint        string       `json:"outpoint"`
	Amount          uint64       `json:"amount"`
	AliceId         string       `json:"aliceId"`
	PendingPhase    string       `json:"pendingPhase"`
	CoordinationFee uint64       `json:"coordinationFee"`
	InputFee        uint64       `json:"inputFee"`
	Outputs         []outputInfo `json:"outputs"`
	RegisteredAt    int64        `json:"registeredAt"`
}

type addressInfo struct {
	Address    string `json:"address"`
	Path       string `json:"path"`
	Index      uint32 `json:"index"`
	RoundId    string `json:"roundId,omitempty"`
	ReservedAt int64  `json:"reservedAt"`
}

type eventInfo struct {
	Type      string `json:"type"`
	Id        string `json:"id"`
	RoundId   string `json:"roundId"`
	Outpoint  string `json:"outpoint"`
	AliceId   string `json:"aliceId,omitempty"`
	Amount    uint64 `json:"amount,omitempty"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	Phase     string `json:"phase,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Committed bool   `json:"committed,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

type registerInputRequest struct {
	Txid       string `json:"txid" binding:"required"`
	Vout       uint32 `json:"vout"`
	Amount     uint64 `json:"amount" binding:"required"`
	Script     string `json:"script" binding:"required"`
	ScriptType string `json:"scriptType" binding:"required"`
	Path       string `json:"path" binding:"required"`
}

func (r registerInputRequest) toUtxo() (domain.Utxo, error) {
	outpoint, err := domain.ParseOutpoint(fmt.Sprintf("%s:%d", r.Txid, r.Vout))
	if err != nil {
		return domain.Utxo{}, err
	}
	script, err := hex.DecodeString(r.Script)
	if err != nil || len(script) <= 0 {
		return domain.Utxo{}, fmt.Errorf("invalid script format, must be hex")
	}
	scriptType, err := domain.ParseScriptType(r.ScriptType)
	if err != nil {
		return domain.Utxo{}, err
	}
	return domain.Utxo{
		Outpoint:   outpoint,
		Amount:     r.Amount,
		PkScript:   script,
		ScriptType: scriptType,
		Path:       r.Path,
	}, nil
}

type rounds []domain.Round

func (r rounds) toInfo() []roundInfo {
	list := make([]roundInfo, 0, len(r))
	for _, round := range r {
		list = append(list, roundInfo{
			Id:                    round.Id,
			Phase:                 round.Phase.String(),
			InputRegistrationEnd:  round.InputRegistrationEnd.Unix(),
			MiningFeeRate:         round.MiningFeeRate,
			CoordinationFeeRate:   round.CoordinationFee.Rate,
			PlebsDontPayThreshold: round.CoordinationFee.PlebsDontPayThreshold,
			MinInputAmount:        round.AllowedInputAmounts.Min,
			MaxInputAmount:        round.AllowedInputAmounts.Max,
			Inputs:                len(round.Inputs),
			Outputs:               len(round.Outputs),
		})
	}
	return list
}

type alice domain.Alice

func (a alice) toInfo() aliceInfo {
	outputs := make([]outputInfo, 0, len(a.Outputs))
	for _, o := range a.Outputs {
		outputs = append(outputs, outputInfo{
			Address: o.Address,
			Amount:  o.Amount,
			Fee:     o.Fee,
		})
	}
	return aliceInfo{
		RoundId:         a.Round.Id,
		Outpoint:        a.Utxo.Outpoint.String(),
		Amount:          a.Utxo.Amount,
		AliceId:         a.AliceId,
		PendingPhase:    a.PendingPhase.String(),
		CoordinationFee: a.CoordinationFee,
		InputFee:        a.InputFee,
		Outputs:         outputs,
		RegisteredAt:    a.RegisteredAt,
	}
}

type alices []domain.Alice

func (a alices) toInfo() []aliceInfo {
	list := make([]aliceInfo, 0, len(a))
	for _, al := range a {
		list = append(list, alice(al).toInfo())
	}
	return list
}

type addresses []domain.ReservedAddress

func (a addresses) toInfo() []addressInfo {
	list := make([]addressInfo, 0, len(a))
	for _, addr := range a {
		list = append(list, addressInfo{
			Address:    addr.Address,
			Path:       addr.Path,
			Index:      addr.Index,
			RoundId:    addr.RoundId,
			ReservedAt: addr.ReservedAt,
		})
	}
	return list
}

func toEventInfo(event domain.ParticipationEvent) (eventInfo, bool) {
	switch e := event.(type) {
	case domain.AliceRegistered:
		return eventInfo{
			Type:      "alice_registered",
			Id:        e.Id,
			RoundId:   e.RoundId,
			Outpoint:  e.Outpoint.String(),
			AliceId:   e.AliceId,
			Amount:    e.Amount,
			Timestamp: e.Timestamp,
		}, true
	case domain.PhaseAdvanced:
		return eventInfo{
			Type:      "phase_advanced",
			Id:        e.Id,
			RoundId:   e.RoundId,
			Outpoint:  e.Outpoint.String(),
			From:      e.From.String(),
			To:        e.To.String(),
			Timestamp: e.Timestamp,
		}, true
	case domain.AliceDropped:
		return eventInfo{
			Type:      "alice_dropped",
			Id:        e.Id,
			RoundId:   e.RoundId,
			Outpoint:  e.Outpoint.String(),
			Phase:     e.Phase.String(),
			Reason:    e.Reason,
			Committed: e.Committed,
			Timestamp: e.Timestamp,
		}, true
	case domain.AliceCompleted:
		return eventInfo{
			Type:      "alice_completed",
			Id:        e.Id,
			RoundId:   e.RoundId,
			Outpoint:  e.Outpoint.String(),
			Timestamp: e.Timestamp,
		}, true
	default:
		return eventInfo{}, false
	}
}
