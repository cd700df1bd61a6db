package domain

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math/bits"
	"strconv"
	"strings"
	"time"
)

// CoordinationFeeRateScale is the fixed-point denominator of
// CoordinationFeeRate.Rate.
const CoordinationFeeRateScale = 100_000_000

type Outpoint struct {
	Txid string
	VOut uint32
}

func ParseOutpoint(s string) (Outpoint, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return Outpoint{}, fmt.Errorf("invalid outpoint %s, must be txid:vout", s)
	}
	if buf, err := hex.DecodeString(parts[0]); err != nil || len(buf) != 32 {
		return Outpoint{}, fmt.Errorf("invalid outpoint txid %s", parts[0])
	}
	vout, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return Outpoint{}, fmt.Errorf("invalid outpoint vout %s", parts[1])
	}
	return Outpoint{Txid: parts[0], VOut: uint32(vout)}, nil
}

func (o Outpoint) String() string {
	return fmt.Sprintf("%s:%d", o.Txid, o.VOut)
}

// AmountRange is an inclusive range of satoshi amounts. A zero Max means no
// upper bound.
type AmountRange struct {
	Min uint64
	Max uint64
}

func (r AmountRange) Contains(amount uint64) bool {
	if amount < r.Min {
		return false
	}
	return r.Max == 0 || amount <= r.Max
}

type CoordinationFeeRate struct {
	// Rate in parts per CoordinationFeeRateScale.
	Rate                  uint64
	PlebsDontPayThreshold uint64
}

// Fee returns the coordination fee charged for an input of the given amount,
// rounded down like the coordinator does.
func (c CoordinationFeeRate) Fee(amount uint64) uint64 {
	if amount <= c.PlebsDontPayThreshold || c.Rate == 0 {
		return 0
	}
	rate := c.Rate
	if rate > CoordinationFeeRateScale {
		rate = CoordinationFeeRateScale
	}
	hi, lo := bits.Mul64(amount, rate)
	fee, _ := bits.Div64(hi, lo, CoordinationFeeRateScale)
	return fee
}

type RegisteredInput struct {
	Outpoint
	Amount         uint64
	PkScript       []byte
	OwnershipProof []byte
}

type RegisteredOutput struct {
	Amount   uint64
	PkScript []byte
}

func (o RegisteredOutput) Equal(other RegisteredOutput) bool {
	return o.Amount == other.Amount && bytes.Equal(o.PkScript, other.PkScript)
}

// Round is the coordinator's published view of a coinjoin round.
type Round struct {
	Id                         string
	Phase                      Phase
	InputRegistrationEnd       time.Time
	CoordinatorIdentifier      string
	MiningFeeRate              uint64 // sat/kvB
	CoordinationFee            CoordinationFeeRate
	AllowedInputAmounts        AmountRange
	AllowedOutputAmounts       AmountRange
	AllowedInputTypes          []ScriptType
	AllowedOutputTypes         []ScriptType
	MaxVsizeAllocationPerAlice uint64
	MaxAmountCredentialValue   uint64
	MaxVsizeCredentialValue    uint64
	AmountIssuer               IssuerParameters
	VsizeIssuer                IssuerParameters
	Inputs                     []RegisteredInput
	Outputs                    []RegisteredOutput
}

func (r Round) IsEnded() bool {
	return r.Phase >= Ended
}

// AcceptsRegistration tells whether an input can still be registered with
// at least margin left before the registration deadline.
func (r Round) AcceptsRegistration(now time.Time, margin time.Duration) bool {
	if r.Phase != InputRegistration {
		return false
	}
	return r.InputRegistrationEnd.Sub(now) >= margin
}

func (r Round) ValidateInput(amount uint64, scriptType ScriptType) error {
	if !r.AllowedInputAmounts.Contains(amount) {
		return fmt.Errorf(
			"%w: amount %d out of range [%d, %d]",
			ErrInputNotAllowed, amount, r.AllowedInputAmounts.Min, r.AllowedInputAmounts.Max,
		)
	}
	if !allowsType(r.AllowedInputTypes, scriptType) {
		return fmt.Errorf("%w: script type %s", ErrInputNotAllowed, scriptType)
	}
	return nil
}

func (r Round) AllowsOutputType(scriptType ScriptType) bool {
	return allowsType(r.AllowedOutputTypes, scriptType)
}

// HasOutputs tells whether every expected output is among the registered
// ones, counting duplicates.
func (r Round) HasOutputs(expected []RegisteredOutput) bool {
	used := make([]bool, len(r.Outputs))
	for _, exp := range expected {
		found := false
		for i, out := range r.Outputs {
			if !used[i] && out.Equal(exp) {
				used[i] = true
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (r Round) HasInput(outpoint Outpoint) bool {
	for _, in := range r.Inputs {
		if in.Outpoint == outpoint {
			return true
		}
	}
	return false
}

// Snapshot returns a copy of the round parameters without the registered
// inputs and outputs.
func (r Round) Snapshot() Round {
	snapshot := r
	snapshot.Inputs = nil
	snapshot.Outputs = nil
	snapshot.AllowedInputTypes = append([]ScriptType{}, r.AllowedInputTypes...)
	snapshot.AllowedOutputTypes = append([]ScriptType{}, r.AllowedOutputTypes...)
	return snapshot
}

// An empty list means every type is allowed.
func allowsType(allowed []ScriptType, scriptType ScriptType) bool {
	if len(allowed) <= 0 {
		return true
	}
	for _, t := range allowed {
		if t == scriptType {
			return true
		}
	}
	return false
}
