package coordinatorclient

import (
	"encoding/hex"
	"fmt"

	"github.com/ark-network/coinjoin/internal/core/domain"
)

func (r roundState) toDomain() (*domain.Round, error) {
	phase := domain.Phase(r.Phase)
	if !phase.IsValid() {
		return nil, fmt.Errorf("round %s: invalid phase %d", r.Id, r.Phase)
	}

	inputs := make([]domain.RegisteredInput, 0, len(r.Inputs))
	for _, in := range r.Inputs {
		script, err := hex.DecodeString(in.ScriptPubKey)
		if err != nil {
			return nil, fmt.Errorf("round %s: invalid input script: %s", r.Id, err)
		}
		proof, err := hex.DecodeString(in.OwnershipProof)
		if err != nil {
			return nil, fmt.Errorf("round %s: invalid ownership proof: %s", r.Id, err)
		}
		inputs = append(inputs, domain.RegisteredInput{
			Outpoint:       domain.Outpoint{Txid: in.Txid, VOut: in.Vout},
			Amount:         in.Amount,
			PkScript:       script,
			OwnershipProof: proof,
		})
	}

	outputs := make([]domain.RegisteredOutput, 0, len(r.Outputs))
	for _, out := range r.Outputs {
		script, err := hex.DecodeString(out.ScriptPubKey)
		if err != nil {
			return nil, fmt.Errorf("round %s: invalid output script: %s", r.Id, err)
		}
		outputs = append(outputs, domain.RegisteredOutput{
			Amount:   out.Amount,
			PkScript: script,
		})
	}

	return &domain.Round{
		Id:                    r.Id,
		Phase:                 phase,
		InputRegistrationEnd:  r.InputRegistrationEnd,
		CoordinatorIdentifier: r.CoordinatorIdentifier,
		MiningFeeRate:         r.MiningFeeRate,
		CoordinationFee: domain.CoordinationFeeRate{
			Rate:                  r.CoordinationFeeRate.Rate,
			PlebsDontPayThreshold: r.CoordinationFeeRate.PlebsDontPayThreshold,
		},
		AllowedInputAmounts: domain.AmountRange{
			Min: r.AllowedInputAmounts.Min, Max: r.AllowedInputAmounts.Max,
		},
		AllowedOutputAmounts: domain.AmountRange{
			Min: r.AllowedOutputAmounts.Min, Max: r.AllowedOutputAmounts.Max,
		},
		AllowedInputTypes:          parseScriptTypes(r.AllowedInputTypes),
		AllowedOutputTypes:         parseScriptTypes(r.AllowedOutputTypes),
		MaxVsizeAllocationPerAlice: r.MaxVsizeAllocationPerAlice,
		MaxAmountCredentialValue:   r.MaxAmountCredentialValue,
		MaxVsizeCredentialValue:    r.MaxVsizeCredentialValue,
		AmountIssuer:               r.AmountIssuer,
		VsizeIssuer:                r.VsizeIssuer,
		Inputs:                     inputs,
		Outputs:                    outputs,
	}, nil
}

// Types this wallet can't produce are skipped. A round allowing none of the
// supported ones gets ScriptTypeUnknown so it never matches.
func parseScriptTypes(types []string) []domain.ScriptType {
	parsed := make([]domain.ScriptType, 0, len(types))
	for _, t := range types {
		scriptType, err := domain.ParseScriptType(t)
		if err != nil {
			continue
		}
		parsed = append(parsed, scriptType)
	}
	if len(types) > 0 && len(parsed) <= 0 {
		return []domain.ScriptType{domain.ScriptTypeUnknown}
	}
	return parsed
}
