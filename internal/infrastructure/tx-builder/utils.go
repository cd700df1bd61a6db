package txbuilder

import (
	"fmt"

	"github.com/ark-network/coinjoin/internal/core/domain"
	"github.com/btcsuite/btcd/txscript"
)

// outputSet is a multiset of planned outputs keyed by amount and script.
type outputSet struct {
	outputs map[string][]domain.PlannedOutput
	count   int
}

func newOutputSet() *outputSet {
	return &outputSet{outputs: make(map[string][]domain.PlannedOutput)}
}

func (s *outputSet) push(out domain.PlannedOutput) {
	key := outputKey(out.Amount, out.PkScript)
	s.outputs[key] = append(s.outputs[key], out)
	s.count++
}

func (s *outputSet) pop(out domain.RegisteredOutput) (domain.PlannedOutput, bool) {
	key := outputKey(out.Amount, out.PkScript)
	planned := s.outputs[key]
	if len(planned) <= 0 {
		return domain.PlannedOutput{}, false
	}
	s.outputs[key] = planned[1:]
	s.count--
	return planned[0], true
}

func (s *outputSet) len() int {
	return s.count
}

func outputKey(amount uint64, pkScript []byte) string {
	return fmt.Sprintf("%d:%x", amount, pkScript)
}

func scriptTypeOf(pkScript []byte) domain.ScriptType {
	switch txscript.GetScriptClass(pkScript) {
	case txscript.WitnessV0PubKeyHashTy:
		return domain.ScriptTypeP2WPKH
	case txscript.WitnessV1TaprootTy:
		return domain.ScriptTypeTaproot
	default:
		return domain.ScriptTypeUnknown
	}
}
