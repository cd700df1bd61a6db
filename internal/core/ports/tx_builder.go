package ports

import "github.com/ark-network/coinjoin/internal/core/domain"

type TxInput struct {
	domain.Outpoint
	Amount     uint64
	PkScript   []byte
	ScriptType domain.ScriptType
	// Set for this wallet's inputs only.
	Path string
	// Set for other participants' inputs only.
	OwnershipProof []byte
	Mine           bool
}

type TxOutput struct {
	Amount     uint64
	PkScript   []byte
	ScriptType domain.ScriptType
	Path       string
	Address    string
	Mine       bool
}

// CoinjoinTx is the canonically ordered transaction of a round.
type CoinjoinTx struct {
	Txid    string
	Psbt    string
	Vsize   uint64
	Inputs  []TxInput
	Outputs []TxOutput
}

func (t CoinjoinTx) MyInputs() []int {
	idxs := make([]int, 0)
	for i, in := range t.Inputs {
		if in.Mine {
			idxs = append(idxs, i)
		}
	}
	return idxs
}

type TxBuilder interface {
	// BuildCoinjoinTx merges every input and output registered in the round
	// into one transaction, telling apart those owned by the given alices.
	BuildCoinjoinTx(round domain.Round, alices []domain.Alice) (*CoinjoinTx, error)
}
