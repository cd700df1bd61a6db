package txbuilder

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/ark-network/coinjoin/internal/core/domain"
	"github.com/ark-network/coinjoin/internal/core/ports"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/input"
)

const coinjoinTxVersion = 1

type txBuilder struct {
	net *chaincfg.Params
}

func NewTxBuilder(net *chaincfg.Params) ports.TxBuilder {
	return &txBuilder{net}
}

// BuildCoinjoinTx orders inputs and outputs by value then script, so that
// the result depends only on the registered sets and not on their
// registration order.
func (b *txBuilder) BuildCoinjoinTx(
	round domain.Round, alices []domain.Alice,
) (*ports.CoinjoinTx, error) {
	if len(round.Inputs) <= 0 {
		return nil, fmt.Errorf("round %s has no inputs", round.Id)
	}
	if len(round.Outputs) <= 0 {
		return nil, fmt.Errorf("round %s has no outputs", round.Id)
	}

	myInputs := make(map[domain.Outpoint]domain.Alice)
	myOutputs := newOutputSet()
	for _, alice := range alices {
		myInputs[alice.Utxo.Outpoint] = alice
		for _, out := range alice.Outputs {
			myOutputs.push(out)
		}
	}

	inputs, err := b.buildInputs(sortInputs(round.Inputs), myInputs)
	if err != nil {
		return nil, err
	}
	outputs, err := b.buildOutputs(sortOutputs(round.Outputs), myOutputs)
	if err != nil {
		return nil, err
	}
	if myOutputs.len() > 0 {
		return nil, fmt.Errorf(
			"%w: %d outputs missing from round %s",
			domain.ErrOutputsNotRegistered, myOutputs.len(), round.Id,
		)
	}

	tx, err := b.buildTx(inputs, outputs)
	if err != nil {
		return nil, err
	}
	ptx, err := buildPsbt(tx, inputs)
	if err != nil {
		return nil, err
	}
	vsize, err := estimateVsize(inputs, outputs)
	if err != nil {
		return nil, err
	}

	return &ports.CoinjoinTx{
		Txid:    tx.TxHash().String(),
		Psbt:    ptx,
		Vsize:   vsize,
		Inputs:  inputs,
		Outputs: outputs,
	}, nil
}

func (b *txBuilder) buildInputs(
	registered []domain.RegisteredInput, mine map[domain.Outpoint]domain.Alice,
) ([]ports.TxInput, error) {
	inputs := make([]ports.TxInput, 0, len(registered))
	seen := make(map[domain.Outpoint]struct{}, len(registered))
	for _, in := range registered {
		if _, ok := seen[in.Outpoint]; ok {
			return nil, fmt.Errorf("duplicated input %s", in.Outpoint)
		}
		seen[in.Outpoint] = struct{}{}

		if alice, ok := mine[in.Outpoint]; ok {
			if in.Amount != alice.Utxo.Amount {
				return nil, fmt.Errorf(
					"input %s registered with amount %d, expected %d",
					in.Outpoint, in.Amount, alice.Utxo.Amount,
				)
			}
			inputs = append(inputs, ports.TxInput{
				Outpoint:   in.Outpoint,
				Amount:     in.Amount,
				PkScript:   alice.Utxo.PkScript,
				ScriptType: alice.Utxo.ScriptType,
				Path:       alice.Utxo.Path,
				Mine:       true,
			})
			continue
		}

		inputs = append(inputs, ports.TxInput{
			Outpoint:       in.Outpoint,
			Amount:         in.Amount,
			PkScript:       in.PkScript,
			ScriptType:     scriptTypeOf(in.PkScript),
			OwnershipProof: in.OwnershipProof,
		})
	}
	return inputs, nil
}

func (b *txBuilder) buildOutputs(
	registered []domain.RegisteredOutput, mine *outputSet,
) ([]ports.TxOutput, error) {
	outputs := make([]ports.TxOutput, 0, len(registered))
	for _, out := range registered {
		if planned, ok := mine.pop(out); ok {
			outputs = append(outputs, ports.TxOutput{
				Amount:     out.Amount,
				PkScript:   out.PkScript,
				ScriptType: planned.ScriptType,
				Path:       planned.Path,
				Address:    planned.Address,
				Mine:       true,
			})
			continue
		}

		_, addrs, _, err := txscript.ExtractPkScriptAddrs(out.PkScript, b.net)
		if err != nil || len(addrs) != 1 {
			return nil, fmt.Errorf(
				"cannot derive address of output script %s", hex.EncodeToString(out.PkScript),
			)
		}
		outputs = append(outputs, ports.TxOutput{
			Amount:     out.Amount,
			PkScript:   out.PkScript,
			ScriptType: scriptTypeOf(out.PkScript),
			Address:    addrs[0].EncodeAddress(),
		})
	}
	return outputs, nil
}

func (b *txBuilder) buildTx(
	inputs []ports.TxInput, outputs []ports.TxOutput,
) (*wire.MsgTx, error) {
	tx := wire.NewMsgTx(coinjoinTxVersion)
	for _, in := range inputs {
		hash, err := chainhash.NewHashFromStr(in.Txid)
		if err != nil {
			return nil, fmt.Errorf("invalid input txid %s: %s", in.Txid, err)
		}
		tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(hash, in.VOut), nil, nil))
	}
	for _, out := range outputs {
		tx.AddTxOut(wire.NewTxOut(int64(out.Amount), out.PkScript))
	}
	return tx, nil
}

func buildPsbt(tx *wire.MsgTx, inputs []ports.TxInput) (string, error) {
	ptx, err := psbt.NewFromUnsignedTx(tx)
	if err != nil {
		return "", err
	}
	updater, err := psbt.NewUpdater(ptx)
	if err != nil {
		return "", err
	}
	for i, in := range inputs {
		prevout := wire.NewTxOut(int64(in.Amount), in.PkScript)
		if err := updater.AddInWitnessUtxo(prevout, i); err != nil {
			return "", err
		}
	}
	return ptx.B64Encode()
}

func estimateVsize(inputs []ports.TxInput, outputs []ports.TxOutput) (uint64, error) {
	estimator := &input.TxWeightEstimator{}
	for _, in := range inputs {
		switch in.ScriptType {
		case domain.ScriptTypeP2WPKH:
			estimator.AddP2WKHInput()
		case domain.ScriptTypeTaproot:
			estimator.AddTaprootKeySpendInput(txscript.SigHashDefault)
		default:
			return 0, fmt.Errorf("unsupported script of input %s", in.Outpoint)
		}
	}
	for _, out := range outputs {
		switch out.ScriptType {
		case domain.ScriptTypeP2WPKH:
			estimator.AddP2WKHOutput()
		case domain.ScriptTypeTaproot:
			estimator.AddP2TROutput()
		default:
			estimator.AddOutput(out.PkScript)
		}
	}
	return uint64(estimator.VSize()), nil
}

func sortInputs(registered []domain.RegisteredInput) []domain.RegisteredInput {
	inputs := append([]domain.RegisteredInput{}, registered...)
	sort.SliceStable(inputs, func(i, j int) bool {
		if inputs[i].Amount != inputs[j].Amount {
			return inputs[i].Amount < inputs[j].Amount
		}
		if c := bytes.Compare(inputs[i].PkScript, inputs[j].PkScript); c != 0 {
			return c < 0
		}
		if inputs[i].Txid != inputs[j].Txid {
			return inputs[i].Txid < inputs[j].Txid
		}
		return inputs[i].VOut < inputs[j].VOut
	})
	return inputs
}

func sortOutputs(registered []domain.RegisteredOutput) []domain.RegisteredOutput {
	outputs := append([]domain.RegisteredOutput{}, registered...)
	sort.SliceStable(outputs, func(i, j int) bool {
		if outputs[i].Amount != outputs[j].Amount {
			return outputs[i].Amount < outputs[j].Amount
		}
		return bytes.Compare(outputs[i].PkScript, outputs[j].PkScript) < 0
	})
	return outputs
}
