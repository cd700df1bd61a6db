package application

import (
	"fmt"

	"github.com/ark-network/coinjoin/internal/core/domain"
	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/mempool"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/input"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
)

// Signers grind for low-R signatures, saving one byte over lnd's worst case.
const lowRP2WKHWitnessSize = input.P2WKHWitnessSize - 1

func inputVsize(scriptType domain.ScriptType) (uint64, error) {
	var witnessSize int
	switch scriptType {
	case domain.ScriptTypeP2WPKH:
		witnessSize = lowRP2WKHWitnessSize
	case domain.ScriptTypeTaproot:
		witnessSize = input.TaprootKeyPathWitnessSize
	default:
		return 0, fmt.Errorf("unsupported input script type %s", scriptType)
	}
	weight := input.InputSize*blockchain.WitnessScaleFactor + witnessSize
	return uint64(
		(weight + blockchain.WitnessScaleFactor - 1) / blockchain.WitnessScaleFactor,
	), nil
}

func outputVsize(scriptType domain.ScriptType) (uint64, error) {
	switch scriptType {
	case domain.ScriptTypeP2WPKH:
		return input.P2WKHOutputSize, nil
	case domain.ScriptTypeTaproot:
		return input.P2TROutputSize, nil
	default:
		return 0, fmt.Errorf("unsupported output script type %s", scriptType)
	}
}

// miningFee rounds up, so an Alice never pays less than its share.
func miningFee(feeRate chainfee.SatPerKVByte, vsize uint64) uint64 {
	if feeRate <= 0 {
		return 0
	}
	return (uint64(feeRate)*vsize + 999) / 1000
}

func dustThreshold(scriptType domain.ScriptType) uint64 {
	var pkScript []byte
	switch scriptType {
	case domain.ScriptTypeP2WPKH:
		pkScript = make([]byte, input.P2WPKHSize)
		pkScript[0], pkScript[1] = txscript.OP_0, txscript.OP_DATA_20
	default:
		pkScript = make([]byte, input.P2TRSize)
		pkScript[0], pkScript[1] = txscript.OP_1, txscript.OP_DATA_32
	}
	return uint64(mempool.GetDustThreshold(wire.NewTxOut(0, pkScript)))
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
