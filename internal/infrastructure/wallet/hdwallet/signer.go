package hdwallet

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ark-network/coinjoin/internal/core/domain"
	"github.com/ark-network/coinjoin/internal/core/ports"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

var bip322Tag = []byte("BIP0322-signed-message")

func (s *service) Sign(ctx context.Context, tx ports.CoinjoinTx) ([]ports.InputWitness, error) {
	packet, err := psbt.NewFromRawBytes(strings.NewReader(tx.Psbt), true)
	if err != nil {
		return nil, fmt.Errorf("invalid coinjoin psbt: %s", err)
	}
	if len(packet.Inputs) != len(tx.Inputs) {
		return nil, fmt.Errorf(
			"psbt has %d inputs, expected %d", len(packet.Inputs), len(tx.Inputs),
		)
	}

	prevouts := txscript.NewMultiPrevOutFetcher(nil)
	for i, in := range packet.Inputs {
		if in.WitnessUtxo == nil {
			return nil, fmt.Errorf("missing witness utxo for input %d", i)
		}
		prevouts.AddPrevOut(packet.UnsignedTx.TxIn[i].PreviousOutPoint, in.WitnessUtxo)
	}
	sigHashes := txscript.NewTxSigHashes(packet.UnsignedTx, prevouts)

	witnesses := make([]ports.InputWitness, 0)
	for _, i := range tx.MyInputs() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		witness, err := s.signInput(
			packet.UnsignedTx, sigHashes, i, packet.Inputs[i].WitnessUtxo, tx.Inputs[i].Path,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to sign input %d: %s", i, err)
		}
		buf, err := serializeWitness(witness)
		if err != nil {
			return nil, err
		}
		witnesses = append(witnesses, ports.InputWitness{InputIndex: i, Witness: buf})
	}
	return witnesses, nil
}

// OwnershipProof returns a BIP-322 full proof of the utxo's script, with the
// commitment data as message: the signed to_sign transaction.
func (s *service) OwnershipProof(
	ctx context.Context, utxo domain.Utxo, commitmentData []byte,
) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	toSpend := bip322ToSpend(utxo.PkScript, commitmentData)
	// psbt.New refuses version 0 transactions.
	packet, err := psbt.NewFromUnsignedTx(bip322ToSign(toSpend))
	if err != nil {
		return nil, err
	}
	updater, err := psbt.NewUpdater(packet)
	if err != nil {
		return nil, err
	}
	prevout := toSpend.TxOut[0]
	if err := updater.AddInWitnessUtxo(prevout, 0); err != nil {
		return nil, err
	}

	prevouts := txscript.NewCannedPrevOutputFetcher(prevout.PkScript, prevout.Value)
	sigHashes := txscript.NewTxSigHashes(packet.UnsignedTx, prevouts)
	witness, err := s.signInput(packet.UnsignedTx, sigHashes, 0, prevout, utxo.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to sign ownership proof of %s: %s", utxo.Outpoint, err)
	}
	if packet.Inputs[0].FinalScriptWitness, err = serializeWitness(witness); err != nil {
		return nil, err
	}

	toSign, err := psbt.Extract(packet)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := toSign.Serialize(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *service) signInput(
	tx *wire.MsgTx, sigHashes *txscript.TxSigHashes, idx int,
	prevout *wire.TxOut, path string,
) (wire.TxWitness, error) {
	key, err := s.privateKey(path)
	if err != nil {
		return nil, err
	}

	isTaproot := txscript.IsPayToTaproot(prevout.PkScript)
	scriptType := domain.ScriptTypeP2WPKH
	if isTaproot {
		scriptType = domain.ScriptTypeTaproot
	}
	_, pkScript, err := addressOf(key.PubKey(), scriptType, s.net)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(pkScript, prevout.PkScript) {
		return nil, fmt.Errorf("key at path %s does not own script %x", path, prevout.PkScript)
	}

	if isTaproot {
		return txscript.TaprootWitnessSignature(
			tx, sigHashes, idx, prevout.Value, prevout.PkScript,
			txscript.SigHashDefault, key,
		)
	}
	return txscript.WitnessSignature(
		tx, sigHashes, idx, prevout.Value, prevout.PkScript,
		txscript.SigHashAll, key, true,
	)
}

func (s *service) privateKey(path string) (*btcec.PrivateKey, error) {
	indexes, err := parsePath(path)
	if err != nil {
		return nil, err
	}
	if len(indexes) != len(s.accountPath)+2 {
		return nil, fmt.Errorf("invalid path %s, must be account/branch/index", path)
	}
	for i, idx := range s.accountPath {
		if indexes[i] != idx {
			return nil, fmt.Errorf("path %s is not of this account", path)
		}
	}
	key, err := s.deriveChild(indexes[len(indexes)-2], indexes[len(indexes)-1])
	if err != nil {
		return nil, err
	}
	return key.ECPrivKey()
}

func bip322ToSpend(pkScript, message []byte) *wire.MsgTx {
	msgHash := chainhash.TaggedHash(bip322Tag, message)
	// OP_0 PUSH32 <message hash>
	scriptSig := append([]byte{txscript.OP_0, txscript.OP_DATA_32}, msgHash[:]...)

	tx := wire.NewMsgTx(0)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Index: 0xffffffff},
		SignatureScript:  scriptSig,
		Sequence:         0,
	})
	tx.AddTxOut(wire.NewTxOut(0, pkScript))
	return tx
}

func bip322ToSign(toSpend *wire.MsgTx) *wire.MsgTx {
	tx := wire.NewMsgTx(0)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Hash: toSpend.TxHash(), Index: 0},
		Sequence:         0,
	})
	tx.AddTxOut(wire.NewTxOut(0, []byte{txscript.OP_RETURN}))
	return tx
}
