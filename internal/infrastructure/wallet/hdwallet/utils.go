package hdwallet

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/ark-network/coinjoin/internal/core/domain"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

func purposeOf(scriptType domain.ScriptType) (uint32, error) {
	switch scriptType {
	case domain.ScriptTypeP2WPKH:
		return 84, nil
	case domain.ScriptTypeTaproot:
		return 86, nil
	default:
		return 0, fmt.Errorf("unsupported script type %s", scriptType)
	}
}

func addressOf(
	pubkey *btcec.PublicKey, scriptType domain.ScriptType, net *chaincfg.Params,
) (string, []byte, error) {
	var (
		addr btcutil.Address
		err  error
	)
	switch scriptType {
	case domain.ScriptTypeP2WPKH:
		addr, err = btcutil.NewAddressWitnessPubKeyHash(
			btcutil.Hash160(pubkey.SerializeCompressed()), net,
		)
	case domain.ScriptTypeTaproot:
		tapKey := txscript.ComputeTaprootKeyNoScript(pubkey)
		addr, err = btcutil.NewAddressTaproot(schnorr.SerializePubKey(tapKey), net)
	default:
		err = fmt.Errorf("unsupported script type %s", scriptType)
	}
	if err != nil {
		return "", nil, err
	}

	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return "", nil, err
	}
	return addr.EncodeAddress(), pkScript, nil
}

// parsePath parses paths like m/84'/0'/0'/1/5, accepting both ' and h as
// hardened markers.
func parsePath(path string) ([]uint32, error) {
	parts := strings.Split(strings.TrimSpace(path), "/")
	if len(parts) < 2 || parts[0] != "m" {
		return nil, fmt.Errorf("invalid derivation path %s", path)
	}

	indexes := make([]uint32, 0, len(parts)-1)
	for _, part := range parts[1:] {
		hardened := strings.HasSuffix(part, "'") || strings.HasSuffix(part, "h")
		part = strings.TrimRight(part, "'h")
		idx, err := strconv.ParseUint(part, 10, 32)
		if err != nil || idx >= hdkeychain.HardenedKeyStart {
			return nil, fmt.Errorf("invalid derivation path %s", path)
		}
		if hardened {
			idx += hdkeychain.HardenedKeyStart
		}
		indexes = append(indexes, uint32(idx))
	}
	return indexes, nil
}

func formatPath(indexes []uint32) string {
	parts := []string{"m"}
	for _, idx := range indexes {
		if idx >= hdkeychain.HardenedKeyStart {
			parts = append(parts, fmt.Sprintf("%d'", idx-hdkeychain.HardenedKeyStart))
			continue
		}
		parts = append(parts, fmt.Sprintf("%d", idx))
	}
	return strings.Join(parts, "/")
}

func serializeWitness(witness wire.TxWitness) ([]byte, error) {
	var buf bytes.Buffer
	if err := wire.WriteVarInt(&buf, 0, uint64(len(witness))); err != nil {
		return nil, err
	}
	for _, item := range witness {
		if err := wire.WriteVarBytes(&buf, 0, item); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
