package domain

import (
	"fmt"
	"strings"
)

const (
	ScriptTypeUnknown ScriptType = iota
	ScriptTypeP2WPKH
	ScriptTypeTaproot
)

type ScriptType int

func (t ScriptType) String() string {
	switch t {
	case ScriptTypeP2WPKH:
		return "p2wpkh"
	case ScriptTypeTaproot:
		return "taproot"
	default:
		return "unknown"
	}
}

func ParseScriptType(s string) (ScriptType, error) {
	switch strings.ToLower(s) {
	case "p2wpkh", "segwit", "witness_v0_keyhash":
		return ScriptTypeP2WPKH, nil
	case "taproot", "p2tr", "witness_v1_taproot":
		return ScriptTypeTaproot, nil
	default:
		return ScriptTypeUnknown, fmt.Errorf("unsupported script type %s", s)
	}
}
