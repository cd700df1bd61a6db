package domain

import (
	"encoding/json"
	"fmt"
)

// IssuerParameters are the coordinator's public credential issuer
// parameters, passed through to the credential provider untouched.
type IssuerParameters struct {
	Cw string `json:"Cw"`
	I  string `json:"I"`
}

// Credential is an issued credential. Data is opaque to this engine, Value is
// the amount (or vsize) it certifies.
type Credential struct {
	Value uint64          `json:"value"`
	Data  json.RawMessage `json:"data"`
}

type Credentials []Credential

func (c Credentials) Sum() uint64 {
	tot := uint64(0)
	for _, cred := range c {
		tot += cred.Value
	}
	return tot
}

// CredentialRequest pairs the request sent to the coordinator with the data
// needed to validate the coordinator's response.
type CredentialRequest struct {
	Data       json.RawMessage
	Validation json.RawMessage
	Amounts    []uint64
	Presented  Credentials
}

func (r CredentialRequest) RequestedSum() uint64 {
	tot := uint64(0)
	for _, a := range r.Amounts {
		tot += a
	}
	return tot
}

// CredentialResponse is the coordinator's opaque issuance response for one
// credential request.
type CredentialResponse json.RawMessage

func (r CredentialResponse) MarshalJSON() ([]byte, error) {
	if len(r) <= 0 {
		return []byte("null"), nil
	}
	return r, nil
}

func (r *CredentialResponse) UnmarshalJSON(data []byte) error {
	*r = append((*r)[0:0], data...)
	return nil
}

// CredentialSlot holds one kind of credential material of an Alice: the
// request prepared before a coordinator call and the credentials confirmed
// after it.
type CredentialSlot struct {
	Request   *CredentialRequest
	Confirmed Credentials
}

type CredentialMaterial struct {
	ZeroAmount CredentialSlot
	ZeroVsize  CredentialSlot
	RealAmount CredentialSlot
	RealVsize  CredentialSlot
}

// CheckBalance enforces the credential conservation law:
// sum(presented) + delta == sum(requested). delta is the value the operation
// brings into the ledger (positive, e.g. a registered input) or takes out of
// it (negative, e.g. a registered output).
func CheckBalance(presented Credentials, requested []uint64, delta int64) error {
	in := int64(presented.Sum()) + delta
	out := int64(0)
	for _, a := range requested {
		out += int64(a)
	}
	if in != out {
		return fmt.Errorf(
			"%w: presented %d, delta %d, requested %d",
			ErrCredentialImbalance, presented.Sum(), delta, out,
		)
	}
	return nil
}
