package coordinatorclient

import (
	"encoding/json"
	"time"

	"github.com/ark-network/coinjoin/internal/core/domain"
)

type errorResponse struct {
	Type        string `json:"type"`
	ErrorCode   string `json:"errorCode"`
	Description string `json:"description"`
}

type amountRange struct {
	Min uint64 `json:"min"`
	Max uint64 `json:"max"`
}

type coordinationFeeRate struct {
	Rate                  uint64 `json:"rate"`
	PlebsDontPayThreshold uint64 `json:"plebsDontPayThreshold"`
}

type registeredInput struct {
	Txid           string `json:"txid"`
	Vout           uint32 `json:"vout"`
	Amount         uint64 `json:"amount"`
	ScriptPubKey   string `json:"scriptPubKey"`
	OwnershipProof string `json:"ownershipProof,omitempty"`
}

type registeredOutput struct {
	Amount       uint64 `json:"amount"`
	ScriptPubKey string `json:"scriptPubKey"`
}

type roundState struct {
	Id                         string                  `json:"id"`
	Phase                      int                     `json:"phase"`
	InputRegistrationEnd       time.Time               `json:"inputRegistrationEnd"`
	CoordinatorIdentifier      string                  `json:"coordinatorIdentifier"`
	MiningFeeRate              uint64                  `json:"miningFeeRate"`
	CoordinationFeeRate        coordinationFeeRate     `json:"coordinationFeeRate"`
	AllowedInputAmounts        amountRange             `json:"allowedInputAmounts"`
	AllowedOutputAmounts       amountRange             `json:"allowedOutputAmounts"`
	AllowedInputTypes          []string                `json:"allowedInputTypes"`
	AllowedOutputTypes         []string                `json:"allowedOutputTypes"`
	MaxVsizeAllocationPerAlice uint64                  `json:"maxVsizeAllocationPerAlice"`
	MaxAmountCredentialValue   uint64                  `json:"maxAmountCredentialValue"`
	MaxVsizeCredentialValue    uint64                  `json:"maxVsizeCredentialValue"`
	AmountIssuer               domain.IssuerParameters `json:"amountCredentialIssuerParameters"`
	VsizeIssuer                domain.IssuerParameters `json:"vsizeCredentialIssuerParameters"`
	Inputs                     []registeredInput       `json:"inputs"`
	Outputs                    []registeredOutput      `json:"outputs"`
}

type statusRequest struct {
	RoundCheckpoints []string `json:"roundCheckpoints"`
}

type statusResponse struct {
	RoundStates []roundState `json:"roundStates"`
}

type inputRegistrationRequest struct {
	RoundId                      string          `json:"roundId"`
	Input                        string          `json:"input"`
	OwnershipProof               string          `json:"ownershipProof"`
	ZeroAmountCredentialRequests json.RawMessage `json:"zeroAmountCredentialRequests"`
	ZeroVsizeCredentialRequests  json.RawMessage `json:"zeroVsizeCredentialRequests"`
}

type inputRegistrationResponse struct {
	AliceId           string                    `json:"aliceId"`
	AmountCredentials domain.CredentialResponse `json:"amountCredentials"`
	VsizeCredentials  domain.CredentialResponse `json:"vsizeCredentials"`
}

type connectionConfirmationRequest struct {
	RoundId                      string          `json:"roundId"`
	AliceId                      string          `json:"aliceId"`
	ZeroAmountCredentialRequests json.RawMessage `json:"zeroAmountCredentialRequests"`
	ZeroVsizeCredentialRequests  json.RawMessage `json:"zeroVsizeCredentialRequests"`
	RealAmountCredentialRequests json.RawMessage `json:"realAmountCredentialRequests"`
	RealVsizeCredentialRequests  json.RawMessage `json:"realVsizeCredentialRequests"`
}

type credentialsResponse struct {
	ZeroAmountCredentials domain.CredentialResponse `json:"zeroAmountCredentials"`
	ZeroVsizeCredentials  domain.CredentialResponse `json:"zeroVsizeCredentials"`
	RealAmountCredentials domain.CredentialResponse `json:"realAmountCredentials"`
	RealVsizeCredentials  domain.CredentialResponse `json:"realVsizeCredentials"`
}

type credentialIssuanceRequest connectionConfirmationRequest

type outputRegistrationRequest struct {
	RoundId                  string          `json:"roundId"`
	Script                   string          `json:"script"`
	AmountCredentialRequests json.RawMessage `json:"amountCredentialRequests"`
	VsizeCredentialRequests  json.RawMessage `json:"vsizeCredentialRequests"`
}

type readyToSignRequest struct {
	RoundId string `json:"roundId"`
	AliceId string `json:"aliceId"`
}

type inputUnregistrationRequest readyToSignRequest

type transactionSignatureRequest struct {
	RoundId    string `json:"roundId"`
	InputIndex int    `json:"inputIndex"`
	Witness    string `json:"witness"`
}
