package ports

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ark-network/coinjoin/internal/core/domain"
)

// CoordinatorError is a request refused by the coordinator, as opposed to a
// transport failure.
type CoordinatorError struct {
	Code        string
	Description string
}

func (e *CoordinatorError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func (e *CoordinatorError) Unwrap() error {
	return domain.ErrCoordinatorRejected
}

type InputRegistrationRequest struct {
	RoundId                     string
	Outpoint                    domain.Outpoint
	OwnershipProof              []byte
	ZeroAmountCredentialRequest json.RawMessage
	ZeroVsizeCredentialRequest  json.RawMessage
}

type InputRegistrationResponse struct {
	AliceId           string
	AmountCredentials domain.CredentialResponse
	VsizeCredentials  domain.CredentialResponse
}

type ConnectionConfirmationRequest struct {
	RoundId                     string
	AliceId                     string
	ZeroAmountCredentialRequest json.RawMessage
	ZeroVsizeCredentialRequest  json.RawMessage
	RealAmountCredentialRequest json.RawMessage
	RealVsizeCredentialRequest  json.RawMessage
}

type CredentialIssuanceRequest struct {
	RoundId                     string
	AliceId                     string
	RealAmountCredentialRequest json.RawMessage
	RealVsizeCredentialRequest  json.RawMessage
	ZeroAmountCredentialRequest json.RawMessage
	ZeroVsizeCredentialRequest  json.RawMessage
}

type CredentialIssuanceResponse struct {
	RealAmountCredentials domain.CredentialResponse
	RealVsizeCredentials  domain.CredentialResponse
	ZeroAmountCredentials domain.CredentialResponse
	ZeroVsizeCredentials  domain.CredentialResponse
}

type OutputRegistrationRequest struct {
	RoundId                 string
	PkScript                []byte
	AmountCredentialRequest json.RawMessage
	VsizeCredentialRequest  json.RawMessage
}

type CoordinatorClient interface {
	GetStatus(ctx context.Context) ([]domain.Round, error)
	RegisterInput(
		ctx context.Context, req InputRegistrationRequest,
	) (*InputRegistrationResponse, error)
	ConfirmConnection(
		ctx context.Context, req ConnectionConfirmationRequest,
	) (*domain.ConfirmationData, error)
	IssueCredentials(
		ctx context.Context, req CredentialIssuanceRequest,
	) (*CredentialIssuanceResponse, error)
	RegisterOutput(ctx context.Context, req OutputRegistrationRequest) error
	ReadyToSign(ctx context.Context, roundId, aliceId string) error
	SignTransaction(ctx context.Context, roundId string, inputIndex int, witness []byte) error
	UnregisterInput(ctx context.Context, roundId, aliceId string) error
}
