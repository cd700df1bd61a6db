package ports

import (
	"context"
	"encoding/json"

	"github.com/ark-network/coinjoin/internal/core/domain"
)

// CredentialProvider wraps the anonymous credential scheme. It keeps no
// state between calls.
type CredentialProvider interface {
	CreateZeroRequest(
		ctx context.Context, issuer domain.IssuerParameters,
	) (*domain.CredentialRequest, error)
	CreateRequest(
		ctx context.Context, amounts []uint64, issuer domain.IssuerParameters,
		maxCredentialValue uint64, present domain.Credentials,
	) (*domain.CredentialRequest, error)
	HandleResponse(
		ctx context.Context, issuer domain.IssuerParameters,
		response domain.CredentialResponse, validation json.RawMessage,
	) (domain.Credentials, error)
}
