package middleware

import (
	"encoding/json"
	"fmt"

	"github.com/ark-network/coinjoin/internal/core/domain"
)

type zeroRequest struct {
	CredentialIssuerParameters domain.IssuerParameters `json:"credentialIssuerParameters"`
}

type realRequest struct {
	AmountsToRequest           []uint64                `json:"amountsToRequest"`
	CredentialIssuerParameters domain.IssuerParameters `json:"credentialIssuerParameters"`
	MaxCredentialValue         uint64                  `json:"maxCredentialValue"`
	CredentialsToPresent       []json.RawMessage       `json:"credentialsToPresent"`
}

type createRequestResponse struct {
	CredentialsRequest            json.RawMessage `json:"credentialsRequest"`
	CredentialsResponseValidation json.RawMessage `json:"credentialsResponseValidation"`
}

func (r createRequestResponse) validate() error {
	if len(r.CredentialsRequest) <= 0 {
		return fmt.Errorf("missing credentials request in middleware response")
	}
	if len(r.CredentialsResponseValidation) <= 0 {
		return fmt.Errorf("missing response validation in middleware response")
	}
	return nil
}

type handleResponseRequest struct {
	RegistrationResponse       json.RawMessage         `json:"registrationResponse"`
	CredentialIssuerParameters domain.IssuerParameters `json:"credentialIssuerParameters"`
	RegistrationValidationData json.RawMessage         `json:"registrationValidationData"`
}

type handleResponseResponse struct {
	Credentials []json.RawMessage `json:"credentials"`
}

type credentialValue struct {
	Value *uint64 `json:"value"`
}

// Credentials travel as the middleware's own json objects, only their value
// is read.
func decodeCredentials(raw []json.RawMessage) (domain.Credentials, error) {
	creds := make(domain.Credentials, 0, len(raw))
	for _, buf := range raw {
		v := credentialValue{}
		if err := json.Unmarshal(buf, &v); err != nil {
			return nil, fmt.Errorf("invalid credential: %s", err)
		}
		if v.Value == nil {
			return nil, fmt.Errorf("invalid credential: missing value")
		}
		creds = append(creds, domain.Credential{
			Value: *v.Value,
			Data:  append(json.RawMessage{}, buf...),
		})
	}
	return creds, nil
}

func encodeCredentials(creds domain.Credentials) ([]json.RawMessage, error) {
	raw := make([]json.RawMessage, 0, len(creds))
	for _, cred := range creds {
		if len(cred.Data) <= 0 {
			return nil, fmt.Errorf("credential of value %d has no data", cred.Value)
		}
		raw = append(raw, cred.Data)
	}
	return raw, nil
}
