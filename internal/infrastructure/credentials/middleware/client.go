package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ark-network/coinjoin/internal/core/domain"
	"github.com/ark-network/coinjoin/internal/core/ports"
)

type middlewareClient struct {
	baseURL string
	client  *http.Client
}

// NewCredentialProvider returns a CredentialProvider backed by the credential
// middleware, which implements the anonymous credential scheme.
func NewCredentialProvider(
	middlewareURL string, timeout time.Duration,
) (ports.CredentialProvider, error) {
	if len(middlewareURL) <= 0 {
		return nil, fmt.Errorf("missing middleware url")
	}
	u, err := url.Parse(middlewareURL)
	if err != nil {
		return nil, fmt.Errorf("invalid middleware url: %s", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid middleware url scheme %s", u.Scheme)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &middlewareClient{
		strings.TrimSuffix(u.String(), "/"), &http.Client{Timeout: timeout},
	}, nil
}

func (m *middlewareClient) CreateZeroRequest(
	ctx context.Context, issuer domain.IssuerParameters,
) (*domain.CredentialRequest, error) {
	resp := &createRequestResponse{}
	if err := m.post(ctx, "create-request-for-zero-amount", zeroRequest{
		CredentialIssuerParameters: issuer,
	}, resp); err != nil {
		return nil, err
	}
	if err := resp.validate(); err != nil {
		return nil, err
	}
	return &domain.CredentialRequest{
		Data:       resp.CredentialsRequest,
		Validation: resp.CredentialsResponseValidation,
	}, nil
}

func (m *middlewareClient) CreateRequest(
	ctx context.Context, amounts []uint64, issuer domain.IssuerParameters,
	maxCredentialValue uint64, present domain.Credentials,
) (*domain.CredentialRequest, error) {
	toPresent, err := encodeCredentials(present)
	if err != nil {
		return nil, err
	}

	resp := &createRequestResponse{}
	if err := m.post(ctx, "create-request", realRequest{
		AmountsToRequest:           amounts,
		CredentialIssuerParameters: issuer,
		MaxCredentialValue:         maxCredentialValue,
		CredentialsToPresent:       toPresent,
	}, resp); err != nil {
		return nil, err
	}
	if err := resp.validate(); err != nil {
		return nil, err
	}

	return &domain.CredentialRequest{
		Data:       resp.CredentialsRequest,
		Validation: resp.CredentialsResponseValidation,
		Amounts:    append([]uint64{}, amounts...),
		Presented:  append(domain.Credentials{}, present...),
	}, nil
}

func (m *middlewareClient) HandleResponse(
	ctx context.Context, issuer domain.IssuerParameters,
	response domain.CredentialResponse, validation json.RawMessage,
) (domain.Credentials, error) {
	if len(response) <= 0 {
		return nil, fmt.Errorf("missing credentials response")
	}

	resp := &handleResponseResponse{}
	if err := m.post(ctx, "handle-response", handleResponseRequest{
		RegistrationResponse:       json.RawMessage(response),
		CredentialIssuerParameters: issuer,
		RegistrationValidationData: validation,
	}, resp); err != nil {
		return nil, err
	}
	return decodeCredentials(resp.Credentials)
}

func (m *middlewareClient) post(
	ctx context.Context, endpoint string, body, result interface{},
) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %s", endpoint, err)
	}

	endpointURL := fmt.Sprintf("%s/%s", m.baseURL, endpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("middleware %s request failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read middleware %s response: %s", endpoint, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf(
			"middleware %s request failed with status %d: %s",
			endpoint, resp.StatusCode, strings.TrimSpace(string(respBody)),
		)
	}
	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to decode middleware %s response: %s", endpoint, err)
	}
	return nil
}
