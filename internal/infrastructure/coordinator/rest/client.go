package coordinatorclient

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ark-network/coinjoin/internal/core/domain"
	"github.com/ark-network/coinjoin/internal/core/ports"
	log "github.com/sirupsen/logrus"
)

const basePath = "/wabisabi"

type restClient struct {
	baseURL string
	client  *http.Client
}

func NewClient(coordinatorURL string, timeout time.Duration) (ports.CoordinatorClient, error) {
	if len(coordinatorURL) <= 0 {
		return nil, fmt.Errorf("missing coordinator url")
	}
	u, err := url.Parse(coordinatorURL)
	if err != nil {
		return nil, fmt.Errorf("invalid coordinator url: %s", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid coordinator url scheme %s", u.Scheme)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	baseURL := strings.TrimSuffix(u.String(), "/") + basePath
	return &restClient{baseURL, &http.Client{Timeout: timeout}}, nil
}

func (c *restClient) GetStatus(ctx context.Context) ([]domain.Round, error) {
	resp := &statusResponse{}
	if err := c.post(
		ctx, "status", statusRequest{RoundCheckpoints: []string{}}, resp,
	); err != nil {
		return nil, err
	}

	rounds := make([]domain.Round, 0, len(resp.RoundStates))
	for _, state := range resp.RoundStates {
		round, err := state.toDomain()
		if err != nil {
			return nil, err
		}
		rounds = append(rounds, *round)
	}
	return rounds, nil
}

func (c *restClient) RegisterInput(
	ctx context.Context, req ports.InputRegistrationRequest,
) (*ports.InputRegistrationResponse, error) {
	body := inputRegistrationRequest{
		RoundId:                      req.RoundId,
		Input:                        req.Outpoint.String(),
		OwnershipProof:               hex.EncodeToString(req.OwnershipProof),
		ZeroAmountCredentialRequests: req.ZeroAmountCredentialRequest,
		ZeroVsizeCredentialRequests:  req.ZeroVsizeCredentialRequest,
	}
	resp := &inputRegistrationResponse{}
	if err := c.post(ctx, "input-registration", body, resp); err != nil {
		return nil, err
	}
	if len(resp.AliceId) <= 0 {
		return nil, fmt.Errorf("missing alice id in input registration response")
	}
	return &ports.InputRegistrationResponse{
		AliceId:           resp.AliceId,
		AmountCredentials: resp.AmountCredentials,
		VsizeCredentials:  resp.VsizeCredentials,
	}, nil
}

func (c *restClient) ConfirmConnection(
	ctx context.Context, req ports.ConnectionConfirmationRequest,
) (*domain.ConfirmationData, error) {
	body := connectionConfirmationRequest{
		RoundId:                      req.RoundId,
		AliceId:                      req.AliceId,
		ZeroAmountCredentialRequests: req.ZeroAmountCredentialRequest,
		ZeroVsizeCredentialRequests:  req.ZeroVsizeCredentialRequest,
		RealAmountCredentialRequests: req.RealAmountCredentialRequest,
		RealVsizeCredentialRequests:  req.RealVsizeCredentialRequest,
	}
	resp := &credentialsResponse{}
	if err := c.post(ctx, "connection-confirmation", body, resp); err != nil {
		return nil, err
	}
	return &domain.ConfirmationData{
		ZeroAmount: resp.ZeroAmountCredentials,
		ZeroVsize:  resp.ZeroVsizeCredentials,
		RealAmount: resp.RealAmountCredentials,
		RealVsize:  resp.RealVsizeCredentials,
	}, nil
}

func (c *restClient) IssueCredentials(
	ctx context.Context, req ports.CredentialIssuanceRequest,
) (*ports.CredentialIssuanceResponse, error) {
	body := credentialIssuanceRequest{
		RoundId:                      req.RoundId,
		AliceId:                      req.AliceId,
		ZeroAmountCredentialRequests: req.ZeroAmountCredentialRequest,
		ZeroVsizeCredentialRequests:  req.ZeroVsizeCredentialRequest,
		RealAmountCredentialRequests: req.RealAmountCredentialRequest,
		RealVsizeCredentialRequests:  req.RealVsizeCredentialRequest,
	}
	resp := &credentialsResponse{}
	if err := c.post(ctx, "credential-issuance", body, resp); err != nil {
		return nil, err
	}
	return &ports.CredentialIssuanceResponse{
		RealAmountCredentials: resp.RealAmountCredentials,
		RealVsizeCredentials:  resp.RealVsizeCredentials,
		ZeroAmountCredentials: resp.ZeroAmountCredentials,
		ZeroVsizeCredentials:  resp.ZeroVsizeCredentials,
	}, nil
}

func (c *restClient) RegisterOutput(
	ctx context.Context, req ports.OutputRegistrationRequest,
) error {
	body := outputRegistrationRequest{
		RoundId:                  req.RoundId,
		Script:                   hex.EncodeToString(req.PkScript),
		AmountCredentialRequests: req.AmountCredentialRequest,
		VsizeCredentialRequests:  req.VsizeCredentialRequest,
	}
	return c.post(ctx, "output-registration", body, nil)
}

func (c *restClient) ReadyToSign(ctx context.Context, roundId, aliceId string) error {
	body := readyToSignRequest{RoundId: roundId, AliceId: aliceId}
	return c.post(ctx, "ready-to-sign", body, nil)
}

func (c *restClient) SignTransaction(
	ctx context.Context, roundId string, inputIndex int, witness []byte,
) error {
	body := transactionSignatureRequest{
		RoundId:    roundId,
		InputIndex: inputIndex,
		Witness:    hex.EncodeToString(witness),
	}
	return c.post(ctx, "transaction-signature", body, nil)
}

func (c *restClient) UnregisterInput(ctx context.Context, roundId, aliceId string) error {
	body := inputUnregistrationRequest{RoundId: roundId, AliceId: aliceId}
	return c.post(ctx, "input-unregistration", body, nil)
}

// post sends body as json to the given endpoint and, if result is not nil,
// decodes the response into it. Error responses that carry a protocol error
// code are returned as *ports.CoordinatorError.
func (c *restClient) post(
	ctx context.Context, endpoint string, body, result interface{},
) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %s", endpoint, err)
	}

	endpointURL := fmt.Sprintf("%s/%s", c.baseURL, endpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %s", endpoint, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errResp := &errorResponse{}
		if err := json.Unmarshal(respBody, errResp); err == nil && len(errResp.ErrorCode) > 0 {
			log.Debugf(
				"coordinator rejected %s request: %s (%s)",
				endpoint, errResp.ErrorCode, errResp.Description,
			)
			return &ports.CoordinatorError{
				Code:        errResp.ErrorCode,
				Description: errResp.Description,
			}
		}
		return fmt.Errorf(
			"%s request failed with status %d: %s",
			endpoint, resp.StatusCode, strings.TrimSpace(string(respBody)),
		)
	}

	if result == nil || len(respBody) <= 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to decode %s response: %s", endpoint, err)
	}
	return nil
}
