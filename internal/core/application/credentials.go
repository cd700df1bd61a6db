package application

import (
	"context"
	"fmt"

	"github.com/ark-network/coinjoin/internal/core/domain"
	"github.com/ark-network/coinjoin/internal/core/ports"
)

// credentialIssuer pairs the credential provider with one of the round's
// issuers, enforcing conservation on every request.
type credentialIssuer struct {
	provider ports.CredentialProvider
	params   domain.IssuerParameters
	maxValue uint64
}

func amountIssuer(provider ports.CredentialProvider, round domain.Round) credentialIssuer {
	return credentialIssuer{provider, round.AmountIssuer, round.MaxAmountCredentialValue}
}

func vsizeIssuer(provider ports.CredentialProvider, round domain.Round) credentialIssuer {
	return credentialIssuer{provider, round.VsizeIssuer, round.MaxVsizeCredentialValue}
}

func (c credentialIssuer) zeroRequest(ctx context.Context) (*domain.CredentialRequest, error) {
	req, err := c.provider.CreateZeroRequest(ctx, c.params)
	if err != nil {
		return nil, fmt.Errorf("failed to create zero credential request: %w", err)
	}
	req.Amounts = nil
	req.Presented = nil
	return req, nil
}

// request asks for new credentials worth amounts, presenting the given ones.
// delta is the value the accompanying operation adds to the ledger.
func (c credentialIssuer) request(
	ctx context.Context, amounts []uint64, present domain.Credentials, delta int64,
) (*domain.CredentialRequest, error) {
	if err := domain.CheckBalance(present, amounts, delta); err != nil {
		return nil, err
	}
	for _, amount := range amounts {
		if c.maxValue > 0 && amount > c.maxValue {
			return nil, fmt.Errorf(
				"requested credential value %d above maximum %d", amount, c.maxValue,
			)
		}
	}

	req, err := c.provider.CreateRequest(ctx, amounts, c.params, c.maxValue, present)
	if err != nil {
		return nil, fmt.Errorf("failed to create credential request: %w", err)
	}
	req.Amounts = append([]uint64{}, amounts...)
	req.Presented = append(domain.Credentials{}, present...)
	return req, nil
}

// resolve turns the coordinator's response into credentials, checking they
// are worth what was requested.
func (c credentialIssuer) resolve(
	ctx context.Context, response domain.CredentialResponse, req *domain.CredentialRequest,
) (domain.Credentials, error) {
	if req == nil {
		return nil, fmt.Errorf("missing credential request to validate response")
	}
	creds, err := c.provider.HandleResponse(ctx, c.params, response, req.Validation)
	if err != nil {
		return nil, fmt.Errorf("failed to handle credential response: %w", err)
	}
	if creds.Sum() != req.RequestedSum() {
		return nil, fmt.Errorf(
			"%w: issued %d, requested %d",
			domain.ErrCredentialImbalance, creds.Sum(), req.RequestedSum(),
		)
	}
	return creds, nil
}

// split returns the credential worth exactly value and the remaining ones.
func split(creds domain.Credentials, value uint64) (domain.Credential, domain.Credentials, error) {
	for i, cred := range creds {
		if cred.Value == value {
			rest := append(domain.Credentials{}, creds[:i]...)
			rest = append(rest, creds[i+1:]...)
			return cred, rest, nil
		}
	}
	return domain.Credential{}, nil, fmt.Errorf(
		"%w: no credential worth %d", domain.ErrCredentialImbalance, value,
	)
}

type issuedCredentials struct {
	amount     domain.Credentials
	vsize      domain.Credentials
	zeroAmount domain.Credentials
	zeroVsize  domain.Credentials
}

// reissue splits the running amount and vsize credentials so that one
// credential of each is worth exactly what the next output costs.
func (s *service) reissue(
	ctx context.Context, round domain.Round, alice domain.Alice,
	amountPool, vsizePool domain.Credentials, amountCost, vsizeCost uint64,
) (*issuedCredentials, error) {
	amounts, vsizes := amountIssuer(s.credentials, round), vsizeIssuer(s.credentials, round)

	if amountPool.Sum() < amountCost || vsizePool.Sum() < vsizeCost {
		return nil, fmt.Errorf(
			"%w: output needs %d sats and %d vbytes, left %d sats and %d vbytes",
			domain.ErrCredentialImbalance, amountCost, vsizeCost, amountPool.Sum(), vsizePool.Sum(),
		)
	}

	realAmount, err := amounts.request(
		ctx, []uint64{amountCost, amountPool.Sum() - amountCost}, amountPool, 0,
	)
	if err != nil {
		return nil, err
	}
	realVsize, err := vsizes.request(
		ctx, []uint64{vsizeCost, vsizePool.Sum() - vsizeCost}, vsizePool, 0,
	)
	if err != nil {
		return nil, err
	}
	zeroAmount, err := amounts.zeroRequest(ctx)
	if err != nil {
		return nil, err
	}
	zeroVsize, err := vsizes.zeroRequest(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := s.coordinator.IssueCredentials(ctx, ports.CredentialIssuanceRequest{
		RoundId:                     round.Id,
		AliceId:                     alice.AliceId,
		RealAmountCredentialRequest: realAmount.Data,
		RealVsizeCredentialRequest:  realVsize.Data,
		ZeroAmountCredentialRequest: zeroAmount.Data,
		ZeroVsizeCredentialRequest:  zeroVsize.Data,
	})
	if err != nil {
		return nil, fmt.Errorf("credential issuance failed: %w", err)
	}

	issued := &issuedCredentials{}
	if issued.amount, err = amounts.resolve(ctx, resp.RealAmountCredentials, realAmount); err != nil {
		return nil, err
	}
	if issued.vsize, err = vsizes.resolve(ctx, resp.RealVsizeCredentials, realVsize); err != nil {
		return nil, err
	}
	if issued.zeroAmount, err = amounts.resolve(ctx, resp.ZeroAmountCredentials, zeroAmount); err != nil {
		return nil, err
	}
	if issued.zeroVsize, err = vsizes.resolve(ctx, resp.ZeroVsizeCredentials, zeroVsize); err != nil {
		return nil, err
	}
	return issued, nil
}
