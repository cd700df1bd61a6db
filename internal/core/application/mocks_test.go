package application

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ark-network/coinjoin/internal/core/domain"
	"github.com/ark-network/coinjoin/internal/core/ports"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/stretchr/testify/mock"
)

type mockedCoordinator struct {
	mock.Mock
}

func (m *mockedCoordinator) GetStatus(ctx context.Context) ([]domain.Round, error) {
	args := m.Called(ctx)

	var res []domain.Round
	if a := args.Get(0); a != nil {
		res = a.([]domain.Round)
	}
	return res, args.Error(1)
}

func (m *mockedCoordinator) RegisterInput(
	ctx context.Context, req ports.InputRegistrationRequest,
) (*ports.InputRegistrationResponse, error) {
	args := m.Called(ctx, req)

	var res *ports.InputRegistrationResponse
	if a := args.Get(0); a != nil {
		res = a.(*ports.InputRegistrationResponse)
	}
	return res, args.Error(1)
}

func (m *mockedCoordinator) ConfirmConnection(
	ctx context.Context, req ports.ConnectionConfirmationRequest,
) (*domain.ConfirmationData, error) {
	args := m.Called(ctx, req)

	var res *domain.ConfirmationData
	if a := args.Get(0); a != nil {
		res = a.(*domain.ConfirmationData)
	}
	return res, args.Error(1)
}

func (m *mockedCoordinator) IssueCredentials(
	ctx context.Context, req ports.CredentialIssuanceRequest,
) (*ports.CredentialIssuanceResponse, error) {
	args := m.Called(ctx, req)

	var res *ports.CredentialIssuanceResponse
	if a := args.Get(0); a != nil {
		res = a.(*ports.CredentialIssuanceResponse)
	}
	return res, args.Error(1)
}

func (m *mockedCoordinator) RegisterOutput(
	ctx context.Context, req ports.OutputRegistrationRequest,
) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

func (m *mockedCoordinator) ReadyToSign(ctx context.Context, roundId, aliceId string) error {
	args := m.Called(ctx, roundId, aliceId)
	return args.Error(0)
}

func (m *mockedCoordinator) SignTransaction(
	ctx context.Context, roundId string, inputIndex int, witness []byte,
) error {
	args := m.Called(ctx, roundId, inputIndex, witness)
	return args.Error(0)
}

func (m *mockedCoordinator) UnregisterInput(ctx context.Context, roundId, aliceId string) error {
	args := m.Called(ctx, roundId, aliceId)
	return args.Error(0)
}

// fakeCredentials issues credentials worth exactly what was requested. The
// validation data of a request is the list of requested values.
type fakeCredentials struct {
	lock     *sync.Mutex
	counter  int
	requests [][]uint64
	err      error
}

func newFakeCredentials() *fakeCredentials {
	return &fakeCredentials{lock: &sync.Mutex{}}
}

func (f *fakeCredentials) CreateZeroRequest(
	_ context.Context, _ domain.IssuerParameters,
) (*domain.CredentialRequest, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.CredentialRequest{
		Data:       json.RawMessage(`{"zero":true}`),
		Validation: json.RawMessage(`[0,0]`),
	}, nil
}

func (f *fakeCredentials) CreateRequest(
	_ context.Context, amounts []uint64, _ domain.IssuerParameters,
	_ uint64, present domain.Credentials,
) (*domain.CredentialRequest, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.lock.Lock()
	f.requests = append(f.requests, append([]uint64{}, amounts...))
	f.lock.Unlock()

	requested := append([]uint64{}, amounts...)
	for len(requested) < 2 {
		requested = append(requested, 0)
	}
	validation, _ := json.Marshal(requested)
	data, _ := json.Marshal(map[string]interface{}{
		"amounts":   amounts,
		"presented": present.Sum(),
	})
	return &domain.CredentialRequest{
		Data:       data,
		Validation: validation,
		Amounts:    amounts,
		Presented:  present,
	}, nil
}

func (f *fakeCredentials) HandleResponse(
	_ context.Context, _ domain.IssuerParameters,
	_ domain.CredentialResponse, validation json.RawMessage,
) (domain.Credentials, error) {
	if f.err != nil {
		return nil, f.err
	}
	values := make([]uint64, 0)
	if err := json.Unmarshal(validation, &values); err != nil {
		return nil, err
	}

	f.lock.Lock()
	defer f.lock.Unlock()
	creds := make(domain.Credentials, 0, len(values))
	for _, v := range values {
		f.counter++
		creds = append(creds, domain.Credential{
			Value: v,
			Data:  json.RawMessage(fmt.Sprintf(`{"value":%d,"serial":%d}`, v, f.counter)),
		})
	}
	return creds, nil
}

func (f *fakeCredentials) requested() [][]uint64 {
	f.lock.Lock()
	defer f.lock.Unlock()
	return append([][]uint64{}, f.requests...)
}

type mockedWallet struct {
	mock.Mock
	lock      *sync.Mutex
	nextIndex uint32
	addresses []ports.ChangeAddress
}

func newMockedWallet() *mockedWallet {
	return &mockedWallet{lock: &sync.Mutex{}}
}

func (m *mockedWallet) ScriptType() domain.ScriptType {
	return domain.ScriptTypeP2WPKH
}

// NextChangeAddress hands out distinct p2wpkh addresses.
func (m *mockedWallet) NextChangeAddress(
	_ context.Context, roundId string,
) (*ports.ChangeAddress, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	index := m.nextIndex
	m.nextIndex++

	hash := make([]byte, 20)
	hash[0], hash[19] = 0xcc, byte(index)
	hash[18] = byte(index >> 8)
	addr, err := btcutil.NewAddressWitnessPubKeyHash(hash, &chaincfg.RegressionNetParams)
	if err != nil {
		return nil, err
	}
	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, err
	}
	changeAddr := ports.ChangeAddress{
		Address:  addr.EncodeAddress(),
		Path:     fmt.Sprintf("m/84'/1'/0'/1/%d", index),
		PkScript: pkScript,
	}
	m.addresses = append(m.addresses, changeAddr)
	return &changeAddr, nil
}

func (m *mockedWallet) OwnershipProof(
	ctx context.Context, utxo domain.Utxo, commitmentData []byte,
) ([]byte, error) {
	args := m.Called(ctx, utxo, commitmentData)

	var res []byte
	if a := args.Get(0); a != nil {
		res = a.([]byte)
	}
	return res, args.Error(1)
}

// Sign returns a dummy witness for every input of this wallet unless the
// expectation sets a result.
func (m *mockedWallet) Sign(ctx context.Context, tx ports.CoinjoinTx) ([]ports.InputWitness, error) {
	args := m.Called(ctx, tx)
	if err := args.Error(1); err != nil {
		return nil, err
	}
	if a := args.Get(0); a != nil {
		return a.([]ports.InputWitness), nil
	}

	witnesses := make([]ports.InputWitness, 0)
	for _, i := range tx.MyInputs() {
		witnesses = append(witnesses, ports.InputWitness{
			InputIndex: i,
			Witness:    []byte{0x02, byte(i)},
		})
	}
	return witnesses, nil
}

func (m *mockedWallet) Close() {}

type mockedScheduler struct {
	mock.Mock
}

func (m *mockedScheduler) Start() {
	m.Called()
}

func (m *mockedScheduler) Stop() {
	m.Called()
}

func (m *mockedScheduler) ScheduleTask(interval int64, immediate bool, task func()) error {
	args := m.Called(interval, immediate, task)
	return args.Error(0)
}
