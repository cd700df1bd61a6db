package application

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ark-network/coinjoin/internal/core/domain"
	"github.com/ark-network/coinjoin/internal/core/ports"
	txbuilder "github.com/ark-network/coinjoin/internal/infrastructure/tx-builder"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const coordinatorIdentifier = "CoinJoinCoordinatorIdentifier"

var (
	roundId      = strings.Repeat("ab", 32)
	otherRoundId = strings.Repeat("cd", 32)
	confirmation = &domain.ConfirmationData{
		ZeroAmount: domain.CredentialResponse(`{"issued":"za"}`),
		ZeroVsize:  domain.CredentialResponse(`{"issued":"zv"}`),
		RealAmount: domain.CredentialResponse(`{"issued":"ra"}`),
		RealVsize:  domain.CredentialResponse(`{"issued":"rv"}`),
	}
)

type testEnv struct {
	svc         *service
	coordinator *mockedCoordinator
	credentials *fakeCredentials
	wallet      *mockedWallet
}

func newTestEnv(t *testing.T) *testEnv {
	coordinator := &mockedCoordinator{}
	credentials := newFakeCredentials()
	wallet := newMockedWallet()
	wallet.On("OwnershipProof", mock.Anything, mock.Anything, mock.Anything).
		Return([]byte("proof"), nil)

	svc, err := NewService(
		5, 30*time.Second, coordinatorIdentifier, coordinator, credentials, wallet,
		nil, txbuilder.NewTxBuilder(&chaincfg.RegressionNetParams), nil, nil,
	)
	require.NoError(t, err)
	return &testEnv{svc.(*service), coordinator, credentials, wallet}
}

func testRound(id string, phase domain.Phase) domain.Round {
	return domain.Round{
		Id:                    id,
		Phase:                 phase,
		InputRegistrationEnd:  time.Now().Add(time.Minute),
		CoordinatorIdentifier: coordinatorIdentifier,
		MiningFeeRate:         1000,
		CoordinationFee: domain.CoordinationFeeRate{
			Rate: 300000, PlebsDontPayThreshold: 1000000,
		},
		AllowedInputAmounts:  domain.AmountRange{Min: 5000, Max: 4300000000000},
		AllowedOutputAmounts: domain.AmountRange{Min: 5000, Max: 4300000000000},
		AllowedInputTypes: []domain.ScriptType{
			domain.ScriptTypeP2WPKH, domain.ScriptTypeTaproot,
		},
		AllowedOutputTypes: []domain.ScriptType{
			domain.ScriptTypeP2WPKH, domain.ScriptTypeTaproot,
		},
		MaxVsizeAllocationPerAlice: 255,
		MaxAmountCredentialValue:   4300000000000,
		MaxVsizeCredentialValue:    255,
		AmountIssuer:               domain.IssuerParameters{Cw: "02aa", I: "02bb"},
		VsizeIssuer:                domain.IssuerParameters{Cw: "03cc", I: "03dd"},
	}
}

func p2wpkhScript(seed byte) []byte {
	return append([]byte{0x00, 0x14}, bytes.Repeat([]byte{seed}, 20)...)
}

func testUtxo(seed byte, amount uint64) domain.Utxo {
	return domain.Utxo{
		Outpoint: domain.Outpoint{
			Txid: hex.EncodeToString(bytes.Repeat([]byte{seed}, 32)),
			VOut: uint32(seed),
		},
		Amount:     amount,
		PkScript:   p2wpkhScript(seed),
		ScriptType: domain.ScriptTypeP2WPKH,
		Path:       fmt.Sprintf("m/84'/1'/0'/0/%d", seed),
	}
}

func withInputs(round domain.Round, utxos ...domain.Utxo) domain.Round {
	for _, u := range utxos {
		round.Inputs = append(round.Inputs, domain.RegisteredInput{
			Outpoint: u.Outpoint, Amount: u.Amount, PkScript: u.PkScript,
		})
	}
	return round
}

func withOutputs(round domain.Round, outputs ...domain.RegisteredOutput) domain.Round {
	round.Outputs = append(round.Outputs, outputs...)
	return round
}

func expectRegistration(env *testEnv, utxo domain.Utxo, aliceId string) *mock.Call {
	return env.coordinator.On("RegisterInput", mock.Anything, mock.MatchedBy(
		func(req ports.InputRegistrationRequest) bool {
			return req.Outpoint == utxo.Outpoint
		},
	)).Return(&ports.InputRegistrationResponse{
		AliceId:           aliceId,
		AmountCredentials: domain.CredentialResponse(`{"issued":"a"}`),
		VsizeCredentials:  domain.CredentialResponse(`{"issued":"v"}`),
	}, nil).Once()
}

func (env *testEnv) register(t *testing.T, utxo domain.Utxo, aliceId string) *domain.Alice {
	expectRegistration(env, utxo, aliceId)
	alice, err := env.svc.RegisterInput(context.Background(), utxo)
	require.NoError(t, err)
	return alice
}

func (env *testEnv) apply(t *testing.T, rounds ...domain.Round) error {
	if rounds == nil {
		rounds = []domain.Round{}
	}
	return env.svc.ApplyStatus(context.Background(), rounds)
}

func (env *testEnv) alice(t *testing.T, utxo domain.Utxo) domain.Alice {
	alice, ok := env.svc.registry.aliceByOutpoint(utxo.Outpoint)
	require.True(t, ok, "alice of %s not found", utxo.Outpoint)
	return alice
}

func (env *testEnv) events() []domain.ParticipationEvent {
	events := make([]domain.ParticipationEvent, 0)
	for {
		select {
		case e := <-env.svc.eventsCh:
			events = append(events, e)
		default:
			return events
		}
	}
}

// toSigning brings the given utxos' Alices to TransactionSigning and returns
// the round as published in that phase with their inputs and outputs plus a
// foreign pair.
func (env *testEnv) toSigning(t *testing.T, utxos ...domain.Utxo) domain.Round {
	foreign := testUtxo(0xf0, 200000)

	require.NoError(t, env.apply(t, testRound(roundId, domain.InputRegistration)))
	for i, u := range utxos {
		env.register(t, u, fmt.Sprintf("alice-%d", i))
	}

	env.coordinator.On("ConfirmConnection", mock.Anything, mock.Anything).
		Return(confirmation, nil)
	require.NoError(t, env.apply(t, testRound(roundId, domain.ConnectionConfirmation)))

	env.coordinator.On("IssueCredentials", mock.Anything, mock.Anything).
		Return(&ports.CredentialIssuanceResponse{}, nil)
	env.coordinator.On("RegisterOutput", mock.Anything, mock.Anything).Return(nil)
	env.coordinator.On("ReadyToSign", mock.Anything, roundId, mock.Anything).Return(nil)
	round := withInputs(testRound(roundId, domain.OutputRegistration), append(utxos, foreign)...)
	require.NoError(t, env.apply(t, round))

	round.Phase = domain.TransactionSigning
	round = withOutputs(round, domain.RegisteredOutput{
		Amount: 199000, PkScript: p2wpkhScript(0xf1),
	})
	for _, u := range utxos {
		alice := env.alice(t, u)
		require.Equal(t, domain.TransactionSigning, alice.PendingPhase)
		round = withOutputs(round, alice.ExpectedOutputs()...)
	}
	return round
}

func TestNewService(t *testing.T) {
	coordinator := &mockedCoordinator{}
	credentials := newFakeCredentials()
	wallet := newMockedWallet()
	builder := txbuilder.NewTxBuilder(&chaincfg.RegressionNetParams)

	t.Run("valid", func(t *testing.T) {
		svc, err := NewService(
			5, time.Second, "", coordinator, credentials, wallet, nil, builder, nil, nil,
		)
		require.NoError(t, err)
		require.NotNil(t, svc)
		require.True(t, svc.IsEnabled())
	})

	t.Run("invalid", func(t *testing.T) {
		fixtures := []struct {
			interval    int64
			coordinator ports.CoordinatorClient
			credentials ports.CredentialProvider
			wallet      ports.WalletService
			builder     ports.TxBuilder
		}{
			{5, nil, credentials, wallet, builder},
			{5, coordinator, nil, wallet, builder},
			{5, coordinator, credentials, nil, builder},
			{5, coordinator, credentials, wallet, nil},
			{0, coordinator, credentials, wallet, builder},
		}
		for _, f := range fixtures {
			svc, err := NewService(
				f.interval, time.Second, "", f.coordinator, f.credentials, f.wallet,
				nil, f.builder, nil, nil,
			)
			require.Error(t, err)
			require.Nil(t, svc)
		}
	})
}

func TestStartStop(t *testing.T) {
	env := newTestEnv(t)
	scheduler := &mockedScheduler{}
	scheduler.On("ScheduleTask", int64(5), true, mock.Anything).Return(nil)
	scheduler.On("Start").Return()
	scheduler.On("Stop").Return()
	env.svc.scheduler = scheduler

	require.NoError(t, env.svc.Start())
	env.svc.Stop()
	scheduler.AssertExpectations(t)

	env.svc.scheduler = nil
	require.Error(t, env.svc.Start())
}

func TestRegisterInput(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		env := newTestEnv(t)
		utxo := testUtxo(0x01, 100000)
		require.NoError(t, env.apply(t, testRound(roundId, domain.InputRegistration)))

		alice := env.register(t, utxo, "alice")
		require.Equal(t, domain.ConnectionConfirmation, alice.PendingPhase)
		require.Equal(t, "alice", alice.AliceId)
		require.Equal(t, uint64(68), alice.InputVsize)
		require.Equal(t, uint64(31), alice.OutputVsize)
		require.Equal(t, uint64(68), alice.InputFee)
		require.Zero(t, alice.CoordinationFee)
		require.Equal(t, []byte("proof"), alice.OwnershipProof)

		// 1 sat/vB on a 68 vB input, no coordination fee below the threshold.
		net := uint64(100000 - 68)
		require.Equal(t, net, alice.NetAmount())
		require.Equal(t, []uint64{net}, alice.Credentials.RealAmount.Request.Amounts)
		require.Equal(t, []uint64{255 - 68}, alice.Credentials.RealVsize.Request.Amounts)
		require.Contains(t, env.credentials.requested(), []uint64{net})

		var commitment bytes.Buffer
		require.NoError(t, wire.WriteVarString(&commitment, 0, coordinatorIdentifier))
		rawRoundId, _ := hex.DecodeString(roundId)
		commitment.Write(rawRoundId)
		env.wallet.AssertCalled(t, "OwnershipProof", mock.Anything, utxo, commitment.Bytes())

		env.coordinator.AssertCalled(t, "RegisterInput", mock.Anything, mock.MatchedBy(
			func(req ports.InputRegistrationRequest) bool {
				return req.RoundId == roundId && string(req.OwnershipProof) == "proof" &&
					len(req.ZeroAmountCredentialRequest) > 0 &&
					len(req.ZeroVsizeCredentialRequest) > 0
			},
		))

		alices := env.svc.GetAlices(context.Background())
		require.Len(t, alices, 1)
		events := env.events()
		require.Len(t, events, 1)
		registered, ok := events[0].(domain.AliceRegistered)
		require.True(t, ok)
		require.Equal(t, utxo.Outpoint, registered.Outpoint)
	})

	t.Run("coordination fee above threshold", func(t *testing.T) {
		env := newTestEnv(t)
		utxo := testUtxo(0x01, 2000000)
		require.NoError(t, env.apply(t, testRound(roundId, domain.InputRegistration)))

		alice := env.register(t, utxo, "alice")
		// 0.3% of 2000000.
		require.Equal(t, uint64(6000), alice.CoordinationFee)
		require.Equal(t, uint64(2000000-6000-68), alice.NetAmount())
	})

	t.Run("selects round with most time left", func(t *testing.T) {
		env := newTestEnv(t)
		utxo := testUtxo(0x01, 100000)

		soon := testRound(otherRoundId, domain.InputRegistration)
		soon.InputRegistrationEnd = time.Now().Add(2 * time.Minute)
		later := testRound(roundId, domain.InputRegistration)
		later.InputRegistrationEnd = time.Now().Add(5 * time.Minute)
		tooLate := testRound(strings.Repeat("ef", 32), domain.InputRegistration)
		tooLate.InputRegistrationEnd = time.Now().Add(10 * time.Second)
		closed := testRound(strings.Repeat("01", 32), domain.ConnectionConfirmation)
		closed.InputRegistrationEnd = time.Now().Add(time.Hour)
		require.NoError(t, env.apply(t, soon, later, tooLate, closed))

		alice := env.register(t, utxo, "alice")
		require.Equal(t, roundId, alice.Round.Id)
	})

	t.Run("amount too small", func(t *testing.T) {
		env := newTestEnv(t)
		round := testRound(roundId, domain.InputRegistration)
		round.AllowedOutputAmounts.Min = 10000
		require.NoError(t, env.apply(t, round))

		alice, err := env.svc.RegisterInput(context.Background(), testUtxo(0x01, 6000))
		require.ErrorIs(t, err, domain.ErrAmountTooSmall)
		require.Nil(t, alice)
		env.coordinator.AssertNotCalled(t, "RegisterInput", mock.Anything, mock.Anything)
		require.Empty(t, env.svc.GetAlices(context.Background()))
	})

	t.Run("invalid", func(t *testing.T) {
		env := newTestEnv(t)
		ctx := context.Background()

		_, err := env.svc.RegisterInput(ctx, testUtxo(0x01, 100000))
		require.ErrorIs(t, err, domain.ErrNoSuitableRound)

		require.NoError(t, env.apply(t, testRound(roundId, domain.InputRegistration)))
		_, err = env.svc.RegisterInput(ctx, testUtxo(0x01, 1000))
		require.ErrorIs(t, err, domain.ErrInputNotAllowed)

		utxo := testUtxo(0x02, 100000)
		env.coordinator.On("RegisterInput", mock.Anything, mock.Anything).
			Return(nil, &ports.CoordinatorError{Code: "WrongPhase"}).Once()
		_, err = env.svc.RegisterInput(ctx, utxo)
		require.ErrorIs(t, err, domain.ErrCoordinatorRejected)
		require.Empty(t, env.svc.GetAlices(ctx))

		require.NoError(t, env.svc.Disable(ctx))
		_, err = env.svc.RegisterInput(ctx, utxo)
		require.ErrorIs(t, err, domain.ErrParticipationOff)
	})

	t.Run("registering again replaces the alice", func(t *testing.T) {
		env := newTestEnv(t)
		utxo := testUtxo(0x01, 100000)
		require.NoError(t, env.apply(t, testRound(roundId, domain.InputRegistration)))
		env.register(t, utxo, "first")

		env.coordinator.On("UnregisterInput", mock.Anything, roundId, "first").Return(nil).Once()
		alice := env.register(t, utxo, "second")
		require.Equal(t, "second", alice.AliceId)

		env.coordinator.AssertCalled(t, "UnregisterInput", mock.Anything, roundId, "first")
		alices := env.svc.GetAlices(context.Background())
		require.Len(t, alices, 1)
		require.Equal(t, "second", alices[0].AliceId)
	})
}

func TestConnectionConfirmation(t *testing.T) {
	env := newTestEnv(t)
	utxo := testUtxo(0x01, 100000)
	require.NoError(t, env.apply(t, testRound(roundId, domain.InputRegistration)))
	registered := env.register(t, utxo, "alice")

	env.coordinator.On("ConfirmConnection", mock.Anything, mock.MatchedBy(
		func(req ports.ConnectionConfirmationRequest) bool {
			return req.RoundId == roundId && req.AliceId == "alice" &&
				bytes.Equal(req.RealAmountCredentialRequest, registered.Credentials.RealAmount.Request.Data) &&
				bytes.Equal(req.RealVsizeCredentialRequest, registered.Credentials.RealVsize.Request.Data)
		},
	)).Return(confirmation, nil).Once()

	// Nothing to do while the round stays in input registration.
	require.NoError(t, env.apply(t, testRound(roundId, domain.InputRegistration)))
	env.coordinator.AssertNotCalled(t, "ConfirmConnection", mock.Anything, mock.Anything)

	require.NoError(t, env.apply(t, testRound(roundId, domain.ConnectionConfirmation)))
	alice := env.alice(t, utxo)
	require.Equal(t, domain.OutputRegistration, alice.PendingPhase)
	require.Equal(t, confirmation, alice.Confirmation)

	// Applying the same status again must not confirm twice.
	require.NoError(t, env.apply(t, testRound(roundId, domain.ConnectionConfirmation)))
	env.coordinator.AssertNumberOfCalls(t, "ConfirmConnection", 1)
}

func TestOutputRegistrationAndSigning(t *testing.T) {
	env := newTestEnv(t)
	utxos := []domain.Utxo{testUtxo(0x01, 100000), testUtxo(0x02, 150000)}
	round := env.toSigning(t, utxos...)

	totalOutputs := 0
	for _, u := range utxos {
		alice := env.alice(t, u)
		require.NotEmpty(t, alice.Outputs)
		totalOutputs += len(alice.Outputs)

		tot := uint64(0)
		for _, out := range alice.Outputs {
			require.Equal(t, uint64(31), out.Fee)
			require.GreaterOrEqual(t, out.Amount, uint64(5000))
			tot += out.Amount + out.Fee
		}
		require.Equal(t, alice.NetAmount(), tot)
	}
	env.coordinator.AssertNumberOfCalls(t, "RegisterOutput", totalOutputs)
	env.coordinator.AssertNumberOfCalls(t, "IssueCredentials", totalOutputs)
	env.coordinator.AssertNumberOfCalls(t, "ReadyToSign", len(utxos))

	env.wallet.On("Sign", mock.Anything, mock.Anything).Return(nil, nil).Once()
	env.coordinator.On("SignTransaction", mock.Anything, roundId, mock.Anything, mock.Anything).
		Return(nil)
	require.NoError(t, env.apply(t, round))

	env.wallet.AssertNumberOfCalls(t, "Sign", 1)
	signCall := env.wallet.Calls[len(env.wallet.Calls)-1]
	tx := signCall.Arguments.Get(1).(ports.CoinjoinTx)
	require.Len(t, tx.Inputs, len(utxos)+1)
	require.Len(t, tx.MyInputs(), len(utxos))
	myOutputs := 0
	for _, out := range tx.Outputs {
		if out.Mine {
			myOutputs++
			require.NotEmpty(t, out.Path)
		}
	}
	require.Equal(t, totalOutputs, myOutputs)
	env.coordinator.AssertNumberOfCalls(t, "SignTransaction", len(utxos))

	for _, u := range utxos {
		require.Equal(t, domain.Ended, env.alice(t, u).PendingPhase)
	}

	env.events()
	round.Phase = domain.Ended
	require.NoError(t, env.apply(t, round))
	require.Empty(t, env.svc.GetAlices(context.Background()))

	completed := 0
	for _, e := range env.events() {
		if _, ok := e.(domain.AliceCompleted); ok {
			completed++
		}
	}
	require.Equal(t, len(utxos), completed)
	env.coordinator.AssertNotCalled(t, "UnregisterInput", mock.Anything, mock.Anything, mock.Anything)
}

func TestOutputsNotYetRegistered(t *testing.T) {
	env := newTestEnv(t)
	utxo := testUtxo(0x01, 100000)
	round := env.toSigning(t, utxo)

	partial := round
	partial.Outputs = round.Outputs[:1]
	require.NoError(t, env.apply(t, partial))
	env.wallet.AssertNotCalled(t, "Sign", mock.Anything, mock.Anything)
	require.Equal(t, domain.TransactionSigning, env.alice(t, utxo).PendingPhase)

	env.wallet.On("Sign", mock.Anything, mock.Anything).Return(nil, nil).Once()
	env.coordinator.On("SignTransaction", mock.Anything, roundId, mock.Anything, mock.Anything).
		Return(nil)
	require.NoError(t, env.apply(t, round))
	require.Equal(t, domain.Ended, env.alice(t, utxo).PendingPhase)
}

func TestSigningAborted(t *testing.T) {
	env := newTestEnv(t)
	utxo := testUtxo(0x01, 100000)
	round := env.toSigning(t, utxo)
	env.events()

	env.wallet.On("Sign", mock.Anything, mock.Anything).
		Return(nil, fmt.Errorf("user cancelled")).Once()
	err := env.apply(t, round)
	require.ErrorIs(t, err, domain.ErrSigningAborted)

	require.Empty(t, env.svc.GetAlices(context.Background()))
	env.coordinator.AssertNotCalled(t, "SignTransaction", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	env.coordinator.AssertNotCalled(t, "UnregisterInput", mock.Anything, mock.Anything, mock.Anything)

	events := env.events()
	require.Len(t, events, 1)
	dropped, ok := events[0].(domain.AliceDropped)
	require.True(t, ok)
	require.True(t, dropped.Committed)
	require.Equal(t, domain.TransactionSigning, dropped.Phase)
}

func TestRoundVanished(t *testing.T) {
	env := newTestEnv(t)
	utxo := testUtxo(0x01, 100000)
	require.NoError(t, env.apply(t, testRound(roundId, domain.InputRegistration)))
	env.register(t, utxo, "alice")

	env.coordinator.On("ConfirmConnection", mock.Anything, mock.Anything).Return(confirmation, nil)
	require.NoError(t, env.apply(t, testRound(roundId, domain.ConnectionConfirmation)))
	require.Equal(t, domain.OutputRegistration, env.alice(t, utxo).PendingPhase)
	env.events()

	require.NoError(t, env.apply(t, testRound(otherRoundId, domain.InputRegistration)))
	require.Empty(t, env.svc.GetAlices(context.Background()))
	env.coordinator.AssertNotCalled(t, "IssueCredentials", mock.Anything, mock.Anything)
	env.coordinator.AssertNotCalled(t, "RegisterOutput", mock.Anything, mock.Anything)
	env.coordinator.AssertNotCalled(t, "UnregisterInput", mock.Anything, mock.Anything, mock.Anything)

	events := env.events()
	require.Len(t, events, 1)
	dropped, ok := events[0].(domain.AliceDropped)
	require.True(t, ok)
	require.Contains(t, dropped.Reason, domain.ErrRoundVanished.Error())
	require.False(t, dropped.Committed)
}

func TestPhaseDesync(t *testing.T) {
	t.Run("one phase behind", func(t *testing.T) {
		env := newTestEnv(t)
		utxo := testUtxo(0x01, 100000)
		require.NoError(t, env.apply(t, testRound(roundId, domain.InputRegistration)))
		env.register(t, utxo, "alice")

		env.coordinator.On("ConfirmConnection", mock.Anything, mock.Anything).Return(confirmation, nil)
		err := env.apply(t, testRound(roundId, domain.OutputRegistration))
		require.ErrorIs(t, err, domain.ErrPhaseDesync)

		env.coordinator.AssertNumberOfCalls(t, "ConfirmConnection", 1)
		require.Equal(t, domain.OutputRegistration, env.alice(t, utxo).PendingPhase)
	})

	t.Run("two phases behind", func(t *testing.T) {
		env := newTestEnv(t)
		utxo := testUtxo(0x01, 100000)
		require.NoError(t, env.apply(t, testRound(roundId, domain.InputRegistration)))
		env.register(t, utxo, "alice")

		env.coordinator.On("UnregisterInput", mock.Anything, roundId, "alice").Return(nil).Once()
		err := env.apply(t, testRound(roundId, domain.TransactionSigning))
		require.ErrorIs(t, err, domain.ErrAliceLost)

		require.Empty(t, env.svc.GetAlices(context.Background()))
		env.coordinator.AssertNotCalled(t, "ConfirmConnection", mock.Anything, mock.Anything)
		env.coordinator.AssertCalled(t, "UnregisterInput", mock.Anything, roundId, "alice")
	})
}

func TestCoordinatorRejection(t *testing.T) {
	env := newTestEnv(t)
	utxos := []domain.Utxo{testUtxo(0x01, 100000), testUtxo(0x02, 100000)}
	require.NoError(t, env.apply(t, testRound(roundId, domain.InputRegistration)))
	env.register(t, utxos[0], "rejected")
	env.register(t, utxos[1], "accepted")

	env.coordinator.On("ConfirmConnection", mock.Anything, mock.MatchedBy(
		func(req ports.ConnectionConfirmationRequest) bool { return req.AliceId == "rejected" },
	)).Return(nil, &ports.CoordinatorError{Code: "AliceNotFound"})
	env.coordinator.On("ConfirmConnection", mock.Anything, mock.MatchedBy(
		func(req ports.ConnectionConfirmationRequest) bool { return req.AliceId == "accepted" },
	)).Return(confirmation, nil)
	env.coordinator.On("UnregisterInput", mock.Anything, roundId, "rejected").Return(nil).Once()

	err := env.apply(t, testRound(roundId, domain.ConnectionConfirmation))
	require.ErrorIs(t, err, domain.ErrCoordinatorRejected)

	alices := env.svc.GetAlices(context.Background())
	require.Len(t, alices, 1)
	require.Equal(t, "accepted", alices[0].AliceId)
	require.Equal(t, domain.OutputRegistration, alices[0].PendingPhase)
	env.coordinator.AssertCalled(t, "UnregisterInput", mock.Anything, roundId, "rejected")
}

func TestRoundEndedBeforeCompletion(t *testing.T) {
	env := newTestEnv(t)
	utxo := testUtxo(0x01, 100000)
	require.NoError(t, env.apply(t, testRound(roundId, domain.InputRegistration)))
	env.register(t, utxo, "alice")

	require.NoError(t, env.apply(t, testRound(roundId, domain.Ended)))
	require.Empty(t, env.svc.GetAlices(context.Background()))
	env.coordinator.AssertNotCalled(t, "UnregisterInput", mock.Anything, mock.Anything, mock.Anything)
}

func TestInFlightAlice(t *testing.T) {
	env := newTestEnv(t)
	utxo := testUtxo(0x01, 100000)
	require.NoError(t, env.apply(t, testRound(roundId, domain.InputRegistration)))
	env.register(t, utxo, "alice")

	started, release := make(chan struct{}), make(chan struct{})
	once := &sync.Once{}
	env.coordinator.On("ConfirmConnection", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			once.Do(func() { close(started) })
			<-release
		}).
		Return(confirmation, nil)

	round := testRound(roundId, domain.ConnectionConfirmation)
	done := make(chan error)
	go func() {
		done <- env.apply(t, round)
	}()

	<-started
	// A newer poll while the confirmation is outstanding is a no-op.
	require.NoError(t, env.apply(t, round))
	close(release)
	require.NoError(t, <-done)

	env.coordinator.AssertNumberOfCalls(t, "ConfirmConnection", 1)
	alice := env.alice(t, utxo)
	require.Equal(t, domain.OutputRegistration, alice.PendingPhase)
	require.False(t, env.svc.registry.isInFlight(alice.Key()))
}

func TestRoundVanishedAbortsCalls(t *testing.T) {
	env := newTestEnv(t)
	utxo := testUtxo(0x01, 100000)
	require.NoError(t, env.apply(t, testRound(roundId, domain.InputRegistration)))
	env.register(t, utxo, "alice")

	started := make(chan struct{})
	aborted := make(chan error, 1)
	env.coordinator.On("ConfirmConnection", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			ctx := args.Get(0).(context.Context)
			close(started)
			<-ctx.Done()
			aborted <- ctx.Err()
		}).
		Return(nil, context.Canceled).Once()

	done := make(chan error)
	go func() {
		done <- env.apply(t, testRound(roundId, domain.ConnectionConfirmation))
	}()

	<-started
	require.NoError(t, env.apply(t))
	require.ErrorIs(t, <-aborted, context.Canceled)
	require.Error(t, <-done)

	require.Empty(t, env.svc.GetAlices(context.Background()))
	require.Empty(t, env.svc.roundCtxs)
	env.coordinator.AssertNumberOfCalls(t, "ConfirmConnection", 1)
	env.coordinator.AssertNotCalled(t, "UnregisterInput", mock.Anything, mock.Anything, mock.Anything)
}

func TestLastOutputTakesRemainingVsize(t *testing.T) {
	env := newTestEnv(t)
	utxo := testUtxo(0x01, 100000)
	env.toSigning(t, utxo)
	alice := env.alice(t, utxo)

	presented := make([]uint64, 0)
	for _, call := range env.coordinator.Calls {
		if call.Method != "RegisterOutput" {
			continue
		}
		req := call.Arguments.Get(1).(ports.OutputRegistrationRequest)
		var data struct {
			Presented uint64 `json:"presented"`
		}
		require.NoError(t, json.Unmarshal(req.VsizeCredentialRequest, &data))
		presented = append(presented, data.Presented)
	}
	require.Len(t, presented, len(alice.Outputs))

	tot := uint64(0)
	for i, vsize := range presented {
		tot += vsize
		if i < len(presented)-1 {
			require.Equal(t, alice.OutputVsize, vsize)
			continue
		}
		require.GreaterOrEqual(t, vsize, alice.OutputVsize)
	}
	require.Equal(t, alice.VsizeBudget(), tot)
}

func TestDisableDuringRegistration(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	utxo := testUtxo(0x01, 100000)
	require.NoError(t, env.apply(t, testRound(roundId, domain.InputRegistration)))

	started, release := make(chan struct{}), make(chan struct{})
	expectRegistration(env, utxo, "alice").Run(func(mock.Arguments) {
		close(started)
		<-release
	})
	env.coordinator.On("UnregisterInput", mock.Anything, roundId, "alice").Return(nil).Once()

	done := make(chan error)
	go func() {
		_, err := env.svc.RegisterInput(ctx, utxo)
		done <- err
	}()

	<-started
	require.NoError(t, env.svc.Disable(ctx))
	close(release)

	require.ErrorIs(t, <-done, domain.ErrParticipationOff)
	require.Empty(t, env.svc.GetAlices(ctx))
	env.coordinator.AssertNumberOfCalls(t, "UnregisterInput", 1)
}

func TestDisableEnable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.apply(t, testRound(roundId, domain.InputRegistration)))
	env.register(t, testUtxo(0x01, 100000), "alice-1")
	env.register(t, testUtxo(0x02, 100000), "alice-2")

	env.coordinator.On("UnregisterInput", mock.Anything, roundId, mock.Anything).Return(nil)
	require.NoError(t, env.svc.Disable(ctx))
	require.False(t, env.svc.IsEnabled())
	require.Empty(t, env.svc.GetAlices(ctx))
	env.coordinator.AssertNumberOfCalls(t, "UnregisterInput", 2)

	// Unregistration failures do not keep alices around.
	env.svc.Enable()
	require.True(t, env.svc.IsEnabled())
	env.register(t, testUtxo(0x03, 100000), "alice-3")
	env.coordinator.ExpectedCalls = nil
	env.coordinator.On("UnregisterInput", mock.Anything, roundId, "alice-3").
		Return(errors.New("connection refused"))
	require.NoError(t, env.svc.Disable(ctx))
	require.Empty(t, env.svc.GetAlices(ctx))
}

func TestPoll(t *testing.T) {
	env := newTestEnv(t)
	rounds := []domain.Round{testRound(roundId, domain.InputRegistration)}
	env.coordinator.On("GetStatus", mock.Anything).Return(rounds, nil).Once()
	require.NoError(t, env.svc.Poll(context.Background()))
	require.Len(t, env.svc.GetRounds(context.Background()), 1)

	env.coordinator.On("GetStatus", mock.Anything).Return(nil, errors.New("timeout")).Once()
	require.Error(t, env.svc.Poll(context.Background()))
	// Rounds are kept on a failed poll.
	require.Len(t, env.svc.GetRounds(context.Background()), 1)
}

func TestStalePollDiscarded(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	stale := []domain.Round{testRound(roundId, domain.InputRegistration)}
	fresh := []domain.Round{testRound(otherRoundId, domain.InputRegistration)}

	started, release := make(chan struct{}), make(chan struct{})
	env.coordinator.On("GetStatus", mock.Anything).
		Run(func(mock.Arguments) {
			close(started)
			<-release
		}).
		Return(stale, nil).Once()
	env.coordinator.On("GetStatus", mock.Anything).Return(fresh, nil).Once()

	done := make(chan error)
	go func() {
		done <- env.svc.Poll(ctx)
	}()

	<-started
	require.NoError(t, env.svc.Poll(ctx))
	close(release)
	require.NoError(t, <-done)

	rounds := env.svc.GetRounds(ctx)
	require.Len(t, rounds, 1)
	require.Equal(t, otherRoundId, rounds[0].Id)
}

func TestCommitmentData(t *testing.T) {
	env := newTestEnv(t)

	round := testRound(roundId, domain.InputRegistration)
	data, err := env.svc.commitmentData(round)
	require.NoError(t, err)
	require.Equal(t, byte(len(coordinatorIdentifier)), data[0])
	require.Equal(t, coordinatorIdentifier, string(data[1:1+len(coordinatorIdentifier)]))
	require.Len(t, data, 1+len(coordinatorIdentifier)+32)

	round.CoordinatorIdentifier = ""
	round.Id = "not-hex"
	data, err = env.svc.commitmentData(round)
	require.NoError(t, err)
	require.True(t, bytes.HasSuffix(data, []byte("not-hex")))
	require.Equal(t, coordinatorIdentifier, string(data[1:1+len(coordinatorIdentifier)]))
}
