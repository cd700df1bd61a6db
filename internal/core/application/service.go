package application

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ark-network/coinjoin/internal/core/domain"
	"github.com/ark-network/coinjoin/internal/core/ports"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	maxConcurrentTasks    = 8
	pollTimeout           = 2 * time.Minute
	unregistrationTimeout = 30 * time.Second
	eventsBufferSize      = 128
)

type service struct {
	pollInterval          int64
	registrationMargin    time.Duration
	coordinatorIdentifier string

	coordinator ports.CoordinatorClient
	credentials ports.CredentialProvider
	wallet      ports.WalletService
	repoManager ports.RepoManager
	txBuilder   ports.TxBuilder
	scheduler   ports.SchedulerService
	planner     OutputPlanner

	registry  *roundRegistry
	applyLock *sync.Mutex
	enabled   *atomic.Bool
	eventsCh  chan domain.ParticipationEvent

	// pollSeq orders the fetched round lists, lastApplied and roundCtxs are
	// guarded by applyLock.
	pollSeq     *atomic.Uint64
	lastApplied uint64
	roundCtxs   map[string]roundContext
}

// roundContext is cancelled once its round is no longer published, aborting
// the coordinator calls still in progress for it.
type roundContext struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func NewService(
	pollInterval int64, registrationMargin time.Duration, coordinatorIdentifier string,
	coordinator ports.CoordinatorClient, credentials ports.CredentialProvider,
	wallet ports.WalletService, repoManager ports.RepoManager,
	txBuilder ports.TxBuilder, scheduler ports.SchedulerService, planner OutputPlanner,
) (Service, error) {
	if coordinator == nil {
		return nil, fmt.Errorf("missing coordinator client")
	}
	if credentials == nil {
		return nil, fmt.Errorf("missing credential provider")
	}
	if wallet == nil {
		return nil, fmt.Errorf("missing wallet")
	}
	if txBuilder == nil {
		return nil, fmt.Errorf("missing tx builder")
	}
	if pollInterval <= 0 {
		return nil, fmt.Errorf("invalid poll interval, must be positive")
	}
	if planner == nil {
		planner = NewSplitPlanner()
	}

	enabled := &atomic.Bool{}
	enabled.Store(true)

	return &service{
		pollInterval:          pollInterval,
		registrationMargin:    registrationMargin,
		coordinatorIdentifier: coordinatorIdentifier,
		coordinator:           coordinator,
		credentials:           credentials,
		wallet:                wallet,
		repoManager:           repoManager,
		txBuilder:             txBuilder,
		scheduler:             scheduler,
		planner:               planner,
		registry:              newRoundRegistry(),
		applyLock:             &sync.Mutex{},
		enabled:               enabled,
		eventsCh:              make(chan domain.ParticipationEvent, eventsBufferSize),
		pollSeq:               &atomic.Uint64{},
		roundCtxs:             make(map[string]roundContext),
	}, nil
}

func (s *service) Start() error {
	if s.scheduler == nil {
		return fmt.Errorf("missing scheduler")
	}
	log.Debugf("polling coordinator every %d seconds", s.pollInterval)
	if err := s.scheduler.ScheduleTask(s.pollInterval, true, s.pollTask); err != nil {
		return err
	}
	s.scheduler.Start()
	return nil
}

func (s *service) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
		log.Debug("stopped coordinator polling")
	}

	ctx, cancel := context.WithTimeout(context.Background(), unregistrationTimeout)
	defer cancel()
	s.unregisterAll(ctx)

	s.wallet.Close()
	log.Debug("closed wallet")
	if s.repoManager != nil {
		s.repoManager.Close()
		log.Debug("closed connection to db")
	}
}

func (s *service) RegisterInput(ctx context.Context, utxo domain.Utxo) (*domain.Alice, error) {
	if !s.enabled.Load() {
		return nil, domain.ErrParticipationOff
	}
	if utxo.ScriptType == domain.ScriptTypeUnknown {
		utxo.ScriptType = scriptTypeOf(utxo.PkScript)
	}
	if !s.registry.startRegistration(utxo.Outpoint) {
		return nil, fmt.Errorf("input %s is already being registered", utxo.Outpoint)
	}
	defer s.registry.endRegistration(utxo.Outpoint)

	if existing, ok := s.registry.aliceByOutpoint(utxo.Outpoint); ok {
		if err := s.replace(existing); err != nil {
			return nil, err
		}
	}

	round, err := s.selectRound(utxo)
	if err != nil {
		return nil, err
	}

	alice, err := s.registerInput(ctx, round, utxo)
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"round":    round.Id,
			"outpoint": utxo.Outpoint,
		}).Warn("failed to register input")
		return nil, err
	}

	changes := alice.PopChanges()
	if err := s.registry.push(alice); err != nil {
		s.unregister(round.Id, alice.AliceId)
		return nil, err
	}
	// Participation may have been disabled while the coordinator was
	// processing the registration.
	if !s.enabled.Load() {
		if _, ok := s.registry.remove(alice.Key()); ok {
			s.unregister(round.Id, alice.AliceId)
		}
		return nil, domain.ErrParticipationOff
	}
	s.propagateEvents(changes)

	log.WithFields(log.Fields{
		"round":    round.Id,
		"outpoint": utxo.Outpoint,
		"alice":    alice.AliceId,
	}).Info("registered input")

	registered := *alice
	return &registered, nil
}

func (s *service) Poll(ctx context.Context) error {
	seq := s.pollSeq.Add(1)
	rounds, err := s.coordinator.GetStatus(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch round status: %w", err)
	}
	return s.applyStatus(ctx, seq, rounds)
}

// ApplyStatus updates the registry with the given round list and advances
// every Alice whose pending phase has been reached. Polls are applied in
// order, while the resulting coordinator calls of different Alices run
// concurrently.
func (s *service) ApplyStatus(ctx context.Context, rounds []domain.Round) error {
	return s.applyStatus(ctx, s.pollSeq.Add(1), rounds)
}

// applyStatus discards a round list fetched before the last applied one.
func (s *service) applyStatus(ctx context.Context, seq uint64, rounds []domain.Round) error {
	s.applyLock.Lock()
	if seq < s.lastApplied {
		s.applyLock.Unlock()
		log.Debugf("discarding stale round status #%d, already applied #%d", seq, s.lastApplied)
		return nil
	}
	s.lastApplied = seq
	tasks, errs := s.apply(rounds)
	s.applyLock.Unlock()

	errLock := &sync.Mutex{}
	eg := &errgroup.Group{}
	eg.SetLimit(maxConcurrentTasks)
	for _, t := range tasks {
		t := t
		eg.Go(func() error {
			taskCtx, cancel := context.WithCancel(ctx)
			stop := context.AfterFunc(t.roundCtx, cancel)
			results := t.run(taskCtx, t.round, t.alices)
			stop()
			cancel()

			taskErrs := s.commit(t.round, results)

			errLock.Lock()
			errs = append(errs, taskErrs...)
			errLock.Unlock()
			return nil
		})
	}
	// nolint
	eg.Wait()

	return errors.Join(errs...)
}

func (s *service) Disable(ctx context.Context) error {
	s.enabled.Store(false)
	log.Info("coinjoin participation disabled")
	s.unregisterAll(ctx)
	return nil
}

func (s *service) Enable() {
	s.enabled.Store(true)
	log.Info("coinjoin participation enabled")
}

func (s *service) IsEnabled() bool {
	return s.enabled.Load()
}

func (s *service) GetRounds(_ context.Context) []domain.Round {
	return s.registry.listRounds()
}

func (s *service) GetAlices(_ context.Context) []domain.Alice {
	return s.registry.listAlices()
}

func (s *service) GetReservedAddresses(ctx context.Context) ([]domain.ReservedAddress, error) {
	if s.repoManager == nil {
		return nil, fmt.Errorf("no address repository configured")
	}
	return s.repoManager.Addresses().List(ctx)
}

func (s *service) GetEventsChannel(_ context.Context) <-chan domain.ParticipationEvent {
	return s.eventsCh
}

func (s *service) pollTask() {
	ctx, cancel := context.WithTimeout(context.Background(), pollTimeout)
	defer cancel()

	if err := s.Poll(ctx); err != nil {
		log.WithError(err).Warn("coordinator poll completed with errors")
	}
}

// apply must be called with applyLock held.
func (s *service) apply(rounds []domain.Round) ([]task, []error) {
	errs := make([]error, 0)
	tasks := make([]task, 0)

	for _, id := range s.registry.update(rounds) {
		if rc, ok := s.roundCtxs[id]; ok {
			rc.cancel()
			delete(s.roundCtxs, id)
		}
		for _, alice := range s.registry.alicesOfRound(id) {
			// The round is gone, nothing to tell the coordinator.
			s.drop(alice, domain.ErrRoundVanished)
		}
		log.WithField("round", id).Debug("round no longer published")
	}

	for _, round := range s.registry.listRounds() {
		alices := s.registry.alicesOfRound(round.Id)
		if len(alices) <= 0 {
			continue
		}
		if round.IsEnded() {
			s.endRound(round, alices)
			continue
		}

		roundTasks, roundErrs := s.schedule(round, alices)
		errs = append(errs, roundErrs...)
		for _, t := range roundTasks {
			if !s.registry.markInFlight(t.keys()...) {
				continue
			}
			t.roundCtx = s.roundContext(round.Id)
			tasks = append(tasks, t)
		}
	}
	return tasks, errs
}

// roundContext must be called with applyLock held.
func (s *service) roundContext(roundId string) context.Context {
	rc, ok := s.roundCtxs[roundId]
	if !ok {
		ctx, cancel := context.WithCancel(context.Background())
		rc = roundContext{ctx, cancel}
		s.roundCtxs[roundId] = rc
	}
	return rc.ctx
}

func (s *service) schedule(round domain.Round, alices []domain.Alice) ([]task, []error) {
	errs := make([]error, 0)
	tasks := make([]task, 0)
	lost := make([]domain.Alice, 0)
	byPhase := make(map[domain.Phase][]domain.Alice)

	for _, alice := range alices {
		if s.registry.isInFlight(alice.Key()) {
			continue
		}

		gap := int(round.Phase) - int(alice.PendingPhase)
		switch {
		case gap < 0:
			continue
		case gap >= 2:
			lost = append(lost, alice)
			continue
		case gap == 1:
			err := fmt.Errorf(
				"%w: alice %s pending %s while round is in %s",
				domain.ErrPhaseDesync, alice.Key(), alice.PendingPhase, round.Phase,
			)
			log.WithError(err).Warn("coordinator moved ahead, attempting pending call")
			errs = append(errs, err)
		}
		byPhase[alice.PendingPhase] = append(byPhase[alice.PendingPhase], alice)
	}

	if len(lost) > 0 {
		tasks = append(tasks, task{round: round, alices: lost, run: s.handleLost})
	}

	for phase := domain.InputRegistration; phase <= domain.Ended; phase++ {
		pending := byPhase[phase]
		if len(pending) <= 0 {
			continue
		}
		handler, perAlice, err := s.phaseHandler(phase)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !perAlice {
			tasks = append(tasks, task{round: round, alices: pending, run: handler})
			continue
		}
		for _, alice := range pending {
			tasks = append(tasks, task{round: round, alices: []domain.Alice{alice}, run: handler})
		}
	}
	return tasks, errs
}

// phaseHandler returns the action for Alices pending the given phase and
// whether it runs once per Alice or once for all the round's Alices.
func (s *service) phaseHandler(phase domain.Phase) (phaseHandler, bool, error) {
	switch phase {
	case domain.ConnectionConfirmation:
		return s.handleConnectionConfirmation, true, nil
	case domain.OutputRegistration:
		return s.handleOutputRegistration, false, nil
	case domain.TransactionSigning:
		return s.handleTransactionSigning, false, nil
	case domain.InputRegistration, domain.Ended:
		return nil, false, fmt.Errorf("no action for alices pending %s", phase)
	default:
		return nil, false, fmt.Errorf("unknown phase %d", int(phase))
	}
}

func (s *service) handleLost(
	_ context.Context, round domain.Round, alices []domain.Alice,
) []aliceResult {
	return failAll(alices, fmt.Errorf("%w: round in %s", domain.ErrAliceLost, round.Phase))
}

func (s *service) handleConnectionConfirmation(
	ctx context.Context, round domain.Round, alices []domain.Alice,
) []aliceResult {
	results := make([]aliceResult, 0, len(alices))
	for _, alice := range alices {
		confirmed, err := s.confirmConnection(ctx, round, alice)
		results = append(results, aliceResult{alice.Key(), confirmed, err})
	}
	return results
}

func (s *service) handleOutputRegistration(
	ctx context.Context, round domain.Round, alices []domain.Alice,
) []aliceResult {
	own := make(map[domain.Outpoint]struct{})
	for _, a := range s.registry.alicesOfRound(round.Id) {
		own[a.Utxo.Outpoint] = struct{}{}
	}

	results := make([]aliceResult, 0, len(alices))
	for _, alice := range alices {
		registered, err := s.registerOutputs(ctx, round, alice, own)
		results = append(results, aliceResult{alice.Key(), registered, err})
	}
	return results
}

func (s *service) handleTransactionSigning(
	ctx context.Context, round domain.Round, alices []domain.Alice,
) []aliceResult {
	results := make([]aliceResult, 0, len(alices))
	signers := make([]domain.Alice, 0, len(alices))
	for _, alice := range alices {
		if !round.HasInput(alice.Utxo.Outpoint) {
			results = append(results, aliceResult{
				key: alice.Key(),
				err: fmt.Errorf("%w: input not in round", domain.ErrAliceLost),
			})
			continue
		}
		signers = append(signers, alice)
	}
	if len(signers) <= 0 {
		return results
	}

	signed, err := s.signTransaction(ctx, round, signers)
	if err != nil {
		return append(results, failAll(signers, err)...)
	}
	for i := range signed {
		results = append(results, aliceResult{signed[i].Key(), &signed[i], nil})
	}
	return results
}

func (s *service) selectRound(utxo domain.Utxo) (domain.Round, error) {
	now := time.Now()
	var selected *domain.Round
	var lastErr error

	for _, round := range s.registry.listRounds() {
		if !round.AcceptsRegistration(now, s.registrationMargin) {
			continue
		}
		if err := round.ValidateInput(utxo.Amount, utxo.ScriptType); err != nil {
			lastErr = err
			continue
		}
		if selected == nil || round.InputRegistrationEnd.After(selected.InputRegistrationEnd) {
			r := round
			selected = &r
		}
	}

	if selected == nil {
		if lastErr != nil {
			return domain.Round{}, lastErr
		}
		return domain.Round{}, domain.ErrNoSuitableRound
	}
	return *selected, nil
}

func (s *service) registerInput(
	ctx context.Context, round domain.Round, utxo domain.Utxo,
) (*domain.Alice, error) {
	inVsize, err := inputVsize(utxo.ScriptType)
	if err != nil {
		return nil, err
	}
	outType := s.wallet.ScriptType()
	if !round.AllowsOutputType(outType) {
		return nil, fmt.Errorf("%w: output script type %s", domain.ErrInputNotAllowed, outType)
	}
	outVsize, err := outputVsize(outType)
	if err != nil {
		return nil, err
	}
	if inVsize >= round.MaxVsizeAllocationPerAlice {
		return nil, fmt.Errorf(
			"%w: input vsize %d exceeds allocation %d",
			domain.ErrInputNotAllowed, inVsize, round.MaxVsizeAllocationPerAlice,
		)
	}

	coordinationFee := round.CoordinationFee.Fee(utxo.Amount)
	inputFee := miningFee(chainfee.SatPerKVByte(round.MiningFeeRate), inVsize)
	net := domain.NetAmount(utxo.Amount, coordinationFee, inputFee)
	if net == 0 {
		return nil, fmt.Errorf(
			"cannot join round with this utxo: %w: fees exceed amount", domain.ErrAmountTooSmall,
		)
	}
	if round.MaxAmountCredentialValue > 0 && net > round.MaxAmountCredentialValue {
		return nil, fmt.Errorf(
			"%w: amount above max credential value %d",
			domain.ErrInputNotAllowed, round.MaxAmountCredentialValue,
		)
	}

	planReq := s.planRequest(
		round, net, outVsize, round.MaxVsizeAllocationPerAlice-inVsize, outType, nil,
	)
	if _, err := s.planner.Plan(planReq); err != nil {
		return nil, fmt.Errorf("cannot join round with this utxo: %w", err)
	}

	commitment, err := s.commitmentData(round)
	if err != nil {
		return nil, err
	}
	proof, err := s.wallet.OwnershipProof(ctx, utxo, commitment)
	if err != nil {
		return nil, fmt.Errorf("failed to get ownership proof: %w", err)
	}

	amounts, vsizes := amountIssuer(s.credentials, round), vsizeIssuer(s.credentials, round)
	zeroAmount, err := amounts.zeroRequest(ctx)
	if err != nil {
		return nil, err
	}
	zeroVsize, err := vsizes.zeroRequest(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := s.coordinator.RegisterInput(ctx, ports.InputRegistrationRequest{
		RoundId:                     round.Id,
		Outpoint:                    utxo.Outpoint,
		OwnershipProof:              proof,
		ZeroAmountCredentialRequest: zeroAmount.Data,
		ZeroVsizeCredentialRequest:  zeroVsize.Data,
	})
	if err != nil {
		return nil, fmt.Errorf("input registration failed: %w", err)
	}

	alice, err := domain.NewAlice(
		round, utxo, resp.AliceId, proof, inVsize, outVsize, coordinationFee, inputFee,
	)
	if err != nil {
		s.unregister(round.Id, resp.AliceId)
		return nil, err
	}

	// The zero credentials issued at registration are presented to obtain
	// the real ones at connection confirmation.
	zeroAmountCreds, err := amounts.resolve(ctx, resp.AmountCredentials, zeroAmount)
	if err == nil {
		var zeroVsizeCreds domain.Credentials
		zeroVsizeCreds, err = vsizes.resolve(ctx, resp.VsizeCredentials, zeroVsize)
		if err == nil {
			alice.Credentials.ZeroAmount = domain.CredentialSlot{Request: zeroAmount, Confirmed: zeroAmountCreds}
			alice.Credentials.ZeroVsize = domain.CredentialSlot{Request: zeroVsize, Confirmed: zeroVsizeCreds}
			err = s.prepareRealRequests(ctx, round, alice, zeroAmountCreds, zeroVsizeCreds)
		}
	}
	if err != nil {
		s.unregister(round.Id, resp.AliceId)
		return nil, err
	}
	return alice, nil
}

func (s *service) prepareRealRequests(
	ctx context.Context, round domain.Round, alice *domain.Alice,
	zeroAmount, zeroVsize domain.Credentials,
) error {
	net, budget := alice.NetAmount(), alice.VsizeBudget()

	realAmount, err := amountIssuer(s.credentials, round).request(
		ctx, []uint64{net}, zeroAmount, int64(net),
	)
	if err != nil {
		return err
	}
	realVsize, err := vsizeIssuer(s.credentials, round).request(
		ctx, []uint64{budget}, zeroVsize, int64(budget),
	)
	if err != nil {
		return err
	}

	alice.Credentials.RealAmount = domain.CredentialSlot{Request: realAmount}
	alice.Credentials.RealVsize = domain.CredentialSlot{Request: realVsize}
	return nil
}

func (s *service) confirmConnection(
	ctx context.Context, round domain.Round, alice domain.Alice,
) (*domain.Alice, error) {
	realAmount, realVsize := alice.Credentials.RealAmount.Request, alice.Credentials.RealVsize.Request
	if realAmount == nil || realVsize == nil {
		return nil, fmt.Errorf("missing real credential requests")
	}

	amounts, vsizes := amountIssuer(s.credentials, round), vsizeIssuer(s.credentials, round)
	zeroAmount, err := amounts.zeroRequest(ctx)
	if err != nil {
		return nil, err
	}
	zeroVsize, err := vsizes.zeroRequest(ctx)
	if err != nil {
		return nil, err
	}

	confirmation, err := s.coordinator.ConfirmConnection(ctx, ports.ConnectionConfirmationRequest{
		RoundId:                     round.Id,
		AliceId:                     alice.AliceId,
		ZeroAmountCredentialRequest: zeroAmount.Data,
		ZeroVsizeCredentialRequest:  zeroVsize.Data,
		RealAmountCredentialRequest: realAmount.Data,
		RealVsizeCredentialRequest:  realVsize.Data,
	})
	if err != nil {
		return nil, fmt.Errorf("connection confirmation failed: %w", err)
	}

	alice.Credentials.ZeroAmount = domain.CredentialSlot{Request: zeroAmount}
	alice.Credentials.ZeroVsize = domain.CredentialSlot{Request: zeroVsize}
	if err := alice.ConfirmConnection(*confirmation); err != nil {
		return nil, err
	}
	return &alice, nil
}

func (s *service) registerOutputs(
	ctx context.Context, round domain.Round, alice domain.Alice,
	own map[domain.Outpoint]struct{},
) (*domain.Alice, error) {
	if alice.Confirmation == nil {
		return nil, fmt.Errorf("missing connection confirmation")
	}
	amounts, vsizes := amountIssuer(s.credentials, round), vsizeIssuer(s.credentials, round)
	creds := &alice.Credentials

	var err error
	if creds.RealAmount.Confirmed, err = amounts.resolve(
		ctx, alice.Confirmation.RealAmount, creds.RealAmount.Request,
	); err != nil {
		return nil, err
	}
	if creds.RealVsize.Confirmed, err = vsizes.resolve(
		ctx, alice.Confirmation.RealVsize, creds.RealVsize.Request,
	); err != nil {
		return nil, err
	}
	if creds.ZeroAmount.Confirmed, err = amounts.resolve(
		ctx, alice.Confirmation.ZeroAmount, creds.ZeroAmount.Request,
	); err != nil {
		return nil, err
	}
	if creds.ZeroVsize.Confirmed, err = vsizes.resolve(
		ctx, alice.Confirmation.ZeroVsize, creds.ZeroVsize.Request,
	); err != nil {
		return nil, err
	}

	outType := s.wallet.ScriptType()
	outputFee := miningFee(chainfee.SatPerKVByte(round.MiningFeeRate), alice.OutputVsize)
	plan, err := s.planner.Plan(s.planRequest(
		round, alice.NetAmount(), alice.OutputVsize, alice.VsizeBudget(), outType, own,
	))
	if err != nil {
		return nil, err
	}
	if err := checkPlan(plan, alice.NetAmount(), outputFee); err != nil {
		return nil, err
	}

	amountPool, vsizePool := creds.RealAmount.Confirmed, creds.RealVsize.Confirmed
	zeroAmountPool, zeroVsizePool := creds.ZeroAmount.Confirmed, creds.ZeroVsize.Confirmed
	outputs := make([]domain.PlannedOutput, 0, len(plan))
	for i, amount := range plan {
		amountCost, vsizeCost := amount+outputFee, alice.OutputVsize
		if i == len(plan)-1 {
			// The last output takes the whole remaining vsize, no credential
			// is left holding value.
			vsizeCost = vsizePool.Sum()
		}

		addr, err := s.wallet.NextChangeAddress(ctx, round.Id)
		if err != nil {
			alice.Outputs = outputs
			return &alice, fmt.Errorf("failed to derive change address: %w", err)
		}

		issued, err := s.reissue(ctx, round, alice, amountPool, vsizePool, amountCost, vsizeCost)
		if err != nil {
			alice.Outputs = outputs
			return &alice, err
		}
		amountCred, amountRest, err := split(issued.amount, amountCost)
		if err != nil {
			alice.Outputs = outputs
			return &alice, err
		}
		vsizeCred, vsizeRest, err := split(issued.vsize, vsizeCost)
		if err != nil {
			alice.Outputs = outputs
			return &alice, err
		}
		if len(zeroAmountPool) <= 0 || len(zeroVsizePool) <= 0 {
			alice.Outputs = outputs
			return &alice, fmt.Errorf("no zero credential left to present")
		}

		amountReq, err := amounts.request(
			ctx, nil, domain.Credentials{amountCred, zeroAmountPool[0]}, -int64(amountCost),
		)
		if err != nil {
			alice.Outputs = outputs
			return &alice, err
		}
		vsizeReq, err := vsizes.request(
			ctx, nil, domain.Credentials{vsizeCred, zeroVsizePool[0]}, -int64(vsizeCost),
		)
		if err != nil {
			alice.Outputs = outputs
			return &alice, err
		}

		if err := s.coordinator.RegisterOutput(ctx, ports.OutputRegistrationRequest{
			RoundId:                 round.Id,
			PkScript:                addr.PkScript,
			AmountCredentialRequest: amountReq.Data,
			VsizeCredentialRequest:  vsizeReq.Data,
		}); err != nil {
			alice.Outputs = outputs
			return &alice, fmt.Errorf("output registration failed: %w", err)
		}

		outputs = append(outputs, domain.PlannedOutput{
			Amount:     amount,
			Fee:        outputFee,
			Address:    addr.Address,
			Path:       addr.Path,
			PkScript:   addr.PkScript,
			ScriptType: outType,
		})
		amountPool, vsizePool = amountRest, vsizeRest
		zeroAmountPool, zeroVsizePool = issued.zeroAmount, issued.zeroVsize
	}

	if amountPool.Sum() != 0 || vsizePool.Sum() != 0 {
		alice.Outputs = outputs
		return &alice, fmt.Errorf(
			"%w: %d sats and %d vbytes left after output registration",
			domain.ErrCredentialImbalance, amountPool.Sum(), vsizePool.Sum(),
		)
	}

	if err := s.coordinator.ReadyToSign(ctx, round.Id, alice.AliceId); err != nil {
		alice.Outputs = outputs
		return &alice, fmt.Errorf("ready to sign failed: %w", err)
	}
	if err := alice.RegisterOutputs(outputs); err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"round":   round.Id,
		"alice":   alice.AliceId,
		"outputs": len(outputs),
	}).Info("registered outputs")
	return &alice, nil
}

func (s *service) signTransaction(
	ctx context.Context, round domain.Round, alices []domain.Alice,
) ([]domain.Alice, error) {
	expected := make([]domain.RegisteredOutput, 0)
	for _, alice := range alices {
		expected = append(expected, alice.ExpectedOutputs()...)
	}
	if !round.HasOutputs(expected) {
		return nil, domain.ErrOutputsNotRegistered
	}

	tx, err := s.txBuilder.BuildCoinjoinTx(round, alices)
	if err != nil {
		return nil, fmt.Errorf("failed to build coinjoin tx: %w", err)
	}

	witnesses, err := s.wallet.Sign(ctx, *tx)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrSigningAborted, err)
	}
	signedInputs := make(map[int]struct{}, len(witnesses))
	for _, w := range witnesses {
		signedInputs[w.InputIndex] = struct{}{}
	}
	for _, i := range tx.MyInputs() {
		if _, ok := signedInputs[i]; !ok {
			return nil, fmt.Errorf("%w: missing witness for input %d", domain.ErrSigningAborted, i)
		}
	}

	for _, w := range witnesses {
		if err := s.coordinator.SignTransaction(ctx, round.Id, w.InputIndex, w.Witness); err != nil {
			return nil, fmt.Errorf("failed to submit signature of input %d: %w", w.InputIndex, err)
		}
	}

	signed := make([]domain.Alice, 0, len(alices))
	for _, alice := range alices {
		if err := alice.SubmitSignature(); err != nil {
			return nil, err
		}
		signed = append(signed, alice)
	}

	log.WithFields(log.Fields{
		"round": round.Id,
		"txid":  tx.Txid,
		"vsize": tx.Vsize,
	}).Info("signed coinjoin transaction")
	return signed, nil
}

// commit stores the outcome of a task and clears the in-flight markers.
func (s *service) commit(round domain.Round, results []aliceResult) []error {
	errs := make([]error, 0)
	for _, res := range results {
		switch {
		case res.err == nil:
			if res.alice == nil {
				break
			}
			changes := res.alice.PopChanges()
			if s.registry.updateAlice(res.alice) {
				s.propagateEvents(changes)
			}
		case errors.Is(res.err, domain.ErrOutputsNotRegistered):
			log.WithField("round", round.Id).Debug("waiting for outputs to be registered")
		default:
			errs = append(errs, fmt.Errorf("alice %s: %w", res.key, res.err))
			s.fail(round, res)
		}
		s.registry.clearInFlight(res.key)
	}
	return errs
}

func (s *service) fail(round domain.Round, res aliceResult) {
	stored, ok := s.registry.remove(res.key)
	if !ok {
		return
	}
	alice := stored
	if res.alice != nil {
		alice = res.alice
	}
	alice.Drop(res.err)
	s.propagateEvents(alice.PopChanges())

	fields := log.Fields{
		"round":    round.Id,
		"outpoint": alice.Utxo.Outpoint,
		"phase":    alice.PendingPhase,
	}
	if alice.IsCommitted() {
		log.WithError(res.err).WithFields(fields).Error(
			"alice dropped with outputs registered, funds committed to in-flight round",
		)
	} else {
		log.WithError(res.err).WithFields(fields).Warn("alice dropped")
	}

	if errors.Is(res.err, domain.ErrSigningAborted) {
		return
	}
	s.unregister(round.Id, alice.AliceId)
}

// drop removes an Alice without contacting the coordinator.
func (s *service) drop(alice domain.Alice, reason error) {
	stored, ok := s.registry.remove(alice.Key())
	if !ok {
		return
	}
	stored.Drop(reason)
	s.propagateEvents(stored.PopChanges())
	log.WithError(reason).WithFields(log.Fields{
		"round":    alice.Round.Id,
		"outpoint": alice.Utxo.Outpoint,
	}).Warn("alice dropped")
}

func (s *service) endRound(round domain.Round, alices []domain.Alice) {
	for _, alice := range alices {
		if alice.PendingPhase < domain.Ended {
			s.drop(alice, domain.ErrRoundEnded)
			continue
		}
		stored, ok := s.registry.remove(alice.Key())
		if !ok {
			continue
		}
		stored.Complete()
		s.propagateEvents(stored.PopChanges())
		log.WithFields(log.Fields{
			"round":    round.Id,
			"outpoint": alice.Utxo.Outpoint,
		}).Info("coinjoin round completed")
	}
}

func (s *service) replace(existing domain.Alice) error {
	key := existing.Key()
	if !s.registry.markInFlight(key) {
		return fmt.Errorf("input %s is busy in round %s", key.Outpoint, key.RoundId)
	}
	defer s.registry.clearInFlight(key)

	ctx, cancel := context.WithTimeout(context.Background(), unregistrationTimeout)
	defer cancel()
	if err := s.coordinator.UnregisterInput(ctx, key.RoundId, existing.AliceId); err != nil &&
		!errors.Is(err, domain.ErrCoordinatorRejected) {
		return fmt.Errorf("failed to unregister previous registration: %w", err)
	}
	s.drop(existing, fmt.Errorf("input registered again"))
	return nil
}

func (s *service) unregisterAll(ctx context.Context) {
	eg := &errgroup.Group{}
	eg.SetLimit(maxConcurrentTasks)
	for _, alice := range s.registry.listAlices() {
		alice := alice
		stored, ok := s.registry.remove(alice.Key())
		if !ok {
			continue
		}
		stored.Drop(domain.ErrParticipationOff)
		s.propagateEvents(stored.PopChanges())
		if alice.PendingPhase >= domain.Ended {
			continue
		}

		eg.Go(func() error {
			if err := s.coordinator.UnregisterInput(ctx, alice.Round.Id, alice.AliceId); err != nil {
				log.WithError(err).WithField("round", alice.Round.Id).Warn("failed to unregister input")
			}
			return nil
		})
	}
	// nolint
	eg.Wait()
}

func (s *service) unregister(roundId, aliceId string) {
	ctx, cancel := context.WithTimeout(context.Background(), unregistrationTimeout)
	defer cancel()

	if err := s.coordinator.UnregisterInput(ctx, roundId, aliceId); err != nil {
		log.WithError(err).WithField("round", roundId).Warn("failed to unregister input")
		return
	}
	log.WithField("round", roundId).Debugf("unregistered alice %s", aliceId)
}

func (s *service) propagateEvents(events []domain.ParticipationEvent) {
	for _, event := range events {
		select {
		case s.eventsCh <- event:
		default:
			log.Warnf("events channel full, dropping %T", event)
		}
	}
}

func (s *service) planRequest(
	round domain.Round, net, outVsize, budget uint64, outType domain.ScriptType,
	own map[domain.Outpoint]struct{},
) PlanRequest {
	minAmount := round.AllowedOutputAmounts.Min
	if dust := dustThreshold(outType); dust > minAmount {
		minAmount = dust
	}

	denominations := make([]uint64, 0, len(round.Inputs)+len(round.Outputs))
	for _, in := range round.Inputs {
		if _, ok := own[in.Outpoint]; ok {
			continue
		}
		denominations = append(denominations, in.Amount)
	}
	for _, out := range round.Outputs {
		denominations = append(denominations, out.Amount)
	}

	return PlanRequest{
		NetAmount:     net,
		OutputFee:     miningFee(chainfee.SatPerKVByte(round.MiningFeeRate), outVsize),
		OutputVsize:   outVsize,
		VsizeBudget:   budget,
		MinAmount:     minAmount,
		MaxAmount:     round.AllowedOutputAmounts.Max,
		Denominations: denominations,
	}
}

// commitmentData binds an ownership proof to a coordinator and a round:
// varbytes(identifier) || round id.
func (s *service) commitmentData(round domain.Round) ([]byte, error) {
	identifier := round.CoordinatorIdentifier
	if len(identifier) <= 0 {
		identifier = s.coordinatorIdentifier
	}

	roundId, err := hex.DecodeString(round.Id)
	if err != nil {
		roundId = []byte(round.Id)
	}

	var buf bytes.Buffer
	if err := wire.WriteVarString(&buf, 0, identifier); err != nil {
		return nil, fmt.Errorf("failed to serialize commitment data: %w", err)
	}
	buf.Write(roundId)
	return buf.Bytes(), nil
}

func checkPlan(plan []uint64, net, outputFee uint64) error {
	if len(plan) <= 0 {
		return fmt.Errorf("%w: empty output plan", domain.ErrOutputPlanning)
	}
	tot := uint64(0)
	for _, amount := range plan {
		if amount == 0 {
			return fmt.Errorf("%w: zero amount output", domain.ErrOutputPlanning)
		}
		tot += amount + outputFee
	}
	if tot != net {
		return fmt.Errorf(
			"%w: planned %d, net amount %d", domain.ErrCredentialImbalance, tot, net,
		)
	}
	return nil
}
