package application

import (
	"context"

	"github.com/ark-network/coinjoin/internal/core/domain"
)

type Service interface {
	Start() error
	Stop()
	// RegisterInput joins the best round currently accepting inputs with the
	// given utxo.
	RegisterInput(ctx context.Context, utxo domain.Utxo) (*domain.Alice, error)
	// Poll fetches the coordinator's round status and applies it.
	Poll(ctx context.Context) error
	ApplyStatus(ctx context.Context, rounds []domain.Round) error
	Disable(ctx context.Context) error
	Enable()
	IsEnabled() bool
	GetRounds(ctx context.Context) []domain.Round
	GetAlices(ctx context.Context) []domain.Alice
	GetReservedAddresses(ctx context.Context) ([]domain.ReservedAddress, error)
	GetEventsChannel(ctx context.Context) <-chan domain.ParticipationEvent
}

type aliceResult struct {
	key   domain.AliceKey
	alice *domain.Alice
	err   error
}

type phaseHandler func(ctx context.Context, round domain.Round, alices []domain.Alice) []aliceResult

type task struct {
	round    domain.Round
	alices   []domain.Alice
	run      phaseHandler
	roundCtx context.Context
}

func (t task) keys() []domain.AliceKey {
	keys := make([]domain.AliceKey, 0, len(t.alices))
	for _, a := range t.alices {
		keys = append(keys, a.Key())
	}
	return keys
}

func failAll(alices []domain.Alice, err error) []aliceResult {
	results := make([]aliceResult, 0, len(alices))
	for _, a := range alices {
		results = append(results, aliceResult{key: a.Key(), err: err})
	}
	return results
}
