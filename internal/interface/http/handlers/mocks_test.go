package handlers

import (
	"context"

	"github.com/ark-network/coinjoin/internal/core/domain"
	"github.com/stretchr/testify/mock"
)

type mockedAppService struct {
	mock.Mock
	eventsCh chan domain.ParticipationEvent
}

func newMockedAppService() *mockedAppService {
	return &mockedAppService{eventsCh: make(chan domain.ParticipationEvent, 8)}
}

func (m *mockedAppService) Start() error {
	args := m.Called()
	return args.Error(0)
}

func (m *mockedAppService) Stop() {
	m.Called()
}

func (m *mockedAppService) RegisterInput(
	ctx context.Context, utxo domain.Utxo,
) (*domain.Alice, error) {
	args := m.Called(ctx, utxo)
	var res *domain.Alice
	if a := args.Get(0); a != nil {
		res = a.(*domain.Alice)
	}
	return res, args.Error(1)
}

func (m *mockedAppService) Poll(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockedAppService) ApplyStatus(ctx context.Context, rounds []domain.Round) error {
	args := m.Called(ctx, rounds)
	return args.Error(0)
}

func (m *mockedAppService) Disable(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockedAppService) Enable() {
	m.Called()
}

func (m *mockedAppService) IsEnabled() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *mockedAppService) GetRounds(ctx context.Context) []domain.Round {
	args := m.Called(ctx)
	return args.Get(0).([]domain.Round)
}

func (m *mockedAppService) GetAlices(ctx context.Context) []domain.Alice {
	args := m.Called(ctx)
	return args.Get(0).([]domain.Alice)
}

func (m *mockedAppService) GetReservedAddresses(
	ctx context.Context,
) ([]domain.ReservedAddress, error) {
	args := m.Called(ctx)
	var res []domain.ReservedAddress
	if a := args.Get(0); a != nil {
		res = a.([]domain.ReservedAddress)
	}
	return res, args.Error(1)
}

func (m *mockedAppService) GetEventsChannel(
	_ context.Context,
) <-chan domain.ParticipationEvent {
	return m.eventsCh
}
