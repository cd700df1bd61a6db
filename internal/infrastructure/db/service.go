package db

import (
	"fmt"

	"github.com/ark-network/coinjoin/internal/core/domain"
	"github.com/ark-network/coinjoin/internal/core/ports"
	badgerdb "github.com/ark-network/coinjoin/internal/infrastructure/db/badger"
	inmemorydb "github.com/ark-network/coinjoin/internal/infrastructure/db/inmemory"
)

var addressStoreTypes = map[string]func(...interface{}) (domain.AddressRepository, error){
	"badger":   badgerdb.NewAddressRepository,
	"inmemory": inmemorydb.NewAddressRepository,
}

type ServiceConfig struct {
	DataStoreType   string
	DataStoreConfig []interface{}
}

type service struct {
	addressStore domain.AddressRepository
}

func NewService(config ServiceConfig) (ports.RepoManager, error) {
	addressStoreFactory, ok := addressStoreTypes[config.DataStoreType]
	if !ok {
		return nil, fmt.Errorf("invalid data store type: %s", config.DataStoreType)
	}

	addressStore, err := addressStoreFactory(config.DataStoreConfig...)
	if err != nil {
		return nil, fmt.Errorf("failed to create address store: %w", err)
	}

	return &service{addressStore}, nil
}

func (s *service) Addresses() domain.AddressRepository {
	return s.addressStore
}

func (s *service) Close() {
	s.addressStore.Close()
}
