package badgerdb

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/ark-network/coinjoin/internal/core/domain"
	"github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"
)

const addressStoreDir = "addresses"

type addressRepository struct {
	store *badgerhold.Store
	lock  *sync.Mutex
}

// NewAddressRepository expects the base datadir (empty for an in-memory
// badger instance) and an optional badger.Logger.
func NewAddressRepository(config ...interface{}) (domain.AddressRepository, error) {
	if len(config) != 2 {
		return nil, fmt.Errorf("invalid config")
	}
	baseDir, ok := config[0].(string)
	if !ok {
		return nil, fmt.Errorf("invalid base directory")
	}

	var logger badger.Logger
	if config[1] != nil {
		logger, ok = config[1].(badger.Logger)
		if !ok {
			return nil, fmt.Errorf("invalid logger")
		}
	}

	var dir string
	if len(baseDir) > 0 {
		dir = filepath.Join(baseDir, addressStoreDir)
	}
	store, err := createDB(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open address store: %s", err)
	}
	return &addressRepository{store, &sync.Mutex{}}, nil
}

func (r *addressRepository) Reserve(
	_ context.Context, addr domain.ReservedAddress,
) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if err := r.store.Insert(addr.Address, addr); err != nil {
		if errors.Is(err, badgerhold.ErrKeyExists) {
			return fmt.Errorf("address %s already reserved", addr.Address)
		}
		return err
	}
	return nil
}

func (r *addressRepository) IsReserved(
	_ context.Context, address string,
) (bool, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	var addr domain.ReservedAddress
	if err := r.store.Get(address, &addr); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *addressRepository) LastIndex(ctx context.Context) (uint32, bool, error) {
	addresses, err := r.List(ctx)
	if err != nil {
		return 0, false, err
	}
	if len(addresses) <= 0 {
		return 0, false, nil
	}
	return addresses[len(addresses)-1].Index, true, nil
}

func (r *addressRepository) List(_ context.Context) ([]domain.ReservedAddress, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	var addresses []domain.ReservedAddress
	if err := r.store.Find(&addresses, nil); err != nil {
		return nil, err
	}
	sort.SliceStable(addresses, func(i, j int) bool {
		return addresses[i].Index < addresses[j].Index
	})
	return addresses, nil
}

func (r *addressRepository) Close() {
	r.store.Close()
}
