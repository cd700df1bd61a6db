package inmemorydb

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ark-network/coinjoin/internal/core/domain"
)

type addressRepository struct {
	addresses map[string]domain.ReservedAddress
	lock      *sync.RWMutex
}

func NewAddressRepository(_ ...interface{}) (domain.AddressRepository, error) {
	return &addressRepository{
		addresses: make(map[string]domain.ReservedAddress),
		lock:      &sync.RWMutex{},
	}, nil
}

func (r *addressRepository) Reserve(
	_ context.Context, addr domain.ReservedAddress,
) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if _, ok := r.addresses[addr.Address]; ok {
		return fmt.Errorf("address %s already reserved", addr.Address)
	}
	r.addresses[addr.Address] = addr
	return nil
}

func (r *addressRepository) IsReserved(
	_ context.Context, address string,
) (bool, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	_, ok := r.addresses[address]
	return ok, nil
}

func (r *addressRepository) LastIndex(ctx context.Context) (uint32, bool, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	var (
		last  uint32
		found bool
	)
	for _, addr := range r.addresses {
		if !found || addr.Index > last {
			last = addr.Index
			found = true
		}
	}
	return last, found, nil
}

func (r *addressRepository) List(_ context.Context) ([]domain.ReservedAddress, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	addresses := make([]domain.ReservedAddress, 0, len(r.addresses))
	for _, addr := range r.addresses {
		addresses = append(addresses, addr)
	}
	sort.SliceStable(addresses, func(i, j int) bool {
		return addresses[i].Index < addresses[j].Index
	})
	return addresses, nil
}

func (r *addressRepository) Close() {}
