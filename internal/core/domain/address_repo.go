package domain

import "context"

type ReservedAddress struct {
	Address    string
	Path       string
	Index      uint32
	RoundId    string
	ReservedAt int64
}

type AddressRepository interface {
	Reserve(ctx context.Context, addr ReservedAddress) error
	IsReserved(ctx context.Context, address string) (bool, error)
	// LastIndex returns the highest reserved derivation index, false if
	// nothing has been reserved yet.
	LastIndex(ctx context.Context) (uint32, bool, error)
	List(ctx context.Context) ([]ReservedAddress, error)
	Close()
}
