package ports

import "github.com/ark-network/coinjoin/internal/core/domain"

type RepoManager interface {
	Addresses() domain.AddressRepository
	Close()
}
