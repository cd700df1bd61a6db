package hdwallet

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ark-network/coinjoin/internal/core/domain"
	"github.com/ark-network/coinjoin/internal/core/ports"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	log "github.com/sirupsen/logrus"
)

const (
	internalBranch = 1

	// Bounds the scan for an unreserved index.
	maxReservedGap = 1000
)

type service struct {
	account     *hdkeychain.ExtendedKey
	accountPath []uint32
	scriptType  domain.ScriptType
	net         *chaincfg.Params
	addresses   domain.AddressRepository
	lock        *sync.Mutex
}

// NewService accepts either a master or an account-level extended private
// key. A master key is derived to account 0 of the BIP84 or BIP86 purpose
// matching the script type.
func NewService(
	extendedKey string, scriptType domain.ScriptType, net *chaincfg.Params,
	addresses domain.AddressRepository,
) (ports.WalletService, error) {
	if addresses == nil {
		return nil, fmt.Errorf("missing address repository")
	}
	purpose, err := purposeOf(scriptType)
	if err != nil {
		return nil, err
	}

	key, err := hdkeychain.NewKeyFromString(extendedKey)
	if err != nil {
		return nil, fmt.Errorf("invalid extended key: %s", err)
	}
	if !key.IsPrivate() {
		return nil, fmt.Errorf("extended key must be private to sign")
	}
	if !key.IsForNet(net) {
		return nil, fmt.Errorf("extended key is not for network %s", net.Name)
	}

	accountPath := []uint32{
		purpose + hdkeychain.HardenedKeyStart,
		net.HDCoinType + hdkeychain.HardenedKeyStart,
		hdkeychain.HardenedKeyStart,
	}

	account := key
	switch key.Depth() {
	case 0:
		for _, i := range accountPath {
			if account, err = account.Derive(i); err != nil {
				return nil, fmt.Errorf("failed to derive account key: %s", err)
			}
		}
	case uint8(len(accountPath)):
	default:
		return nil, fmt.Errorf(
			"invalid extended key depth %d, must be master or account key", key.Depth(),
		)
	}

	return &service{
		account:     account,
		accountPath: accountPath,
		scriptType:  scriptType,
		net:         net,
		addresses:   addresses,
		lock:        &sync.Mutex{},
	}, nil
}

func (s *service) ScriptType() domain.ScriptType {
	return s.scriptType
}

func (s *service) NextChangeAddress(
	ctx context.Context, roundId string,
) (*ports.ChangeAddress, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	index := uint32(0)
	last, found, err := s.addresses.LastIndex(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get last reserved index: %s", err)
	}
	if found {
		index = last + 1
	}

	for i := 0; i < maxReservedGap; i++ {
		path := append(append([]uint32{}, s.accountPath...), internalBranch, index)
		addr, pkScript, err := s.deriveAddress(internalBranch, index)
		if err != nil {
			return nil, err
		}

		reserved, err := s.addresses.IsReserved(ctx, addr)
		if err != nil {
			return nil, fmt.Errorf("failed to check address %s: %s", addr, err)
		}
		if reserved {
			index++
			continue
		}

		if err := s.addresses.Reserve(ctx, domain.ReservedAddress{
			Address:    addr,
			Path:       formatPath(path),
			Index:      index,
			RoundId:    roundId,
			ReservedAt: time.Now().Unix(),
		}); err != nil {
			return nil, fmt.Errorf("failed to reserve address %s: %s", addr, err)
		}

		log.Debugf("reserved change address %s for round %s", addr, roundId)
		return &ports.ChangeAddress{
			Address:  addr,
			Path:     formatPath(path),
			PkScript: pkScript,
		}, nil
	}

	return nil, fmt.Errorf("no unreserved change address found")
}

func (s *service) Close() {}

func (s *service) deriveAddress(branch, index uint32) (string, []byte, error) {
	key, err := s.deriveChild(branch, index)
	if err != nil {
		return "", nil, err
	}
	pubkey, err := key.ECPubKey()
	if err != nil {
		return "", nil, err
	}
	return addressOf(pubkey, s.scriptType, s.net)
}

func (s *service) deriveChild(branch, index uint32) (*hdkeychain.ExtendedKey, error) {
	branchKey, err := s.account.Derive(branch)
	if err != nil {
		return nil, fmt.Errorf("failed to derive branch %d: %s", branch, err)
	}
	key, err := branchKey.Derive(index)
	if err != nil {
		return nil, fmt.Errorf("failed to derive index %d: %s", index, err)
	}
	return key, nil
}
