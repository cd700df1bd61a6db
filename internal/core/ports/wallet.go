package ports

import (
	"context"

	"github.com/ark-network/coinjoin/internal/core/domain"
)

type ChangeAddress struct {
	Address  string
	Path     string
	PkScript []byte
}

type WalletService interface {
	Wallet
	Signer
	Close()
}

type Wallet interface {
	ScriptType() domain.ScriptType
	// NextChangeAddress derives an address never handed out before and
	// reserves it for the given round.
	NextChangeAddress(ctx context.Context, roundId string) (*ChangeAddress, error)
}

type InputWitness struct {
	InputIndex int
	Witness    []byte
}

type Signer interface {
	OwnershipProof(
		ctx context.Context, utxo domain.Utxo, commitmentData []byte,
	) ([]byte, error)
	// Sign returns the witnesses of the inputs marked as mine.
	Sign(ctx context.Context, tx CoinjoinTx) ([]InputWitness, error)
}
