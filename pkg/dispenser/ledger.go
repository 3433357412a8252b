package dispenser

import (
	"context"

	"github.com/gagliardetto/solana-go"
)

// TokenAccount is the subset of a token account the engine inspects before
// moving funds.
type TokenAccount struct {
	Address solana.PublicKey
	Owner   solana.PublicKey
	Mint    solana.PublicKey
	Balance uint64
}

// Ledger is the token custody boundary. The engine only ever debits the
// vault through it, and only after the vault/mint/recipient checks pass.
type Ledger interface {
	// Account returns the token account at addr.
	Account(ctx context.Context, addr solana.PublicKey) (*TokenAccount, error)

	// Transfer moves amount of mint from the vault token account to the
	// recipient token account.
	Transfer(ctx context.Context, from, to, mint solana.PublicKey, amount uint64) error
}
