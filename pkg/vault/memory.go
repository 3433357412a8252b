package vault

import (
	"context"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/moltlabs/dispenser/pkg/dispenser"
)

// MemoryLedger is an in-process token ledger for tests and local runs. Token
// accounts are registered up front, the way they are created out-of-band on
// chain.
type MemoryLedger struct {
	mu       sync.Mutex
	accounts map[solana.PublicKey]*dispenser.TokenAccount
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		accounts: make(map[solana.PublicKey]*dispenser.TokenAccount),
	}
}

// CreateAccount registers a token account and returns its address.
func (l *MemoryLedger) CreateAccount(owner, mint solana.PublicKey, balance uint64) solana.PublicKey {
	l.mu.Lock()
	defer l.mu.Unlock()
	addr := solana.NewWallet().PublicKey()
	l.accounts[addr] = &dispenser.TokenAccount{
		Address: addr,
		Owner:   owner,
		Mint:    mint,
		Balance: balance,
	}
	return addr
}

func (l *MemoryLedger) Account(ctx context.Context, addr solana.PublicKey) (*dispenser.TokenAccount, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.accounts[addr]
	if !ok {
		return nil, fmt.Errorf("token account %s not found", addr)
	}
	out := *acct
	return &out, nil
}

func (l *MemoryLedger) Transfer(ctx context.Context, from, to, mint solana.PublicKey, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	src, ok := l.accounts[from]
	if !ok {
		return fmt.Errorf("source token account %s not found", from)
	}
	dst, ok := l.accounts[to]
	if !ok {
		return fmt.Errorf("destination token account %s not found", to)
	}
	if !src.Mint.Equals(mint) || !dst.Mint.Equals(mint) {
		return fmt.Errorf("token account mint does not match transfer mint %s", mint)
	}
	if src.Balance < amount {
		return fmt.Errorf("insufficient balance: have %d, need %d", src.Balance, amount)
	}
	if dst.Balance+amount < dst.Balance {
		return dispenser.ErrOverflow
	}

	src.Balance -= amount
	dst.Balance += amount
	return nil
}
