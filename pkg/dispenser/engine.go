package dispenser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"
)

type Config struct {
	Logger *slog.Logger
	Store  Store
	Ledger Ledger
	// Clock defaults to the real clock; tests inject a fake.
	Clock clockwork.Clock
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Store == nil {
		return errors.New("store is required")
	}
	if cfg.Ledger == nil {
		return errors.New("ledger is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Engine executes the dispenser instruction set. Every instruction runs as
// one store transaction: it either commits fully or leaves no trace, and
// concurrent callers racing on the same contribution ID are resolved by the
// store's serialization rather than any locking here.
type Engine struct {
	log    *slog.Logger
	store  Store
	ledger Ledger
	clock  clockwork.Clock
}

func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		log:    cfg.Logger,
		store:  cfg.Store,
		ledger: cfg.Ledger,
		clock:  cfg.Clock,
	}, nil
}

// Initialize creates the singleton state: the caller becomes authority and
// the sole operator, counters start at zero, and the mint and vault are
// bound for the life of the deployment. Fails with ErrStateExists on any
// later invocation.
func (e *Engine) Initialize(ctx context.Context, caller, mint, vault solana.PublicKey) (*State, error) {
	vaultAcct, err := e.ledger.Account(ctx, vault)
	if err != nil {
		return nil, fmt.Errorf("failed to load vault account: %w", err)
	}
	if !vaultAcct.Mint.Equals(mint) {
		return nil, ErrMintMismatch
	}

	state := &State{
		Mint:      mint,
		Vault:     vault,
		Authority: caller,
		Operators: []solana.PublicKey{caller},
	}
	err = e.store.Update(ctx, func(ctx context.Context, tx Tx) error {
		return tx.CreateState(ctx, state)
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("dispenser: initialized", "mint", mint, "vault", vault, "authority", caller)
	return state.Clone(), nil
}

// AddOperator appends a principal to the operator set. Authority only.
// Adding an existing operator succeeds as a no-op.
func (e *Engine) AddOperator(ctx context.Context, caller, newOperator solana.PublicKey) (*State, error) {
	var out *State
	err := e.store.Update(ctx, func(ctx context.Context, tx Tx) error {
		state, err := tx.State(ctx)
		if err != nil {
			return err
		}
		if !state.Authority.Equals(caller) {
			return ErrUnauthorized
		}
		if !state.IsOperator(newOperator) {
			if len(state.Operators) >= MaxOperators {
				return ErrTooManyOperators
			}
			state.Operators = append(state.Operators, newOperator)
			if err := tx.SaveState(ctx, state); err != nil {
				return err
			}
		}
		out = state.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("dispenser: operator added", "operator", newOperator, "count", len(out.Operators))
	return out, nil
}

// RemoveOperator drops a principal from the operator set. Authority only.
// The current authority is never removable; removing an absent principal is
// a no-op.
func (e *Engine) RemoveOperator(ctx context.Context, caller, target solana.PublicKey) (*State, error) {
	var out *State
	err := e.store.Update(ctx, func(ctx context.Context, tx Tx) error {
		state, err := tx.State(ctx)
		if err != nil {
			return err
		}
		if !state.Authority.Equals(caller) {
			return ErrUnauthorized
		}
		if target.Equals(state.Authority) {
			return ErrCannotRemoveAuthority
		}
		kept := state.Operators[:0]
		for _, op := range state.Operators {
			if !op.Equals(target) {
				kept = append(kept, op)
			}
		}
		if len(kept) != len(state.Operators) {
			state.Operators = kept
			if err := tx.SaveState(ctx, state); err != nil {
				return err
			}
		}
		out = state.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("dispenser: operator removed", "operator", target, "count", len(out.Operators))
	return out, nil
}

// TransferAuthority nominates a new authority. Authority only. The current
// authority keeps its role until the nominee accepts; a later nomination
// overwrites an earlier one.
func (e *Engine) TransferAuthority(ctx context.Context, caller, newAuthority solana.PublicKey) (*State, error) {
	var out *State
	err := e.store.Update(ctx, func(ctx context.Context, tx Tx) error {
		state, err := tx.State(ctx)
		if err != nil {
			return err
		}
		if !state.Authority.Equals(caller) {
			return ErrUnauthorized
		}
		state.PendingAuthority = &newAuthority
		if err := tx.SaveState(ctx, state); err != nil {
			return err
		}
		out = state.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("dispenser: authority transfer proposed", "from", caller, "to", newAuthority)
	return out, nil
}

// AcceptAuthority completes a pending transfer. Only the nominated principal
// may call it. The outgoing authority's slot in the operator set is handed to
// the new authority unless the new authority is already an operator, in which
// case the outgoing authority stays on as a plain (and now removable)
// operator.
func (e *Engine) AcceptAuthority(ctx context.Context, caller solana.PublicKey) (*State, error) {
	var out *State
	err := e.store.Update(ctx, func(ctx context.Context, tx Tx) error {
		state, err := tx.State(ctx)
		if err != nil {
			return err
		}
		if state.PendingAuthority == nil {
			return ErrNoPendingTransfer
		}
		pending := *state.PendingAuthority
		if !pending.Equals(caller) {
			return ErrUnauthorized
		}

		if !state.IsOperator(pending) {
			replaced := false
			for i, op := range state.Operators {
				if op.Equals(state.Authority) {
					state.Operators[i] = pending
					replaced = true
					break
				}
			}
			if !replaced {
				state.Operators = append(state.Operators, pending)
			}
		}

		state.Authority = pending
		state.PendingAuthority = nil
		if err := tx.SaveState(ctx, state); err != nil {
			return err
		}
		out = state.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("dispenser: authority transferred", "authority", out.Authority)
	return out, nil
}

// CancelTransfer clears any pending nomination. Authority only. Cancelling
// when nothing is pending is a harmless no-op.
func (e *Engine) CancelTransfer(ctx context.Context, caller solana.PublicKey) (*State, error) {
	var out *State
	err := e.store.Update(ctx, func(ctx context.Context, tx Tx) error {
		state, err := tx.State(ctx)
		if err != nil {
			return err
		}
		if !state.Authority.Equals(caller) {
			return ErrUnauthorized
		}
		if state.PendingAuthority != nil {
			state.PendingAuthority = nil
			if err := tx.SaveState(ctx, state); err != nil {
				return err
			}
		}
		out = state.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("dispenser: authority transfer cancelled", "authority", caller)
	return out, nil
}

// AddRecipient queues a distribution under a caller-chosen contribution ID.
// Operator only. No funds move; the record is created in Queued status and
// total_queued grows by amount. A reused contribution ID is rejected with
// ErrDistributionExists and leaves the first record untouched.
func (e *Engine) AddRecipient(ctx context.Context, caller solana.PublicKey, contributionID string, recipient solana.PublicKey, amount uint64) (*Distribution, error) {
	if contributionID == "" || len(contributionID) > MaxContributionIDLen {
		return nil, ErrInvalidContributionID
	}

	var out *Distribution
	err := e.store.Update(ctx, func(ctx context.Context, tx Tx) error {
		state, err := tx.State(ctx)
		if err != nil {
			return err
		}
		if !state.IsOperator(caller) {
			return ErrUnauthorized
		}
		if amount == 0 {
			return ErrInvalidAmount
		}

		state.TotalQueued, err = checkedAdd(state.TotalQueued, amount)
		if err != nil {
			return err
		}

		dist := &Distribution{
			ContributionID: contributionID,
			Recipient:      recipient,
			Amount:         amount,
			Status:         StatusQueued,
			QueuedAt:       e.clock.Now().UTC(),
		}
		if err := tx.CreateDistribution(ctx, dist); err != nil {
			return err
		}
		if err := tx.SaveState(ctx, state); err != nil {
			return err
		}
		out = dist.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("dispenser: queued", "contribution_id", contributionID, "recipient", recipient, "amount", amount)
	return out, nil
}

// Distribute executes a queued distribution: after the vault, mint, and
// recipient bindings all check out, exactly amount moves from the vault to
// the recipient token account, the record becomes Distributed, and
// total_distributed grows by amount. total_queued is intentionally left
// alone (see State).
func (e *Engine) Distribute(ctx context.Context, caller solana.PublicKey, contributionID string, vault, recipientTokenAccount, mint solana.PublicKey) (*Distribution, error) {
	var out *Distribution
	err := e.store.Update(ctx, func(ctx context.Context, tx Tx) error {
		state, err := tx.State(ctx)
		if err != nil {
			return err
		}
		if !state.IsOperator(caller) {
			return ErrUnauthorized
		}

		dist, err := tx.Distribution(ctx, contributionID)
		if err != nil {
			return err
		}
		if !dist.Status.CanTransitionTo(StatusDistributed) {
			return ErrAlreadyDistributed
		}

		if !vault.Equals(state.Vault) {
			return ErrVaultMismatch
		}
		if !mint.Equals(state.Mint) {
			return ErrMintMismatch
		}
		vaultAcct, err := e.ledger.Account(ctx, vault)
		if err != nil {
			return fmt.Errorf("failed to load vault account: %w", err)
		}
		if !vaultAcct.Mint.Equals(state.Mint) {
			return ErrMintMismatch
		}
		recipientAcct, err := e.ledger.Account(ctx, recipientTokenAccount)
		if err != nil {
			return fmt.Errorf("failed to load recipient token account: %w", err)
		}
		if !recipientAcct.Mint.Equals(state.Mint) {
			return ErrMintMismatch
		}
		// The anti-drain check: a token account that merely shares the mint
		// is not good enough, it must belong to the queued recipient.
		if !recipientAcct.Owner.Equals(dist.Recipient) {
			return ErrRecipientMismatch
		}

		if err := e.ledger.Transfer(ctx, vault, recipientTokenAccount, mint, dist.Amount); err != nil {
			return fmt.Errorf("failed to transfer from vault: %w", err)
		}

		now := e.clock.Now().UTC()
		dist.Status = StatusDistributed
		dist.DistributedAt = &now

		state.TotalDistributed, err = checkedAdd(state.TotalDistributed, dist.Amount)
		if err != nil {
			return err
		}

		if err := tx.SaveDistribution(ctx, dist); err != nil {
			return err
		}
		if err := tx.SaveState(ctx, state); err != nil {
			return err
		}
		out = dist.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("dispenser: distributed", "contribution_id", contributionID, "recipient", out.Recipient, "amount", out.Amount)
	return out, nil
}

// Cancel abandons a queued distribution. Operator only. No funds move;
// total_cancelled grows by amount and total_queued shrinks by it, both
// checked.
func (e *Engine) Cancel(ctx context.Context, caller solana.PublicKey, contributionID string) (*Distribution, error) {
	var out *Distribution
	err := e.store.Update(ctx, func(ctx context.Context, tx Tx) error {
		state, err := tx.State(ctx)
		if err != nil {
			return err
		}
		if !state.IsOperator(caller) {
			return ErrUnauthorized
		}

		dist, err := tx.Distribution(ctx, contributionID)
		if err != nil {
			return err
		}
		if !dist.Status.CanTransitionTo(StatusCancelled) {
			return ErrNotQueued
		}

		dist.Status = StatusCancelled

		state.TotalQueued, err = checkedSub(state.TotalQueued, dist.Amount)
		if err != nil {
			return err
		}
		state.TotalCancelled, err = checkedAdd(state.TotalCancelled, dist.Amount)
		if err != nil {
			return err
		}

		if err := tx.SaveDistribution(ctx, dist); err != nil {
			return err
		}
		if err := tx.SaveState(ctx, state); err != nil {
			return err
		}
		out = dist.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("dispenser: cancelled", "contribution_id", contributionID, "amount", out.Amount)
	return out, nil
}

// State returns a read-only snapshot of the singleton state.
func (e *Engine) State(ctx context.Context) (*State, error) {
	return e.store.GetState(ctx)
}

// Distribution returns a read-only snapshot of one record.
func (e *Engine) Distribution(ctx context.Context, contributionID string) (*Distribution, error) {
	return e.store.GetDistribution(ctx, contributionID)
}

// Distributions returns up to limit records, newest first.
func (e *Engine) Distributions(ctx context.Context, limit int) ([]*Distribution, error) {
	return e.store.ListDistributions(ctx, limit)
}
