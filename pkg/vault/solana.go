// Package vault implements the token custody boundary: account introspection
// and vault debits. The Solana executor moves real SPL tokens; the memory
// ledger stands in for it in tests and local runs.
package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	solanarpc "github.com/gagliardetto/solana-go/rpc"

	"github.com/moltlabs/dispenser/pkg/dispenser"
	"github.com/moltlabs/dispenser/pkg/retry"
)

type SolanaLedgerConfig struct {
	Logger *slog.Logger
	RPC    *solanarpc.Client
	// Signer is the custody key that owns the vault token account.
	Signer solana.PrivateKey
	// Retry defaults to retry.DefaultConfig().
	Retry retry.Config
	// ConfirmTimeout bounds how long Transfer waits for the transaction to
	// confirm. Defaults to 60s.
	ConfirmTimeout time.Duration
}

func (cfg *SolanaLedgerConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.RPC == nil {
		return errors.New("rpc client is required")
	}
	if cfg.Signer == nil {
		return errors.New("signer is required")
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	if cfg.ConfirmTimeout == 0 {
		cfg.ConfirmTimeout = 60 * time.Second
	}
	return nil
}

// SolanaLedger executes vault debits as SPL-token transfer_checked
// transactions signed by the custody key.
type SolanaLedger struct {
	log *slog.Logger
	cfg SolanaLedgerConfig
}

func NewSolanaLedger(cfg SolanaLedgerConfig) (*SolanaLedger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &SolanaLedger{
		log: cfg.Logger,
		cfg: cfg,
	}, nil
}

func (l *SolanaLedger) Account(ctx context.Context, addr solana.PublicKey) (*dispenser.TokenAccount, error) {
	var acct token.Account
	err := retry.Do(ctx, l.cfg.Retry, func() error {
		info, err := l.cfg.RPC.GetAccountInfo(ctx, addr)
		if err != nil {
			return fmt.Errorf("failed to get account info for %s: %w", addr, err)
		}
		if info.Value == nil {
			return fmt.Errorf("token account %s not found", addr)
		}
		if err := bin.NewBinDecoder(info.Value.Data.GetBinary()).Decode(&acct); err != nil {
			return fmt.Errorf("failed to decode token account %s: %w", addr, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &dispenser.TokenAccount{
		Address: addr,
		Owner:   acct.Owner,
		Mint:    acct.Mint,
		Balance: acct.Amount,
	}, nil
}

func (l *SolanaLedger) Transfer(ctx context.Context, from, to, mint solana.PublicKey, amount uint64) error {
	decimals, err := l.mintDecimals(ctx, mint)
	if err != nil {
		return err
	}

	var sig solana.Signature
	err = retry.Do(ctx, l.cfg.Retry, func() error {
		recent, err := l.cfg.RPC.GetLatestBlockhash(ctx, solanarpc.CommitmentFinalized)
		if err != nil {
			return fmt.Errorf("failed to get latest blockhash: %w", err)
		}

		ix := token.NewTransferCheckedInstruction(
			amount,
			decimals,
			from,
			mint,
			to,
			l.cfg.Signer.PublicKey(),
			nil,
		).Build()

		tx, err := solana.NewTransaction(
			[]solana.Instruction{ix},
			recent.Value.Blockhash,
			solana.TransactionPayer(l.cfg.Signer.PublicKey()),
		)
		if err != nil {
			return fmt.Errorf("failed to build transaction: %w", err)
		}

		if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
			if key.Equals(l.cfg.Signer.PublicKey()) {
				return &l.cfg.Signer
			}
			return nil
		}); err != nil {
			return fmt.Errorf("failed to sign transaction: %w", err)
		}

		sig, err = l.cfg.RPC.SendTransactionWithOpts(ctx, tx, solanarpc.TransactionOpts{
			PreflightCommitment: solanarpc.CommitmentConfirmed,
		})
		if err != nil {
			return fmt.Errorf("failed to send transaction: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	l.log.Info("vault: transfer sent", "signature", sig, "from", from, "to", to, "amount", amount)
	return l.awaitConfirmation(ctx, sig)
}

func (l *SolanaLedger) mintDecimals(ctx context.Context, mint solana.PublicKey) (uint8, error) {
	var decimals uint8
	err := retry.Do(ctx, l.cfg.Retry, func() error {
		supply, err := l.cfg.RPC.GetTokenSupply(ctx, mint, solanarpc.CommitmentFinalized)
		if err != nil {
			return fmt.Errorf("failed to get token supply for mint %s: %w", mint, err)
		}
		decimals = supply.Value.Decimals
		return nil
	})
	return decimals, err
}

func (l *SolanaLedger) awaitConfirmation(ctx context.Context, sig solana.Signature) error {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("transaction %s not confirmed: %w", sig, ctx.Err())
		case <-ticker.C:
			statuses, err := l.cfg.RPC.GetSignatureStatuses(ctx, false, sig)
			if err != nil {
				l.log.Debug("vault: signature status check failed", "signature", sig, "error", err)
				continue
			}
			if len(statuses.Value) == 0 || statuses.Value[0] == nil {
				continue
			}
			status := statuses.Value[0]
			if status.Err != nil {
				return fmt.Errorf("transaction %s failed on chain: %v", sig, status.Err)
			}
			switch status.ConfirmationStatus {
			case solanarpc.ConfirmationStatusConfirmed, solanarpc.ConfirmationStatusFinalized:
				l.log.Debug("vault: transfer confirmed", "signature", sig)
				return nil
			}
		}
	}
}
