package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	"github.com/moltlabs/dispenser/pkg/dispenser"
	"github.com/moltlabs/dispenser/pkg/store/memory"
)

func newDistribution(id string, amount uint64) *dispenser.Distribution {
	return &dispenser.Distribution{
		ContributionID: id,
		Recipient:      solana.NewWallet().PublicKey(),
		Amount:         amount,
		Status:         dispenser.StatusQueued,
		QueuedAt:       time.Now().UTC(),
	}
}

func TestDispenser_MemoryStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("state lifecycle", func(t *testing.T) {
		t.Parallel()
		s := memory.New()

		_, err := s.GetState(ctx)
		require.ErrorIs(t, err, dispenser.ErrStateNotFound)

		state := &dispenser.State{
			Authority: solana.NewWallet().PublicKey(),
		}
		state.Operators = []solana.PublicKey{state.Authority}
		err = s.Update(ctx, func(ctx context.Context, tx dispenser.Tx) error {
			return tx.CreateState(ctx, state)
		})
		require.NoError(t, err)

		got, err := s.GetState(ctx)
		require.NoError(t, err)
		require.Equal(t, state.Authority, got.Authority)

		err = s.Update(ctx, func(ctx context.Context, tx dispenser.Tx) error {
			return tx.CreateState(ctx, state)
		})
		require.ErrorIs(t, err, dispenser.ErrStateExists)
	})

	t.Run("rollback on error leaves nothing behind", func(t *testing.T) {
		t.Parallel()
		s := memory.New()
		boom := errors.New("boom")

		err := s.Update(ctx, func(ctx context.Context, tx dispenser.Tx) error {
			if err := tx.CreateState(ctx, &dispenser.State{}); err != nil {
				return err
			}
			if err := tx.CreateDistribution(ctx, newDistribution("contrib-1", 10)); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		_, err = s.GetState(ctx)
		require.ErrorIs(t, err, dispenser.ErrStateNotFound)
		_, err = s.GetDistribution(ctx, "contrib-1")
		require.ErrorIs(t, err, dispenser.ErrDistributionNotFound)
	})

	t.Run("duplicate contribution id within one transaction", func(t *testing.T) {
		t.Parallel()
		s := memory.New()

		err := s.Update(ctx, func(ctx context.Context, tx dispenser.Tx) error {
			if err := tx.CreateDistribution(ctx, newDistribution("contrib-dup", 1)); err != nil {
				return err
			}
			return tx.CreateDistribution(ctx, newDistribution("contrib-dup", 2))
		})
		require.ErrorIs(t, err, dispenser.ErrDistributionExists)
	})

	t.Run("reads inside a transaction see staged writes", func(t *testing.T) {
		t.Parallel()
		s := memory.New()

		err := s.Update(ctx, func(ctx context.Context, tx dispenser.Tx) error {
			if err := tx.CreateDistribution(ctx, newDistribution("contrib-1", 5)); err != nil {
				return err
			}
			d, err := tx.Distribution(ctx, "contrib-1")
			require.NoError(t, err)
			require.Equal(t, uint64(5), d.Amount)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("save rejects unknown records", func(t *testing.T) {
		t.Parallel()
		s := memory.New()

		err := s.Update(ctx, func(ctx context.Context, tx dispenser.Tx) error {
			return tx.SaveDistribution(ctx, newDistribution("contrib-ghost", 1))
		})
		require.ErrorIs(t, err, dispenser.ErrDistributionNotFound)

		err = s.Update(ctx, func(ctx context.Context, tx dispenser.Tx) error {
			return tx.SaveState(ctx, &dispenser.State{})
		})
		require.ErrorIs(t, err, dispenser.ErrStateNotFound)
	})

	t.Run("list returns newest first up to limit", func(t *testing.T) {
		t.Parallel()
		s := memory.New()

		for _, id := range []string{"contrib-a", "contrib-b", "contrib-c"} {
			err := s.Update(ctx, func(ctx context.Context, tx dispenser.Tx) error {
				return tx.CreateDistribution(ctx, newDistribution(id, 1))
			})
			require.NoError(t, err)
		}

		dists, err := s.ListDistributions(ctx, 2)
		require.NoError(t, err)
		require.Len(t, dists, 2)
		require.Equal(t, "contrib-c", dists[0].ContributionID)
		require.Equal(t, "contrib-b", dists[1].ContributionID)
	})

	t.Run("snapshots are isolated from callers", func(t *testing.T) {
		t.Parallel()
		s := memory.New()

		err := s.Update(ctx, func(ctx context.Context, tx dispenser.Tx) error {
			return tx.CreateDistribution(ctx, newDistribution("contrib-iso", 7))
		})
		require.NoError(t, err)

		d, err := s.GetDistribution(ctx, "contrib-iso")
		require.NoError(t, err)
		d.Amount = 9999

		again, err := s.GetDistribution(ctx, "contrib-iso")
		require.NoError(t, err)
		require.Equal(t, uint64(7), again.Amount)
	})
}
