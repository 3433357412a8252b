package dispenser

import (
	"math"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
)

func TestDispenser_Status_Transitions(t *testing.T) {
	t.Parallel()

	require.True(t, StatusQueued.CanTransitionTo(StatusDistributed))
	require.True(t, StatusQueued.CanTransitionTo(StatusCancelled))

	// Terminal states admit nothing, including each other.
	for _, from := range []Status{StatusDistributed, StatusCancelled} {
		for _, to := range []Status{StatusQueued, StatusDistributed, StatusCancelled} {
			require.False(t, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
	require.False(t, StatusQueued.CanTransitionTo(StatusQueued))

	require.True(t, StatusQueued.Valid())
	require.False(t, Status("pending").Valid())
	require.False(t, StatusQueued.Terminal())
	require.True(t, StatusDistributed.Terminal())
	require.True(t, StatusCancelled.Terminal())
}

func TestDispenser_CheckedMath(t *testing.T) {
	t.Parallel()

	sum, err := checkedAdd(math.MaxUint64-1, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(math.MaxUint64), sum)

	_, err = checkedAdd(math.MaxUint64, 1)
	require.ErrorIs(t, err, ErrOverflow)

	diff, err := checkedSub(5, 5)
	require.NoError(t, err)
	require.Zero(t, diff)

	_, err = checkedSub(5, 6)
	require.ErrorIs(t, err, ErrOverflow)
}

func TestDispenser_State_Clone(t *testing.T) {
	t.Parallel()

	pending := solana.NewWallet().PublicKey()
	state := &State{
		Authority:        solana.NewWallet().PublicKey(),
		PendingAuthority: &pending,
		Operators:        []solana.PublicKey{solana.NewWallet().PublicKey()},
		TotalQueued:      42,
	}

	clone := state.Clone()
	clone.Operators[0] = solana.NewWallet().PublicKey()
	*clone.PendingAuthority = solana.NewWallet().PublicKey()

	require.NotEqual(t, state.Operators[0], clone.Operators[0])
	require.Equal(t, pending, *state.PendingAuthority)
}
