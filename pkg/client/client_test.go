package client_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	"github.com/moltlabs/dispenser/pkg/client"
	"github.com/moltlabs/dispenser/pkg/dispenser"
	"github.com/moltlabs/dispenser/pkg/server"
	"github.com/moltlabs/dispenser/pkg/store/memory"
	"github.com/moltlabs/dispenser/pkg/testutil"
	"github.com/moltlabs/dispenser/pkg/vault"
)

type clientEnv struct {
	ledger *vault.MemoryLedger
	mint   solana.PublicKey
	vault  solana.PublicKey
	url    string
}

func newClientEnv(t *testing.T, vaultBalance uint64) *clientEnv {
	t.Helper()

	ledger := vault.NewMemoryLedger()
	mint := solana.NewWallet().PublicKey()
	vaultAddr := ledger.CreateAccount(solana.NewWallet().PublicKey(), mint, vaultBalance)

	engine, err := dispenser.New(dispenser.Config{
		Logger: testutil.NewLogger(),
		Store:  memory.New(),
		Ledger: ledger,
	})
	require.NoError(t, err)

	srv, err := server.New(server.Config{
		Logger:     testutil.NewLogger(),
		Engine:     engine,
		ListenAddr: "127.0.0.1:0",
	})
	require.NoError(t, err)

	httpSrv := httptest.NewServer(srv.Handler())
	t.Cleanup(httpSrv.Close)

	return &clientEnv{
		ledger: ledger,
		mint:   mint,
		vault:  vaultAddr,
		url:    httpSrv.URL,
	}
}

func (env *clientEnv) newClient(t *testing.T, signer solana.PrivateKey) *client.Client {
	t.Helper()
	c, err := client.New(client.Config{
		BaseURL: env.url,
		Signer:  signer,
	})
	require.NoError(t, err)
	return c
}

func TestDispenser_Client_EndToEnd(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	env := newClientEnv(t, 1_000_000)
	authority := env.newClient(t, solana.NewWallet().PrivateKey)

	state, err := authority.Initialize(ctx, env.mint, env.vault)
	require.NoError(t, err)
	require.Equal(t, authority.Caller().String(), state.Authority)

	owner := solana.NewWallet().PublicKey()
	recipientAcct := env.ledger.CreateAccount(owner, env.mint, 0)

	dist, err := authority.AddRecipient(ctx, "contrib-1", owner, 300)
	require.NoError(t, err)
	require.Equal(t, "queued", dist.Status)
	require.Equal(t, uint64(300), dist.Amount)

	dist, err = authority.Distribute(ctx, "contrib-1", env.vault, recipientAcct, env.mint)
	require.NoError(t, err)
	require.Equal(t, "distributed", dist.Status)
	require.NotNil(t, dist.DistributedAt)

	got, err := authority.Distribution(ctx, "contrib-1")
	require.NoError(t, err)
	require.Equal(t, "distributed", got.Status)

	state, err = authority.State(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(300), state.TotalDistributed)

	dists, err := authority.Distributions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dists, 1)
}

func TestDispenser_Client_Errors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("rejections surface the error code without retrying", func(t *testing.T) {
		t.Parallel()
		env := newClientEnv(t, 1_000_000)
		authority := env.newClient(t, solana.NewWallet().PrivateKey)
		outsider := env.newClient(t, solana.NewWallet().PrivateKey)

		_, err := authority.Initialize(ctx, env.mint, env.vault)
		require.NoError(t, err)

		_, err = outsider.AddOperator(ctx, solana.NewWallet().PublicKey())
		var apiErr *client.APIError
		require.ErrorAs(t, err, &apiErr)
		require.Equal(t, 403, apiErr.Status)
		require.Equal(t, "unauthorized", apiErr.Code)
	})

	t.Run("conflict on duplicate contribution id", func(t *testing.T) {
		t.Parallel()
		env := newClientEnv(t, 1_000_000)
		authority := env.newClient(t, solana.NewWallet().PrivateKey)
		_, err := authority.Initialize(ctx, env.mint, env.vault)
		require.NoError(t, err)

		recipient := solana.NewWallet().PublicKey()
		_, err = authority.AddRecipient(ctx, "contrib-dup", recipient, 5)
		require.NoError(t, err)
		_, err = authority.AddRecipient(ctx, "contrib-dup", recipient, 5)

		var apiErr *client.APIError
		require.ErrorAs(t, err, &apiErr)
		require.Equal(t, "distribution_exists", apiErr.Code)
	})

	t.Run("mutating call without a signer fails locally", func(t *testing.T) {
		t.Parallel()
		env := newClientEnv(t, 0)
		c, err := client.New(client.Config{BaseURL: env.url})
		require.NoError(t, err)

		_, err = c.AcceptAuthority(ctx)
		require.ErrorContains(t, err, "signer is required")

		// Reads still work unsigned.
		_, err = c.State(ctx)
		var apiErr *client.APIError
		require.ErrorAs(t, err, &apiErr)
		require.Equal(t, "state_not_found", apiErr.Code)
	})
}

func TestDispenser_Client_ContributionID(t *testing.T) {
	t.Parallel()

	sender := solana.NewWallet().PublicKey()

	id := client.ContributionID(sender, 0)
	require.True(t, strings.HasPrefix(id, "bootstrap-"))
	require.True(t, strings.HasSuffix(id, "-0"))
	require.Contains(t, id, sender.String()[:16])
	require.LessOrEqual(t, len(id), dispenser.MaxContributionIDLen)

	// Deterministic, and distinct per count.
	require.Equal(t, id, client.ContributionID(sender, 0))
	require.NotEqual(t, id, client.ContributionID(sender, 1))
}
