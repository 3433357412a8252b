package server

import (
	"crypto/ed25519"
	"encoding/base64"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
)

func TestDispenser_Server_VerifyEd25519Signature(t *testing.T) {
	t.Parallel()

	wallet := solana.NewWallet()
	message := []byte(`{"contribution_id":"contrib-1"}`)
	signature := ed25519.Sign(ed25519.PrivateKey(wallet.PrivateKey), message)

	t.Run("valid signature verifies", func(t *testing.T) {
		t.Parallel()
		ok, err := verifyEd25519Signature(
			wallet.PublicKey().String(),
			message,
			base64.StdEncoding.EncodeToString(signature),
		)
		require.NoError(t, err)
		require.True(t, ok)
	})

	t.Run("url-safe base64 is accepted", func(t *testing.T) {
		t.Parallel()
		ok, err := verifyEd25519Signature(
			wallet.PublicKey().String(),
			message,
			base64.URLEncoding.EncodeToString(signature),
		)
		require.NoError(t, err)
		require.True(t, ok)
	})

	t.Run("different message does not verify", func(t *testing.T) {
		t.Parallel()
		ok, err := verifyEd25519Signature(
			wallet.PublicKey().String(),
			[]byte("something else"),
			base64.StdEncoding.EncodeToString(signature),
		)
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("wrong key does not verify", func(t *testing.T) {
		t.Parallel()
		ok, err := verifyEd25519Signature(
			solana.NewWallet().PublicKey().String(),
			message,
			base64.StdEncoding.EncodeToString(signature),
		)
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("malformed inputs error", func(t *testing.T) {
		t.Parallel()
		_, err := verifyEd25519Signature("not base58 at all!!", message, base64.StdEncoding.EncodeToString(signature))
		require.Error(t, err)

		_, err = verifyEd25519Signature(wallet.PublicKey().String(), message, "not base64 at all!!")
		require.Error(t, err)

		_, err = verifyEd25519Signature(wallet.PublicKey().String(), message, base64.StdEncoding.EncodeToString([]byte("short")))
		require.Error(t, err)
	})
}
