package testutil_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/moltlabs/dispenser/pkg/testutil"
)

func TestDispenser_TestLogger_Levels(t *testing.T) {
	ctx := context.Background()

	t.Run("quiet by default", func(t *testing.T) {
		t.Setenv("DEBUG", "")
		log := testutil.NewLogger()
		require.False(t, log.Enabled(ctx, slog.LevelInfo))
		require.True(t, log.Enabled(ctx, slog.LevelError))
	})

	t.Run("DEBUG=1 enables info", func(t *testing.T) {
		t.Setenv("DEBUG", "1")
		log := testutil.NewLogger()
		require.True(t, log.Enabled(ctx, slog.LevelInfo))
		require.False(t, log.Enabled(ctx, slog.LevelDebug))
	})

	t.Run("DEBUG=2 enables debug", func(t *testing.T) {
		t.Setenv("DEBUG", "2")
		log := testutil.NewLogger()
		require.True(t, log.Enabled(ctx, slog.LevelDebug))
	})
}
