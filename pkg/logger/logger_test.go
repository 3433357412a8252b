package logger_test

import (
	"bytes"
	"context"
	"log/slog"
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/moltlabs/dispenser/pkg/logger"
)

func TestDispenser_Logger(t *testing.T) {
	t.Setenv("NO_COLOR", "1")

	t.Run("default level is info", func(t *testing.T) {
		var buf bytes.Buffer
		log := logger.NewWithWriter(&buf, false)

		require.False(t, log.Enabled(context.Background(), slog.LevelDebug))
		log.Debug("hidden")
		log.Info("shown")

		out := buf.String()
		require.NotContains(t, out, "hidden")
		require.Contains(t, out, "shown")
	})

	t.Run("verbose enables debug", func(t *testing.T) {
		var buf bytes.Buffer
		log := logger.NewWithWriter(&buf, true)

		log.Debug("visible")
		require.Contains(t, buf.String(), "visible")
	})

	t.Run("tags every record with the service", func(t *testing.T) {
		var buf bytes.Buffer
		log := logger.NewWithWriter(&buf, false)

		log.Info("hello")
		require.Contains(t, buf.String(), "service=dispenser")
	})

	t.Run("timestamps are millisecond utc", func(t *testing.T) {
		var buf bytes.Buffer
		log := logger.NewWithWriter(&buf, false)

		log.Info("stamped")
		require.Regexp(t, regexp.MustCompile(`\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{3}Z`), buf.String())
	})

	t.Run("empty string attrs are dropped", func(t *testing.T) {
		var buf bytes.Buffer
		log := logger.NewWithWriter(&buf, false)

		log.Info("record", "blank", "", "kept", "value")
		out := buf.String()
		require.NotContains(t, out, "blank=")
		require.Contains(t, out, "kept=value")
	})
}
