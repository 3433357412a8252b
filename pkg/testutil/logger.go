// Package testutil holds the helpers dispenser tests share: a quiet logger
// and a PostgreSQL testcontainer harness.
package testutil

import (
	"log/slog"
	"os"
)

// NewLogger returns a logger that stays silent unless a test run opts into
// output with DEBUG=1 (info) or DEBUG=2 (debug, with source locations).
// Errors always surface so a failing instruction is visible in test output.
func NewLogger() *slog.Logger {
	level := slog.LevelError
	addSource := false
	switch os.Getenv("DEBUG") {
	case "2", "debug":
		level = slog.LevelDebug
		addSource = true
	case "1", "info":
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level:     level,
		AddSource: addSource,
	}))
}
