package server

import (
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/moltlabs/dispenser/pkg/audit"
	"github.com/moltlabs/dispenser/pkg/dispenser"
)

// VersionInfo contains build-time version information.
type VersionInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

type Config struct {
	Logger            *slog.Logger
	Engine            *dispenser.Engine
	ListenAddr        string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	VersionInfo       VersionInfo

	// Audit defaults to audit.NopRecorder.
	Audit audit.Recorder

	// AllowedOrigins configures CORS for browser dashboards. Empty disables
	// cross-origin access.
	AllowedOrigins []string

	// RateLimit caps instruction submission per caller IP. Defaults to
	// 100/minute with a burst of 20.
	RateLimit      rate.Limit
	RateLimitBurst int
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Engine == nil {
		return errors.New("engine is required")
	}
	if cfg.ListenAddr == "" {
		return errors.New("listen addr is required")
	}
	if cfg.ReadHeaderTimeout == 0 {
		cfg.ReadHeaderTimeout = 10 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Audit == nil {
		cfg.Audit = audit.NopRecorder{}
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = rate.Every(time.Minute / 100)
	}
	if cfg.RateLimitBurst == 0 {
		cfg.RateLimitBurst = 20
	}
	return nil
}
