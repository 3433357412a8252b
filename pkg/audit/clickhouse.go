package audit

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/google/uuid"
)

type ClickHouseConfig struct {
	Logger   *slog.Logger
	Addr     string
	Database string
	Username string
	Password string
	// Secure enables TLS (ClickHouse Cloud, port 9440).
	Secure bool
}

func (cfg *ClickHouseConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Addr == "" {
		return errors.New("clickhouse addr is required")
	}
	if cfg.Database == "" {
		cfg.Database = "default"
	}
	if cfg.Username == "" {
		cfg.Username = "default"
	}
	return nil
}

// ClickHouseRecorder writes events with async inserts; a sink failure is
// logged and dropped, never surfaced to the instruction path.
type ClickHouseRecorder struct {
	log  *slog.Logger
	conn driver.Conn
}

func NewClickHouseRecorder(ctx context.Context, cfg ClickHouseConfig) (*ClickHouseRecorder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	options := &clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 5 * time.Second,
	}
	if cfg.Secure {
		options.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open ClickHouse connection: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	r := &ClickHouseRecorder{log: cfg.Logger, conn: conn}
	if err := r.ensureSchema(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return r, nil
}

func (r *ClickHouseRecorder) ensureSchema(ctx context.Context) error {
	err := r.conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS dispenser_audit (
			event_id UUID,
			event_ts DateTime64(3, 'UTC'),
			instruction LowCardinality(String),
			caller String,
			contribution_id String,
			amount UInt64,
			outcome LowCardinality(String),
			error_code LowCardinality(String)
		)
		ENGINE = MergeTree()
		ORDER BY (event_ts, instruction)
	`)
	if err != nil {
		return fmt.Errorf("failed to create audit table: %w", err)
	}
	return nil
}

func (r *ClickHouseRecorder) Record(ctx context.Context, e Event) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	err := r.conn.AsyncInsert(ctx, `
		INSERT INTO dispenser_audit
			(event_id, event_ts, instruction, caller, contribution_id, amount, outcome, error_code)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		false,
		e.ID,
		e.Time.UTC(),
		e.Instruction,
		e.Caller,
		e.ContributionID,
		e.Amount,
		e.Outcome,
		e.ErrorCode,
	)
	if err != nil {
		r.log.Warn("audit: failed to record event", "instruction", e.Instruction, "error", err)
	}
}

func (r *ClickHouseRecorder) Close() error {
	return r.conn.Close()
}
