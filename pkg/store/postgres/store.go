// Package postgres persists the dispenser state machine in PostgreSQL. The
// chain runtime's serialized-account model maps onto an advisory transaction
// lock (one instruction at a time) and the primary key on contribution_id
// (first writer wins, the duplicate observes a clean rejection).
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/moltlabs/dispenser/pkg/dispenser"
)

// instructionLockKey is the advisory lock every instruction transaction
// takes, serializing instructions the way the chain runtime serialized
// access to the singleton state account.
const instructionLockKey = 0x64697370 // "disp"

const pgUniqueViolation = "23505"

type Config struct {
	Logger *slog.Logger
	Pool   *pgxpool.Pool
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Pool == nil {
		return errors.New("postgres pool is required")
	}
	return nil
}

type Store struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewStore(cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Store{
		log:  cfg.Logger,
		pool: cfg.Pool,
	}, nil
}

// Connect creates a pgx pool and verifies connectivity.
func Connect(ctx context.Context, connStr string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}
	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return pool, nil
}

func (s *Store) Update(ctx context.Context, fn func(ctx context.Context, tx dispenser.Tx) error) error {
	pgtx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		// No-op if the transaction committed.
		_ = pgtx.Rollback(context.WithoutCancel(ctx))
	}()

	if _, err := pgtx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, instructionLockKey); err != nil {
		return fmt.Errorf("failed to take instruction lock: %w", err)
	}

	if err := fn(ctx, &tx{tx: pgtx}); err != nil {
		return err
	}

	if err := pgtx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type tx struct {
	tx pgx.Tx
}

const stateColumns = `mint, vault, authority, pending_authority, operators,
	total_distributed, total_queued, total_cancelled`

func (t *tx) State(ctx context.Context) (*dispenser.State, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+stateColumns+` FROM dispenser_state WHERE id = 1`)
	return scanState(row)
}

func (t *tx) CreateState(ctx context.Context, s *dispenser.State) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO dispenser_state (id, `+stateColumns+`)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8)`,
		s.Mint.String(),
		s.Vault.String(),
		s.Authority.String(),
		encodeOptionalKey(s.PendingAuthority),
		encodeKeys(s.Operators),
		int64(s.TotalDistributed),
		int64(s.TotalQueued),
		int64(s.TotalCancelled),
	)
	if isUniqueViolation(err) {
		return dispenser.ErrStateExists
	}
	if err != nil {
		return fmt.Errorf("failed to insert dispenser state: %w", err)
	}
	return nil
}

func (t *tx) SaveState(ctx context.Context, s *dispenser.State) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE dispenser_state SET
			mint = $1,
			vault = $2,
			authority = $3,
			pending_authority = $4,
			operators = $5,
			total_distributed = $6,
			total_queued = $7,
			total_cancelled = $8,
			updated_at = now()
		WHERE id = 1`,
		s.Mint.String(),
		s.Vault.String(),
		s.Authority.String(),
		encodeOptionalKey(s.PendingAuthority),
		encodeKeys(s.Operators),
		int64(s.TotalDistributed),
		int64(s.TotalQueued),
		int64(s.TotalCancelled),
	)
	if err != nil {
		return fmt.Errorf("failed to update dispenser state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return dispenser.ErrStateNotFound
	}
	return nil
}

const distributionColumns = `contribution_id, recipient, amount, status, queued_at, distributed_at`

func (t *tx) Distribution(ctx context.Context, contributionID string) (*dispenser.Distribution, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT `+distributionColumns+` FROM dispenser_distributions WHERE contribution_id = $1`,
		contributionID)
	return scanDistribution(row)
}

func (t *tx) CreateDistribution(ctx context.Context, d *dispenser.Distribution) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO dispenser_distributions (`+distributionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		d.ContributionID,
		d.Recipient.String(),
		int64(d.Amount),
		string(d.Status),
		d.QueuedAt,
		d.DistributedAt,
	)
	if isUniqueViolation(err) {
		return dispenser.ErrDistributionExists
	}
	if err != nil {
		return fmt.Errorf("failed to insert distribution: %w", err)
	}
	return nil
}

func (t *tx) SaveDistribution(ctx context.Context, d *dispenser.Distribution) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE dispenser_distributions SET
			recipient = $2,
			amount = $3,
			status = $4,
			queued_at = $5,
			distributed_at = $6
		WHERE contribution_id = $1`,
		d.ContributionID,
		d.Recipient.String(),
		int64(d.Amount),
		string(d.Status),
		d.QueuedAt,
		d.DistributedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update distribution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return dispenser.ErrDistributionNotFound
	}
	return nil
}

func (s *Store) GetState(ctx context.Context) (*dispenser.State, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+stateColumns+` FROM dispenser_state WHERE id = 1`)
	return scanState(row)
}

func (s *Store) GetDistribution(ctx context.Context, contributionID string) (*dispenser.Distribution, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+distributionColumns+` FROM dispenser_distributions WHERE contribution_id = $1`,
		contributionID)
	return scanDistribution(row)
}

func (s *Store) ListDistributions(ctx context.Context, limit int) ([]*dispenser.Distribution, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+distributionColumns+` FROM dispenser_distributions ORDER BY queued_at DESC LIMIT $1`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query distributions: %w", err)
	}
	defer rows.Close()

	var out []*dispenser.Distribution
	for rows.Next() {
		d, err := scanDistribution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanState(row rowScanner) (*dispenser.State, error) {
	var (
		mint, vault, authority                       string
		pendingAuthority                             *string
		operators                                    []string
		totalDistributed, totalQueued, totalCanceled int64
	)
	err := row.Scan(&mint, &vault, &authority, &pendingAuthority, &operators,
		&totalDistributed, &totalQueued, &totalCanceled)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, dispenser.ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan dispenser state: %w", err)
	}

	state := &dispenser.State{
		TotalDistributed: uint64(totalDistributed),
		TotalQueued:      uint64(totalQueued),
		TotalCancelled:   uint64(totalCanceled),
	}
	if state.Mint, err = solana.PublicKeyFromBase58(mint); err != nil {
		return nil, fmt.Errorf("failed to decode mint: %w", err)
	}
	if state.Vault, err = solana.PublicKeyFromBase58(vault); err != nil {
		return nil, fmt.Errorf("failed to decode vault: %w", err)
	}
	if state.Authority, err = solana.PublicKeyFromBase58(authority); err != nil {
		return nil, fmt.Errorf("failed to decode authority: %w", err)
	}
	if pendingAuthority != nil {
		pk, err := solana.PublicKeyFromBase58(*pendingAuthority)
		if err != nil {
			return nil, fmt.Errorf("failed to decode pending authority: %w", err)
		}
		state.PendingAuthority = &pk
	}
	state.Operators = make([]solana.PublicKey, 0, len(operators))
	for _, op := range operators {
		pk, err := solana.PublicKeyFromBase58(op)
		if err != nil {
			return nil, fmt.Errorf("failed to decode operator: %w", err)
		}
		state.Operators = append(state.Operators, pk)
	}
	return state, nil
}

func scanDistribution(row rowScanner) (*dispenser.Distribution, error) {
	var (
		contributionID, recipient, status string
		amount                            int64
		queuedAt                          time.Time
		distributedAt                     *time.Time
	)
	err := row.Scan(&contributionID, &recipient, &amount, &status, &queuedAt, &distributedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, dispenser.ErrDistributionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan distribution: %w", err)
	}

	recipientKey, err := solana.PublicKeyFromBase58(recipient)
	if err != nil {
		return nil, fmt.Errorf("failed to decode recipient: %w", err)
	}
	return &dispenser.Distribution{
		ContributionID: contributionID,
		Recipient:      recipientKey,
		Amount:         uint64(amount),
		Status:         dispenser.Status(status),
		QueuedAt:       queuedAt.UTC(),
		DistributedAt:  distributedAt,
	}, nil
}

func encodeKeys(keys []solana.PublicKey) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.String()
	}
	return out
}

func encodeOptionalKey(key *solana.PublicKey) *string {
	if key == nil {
		return nil
	}
	s := key.String()
	return &s
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
