package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/moltlabs/dispenser/pkg/audit"
	"github.com/moltlabs/dispenser/pkg/dispenser"
	"github.com/moltlabs/dispenser/pkg/logger"
	"github.com/moltlabs/dispenser/pkg/metrics"
	"github.com/moltlabs/dispenser/pkg/server"
	"github.com/moltlabs/dispenser/pkg/store/memory"
	"github.com/moltlabs/dispenser/pkg/store/postgres"
	"github.com/moltlabs/dispenser/pkg/vault"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	verboseFlag     = pflag.BoolP("verbose", "v", false, "Enable verbose logging")
	showVersionFlag = pflag.Bool("version", false, "Print version and exit")

	listenAddrFlag  = pflag.String("listen-addr", ":8080", "API listen address")
	metricsAddrFlag = pflag.String("metrics-addr", ":2112", "Prometheus metrics listen address")
	corsOriginsFlag = pflag.StringSlice("cors-origins", nil, "Allowed CORS origins for browser dashboards")

	postgresConnFlag = pflag.String("postgres-conn", "", "PostgreSQL connection string (empty runs the in-memory store)")
	migrateFlag      = pflag.Bool("migrate", true, "Run schema migrations on startup")

	solanaRPCFlag    = pflag.String("solana-rpc", "", "Solana RPC endpoint (empty runs the in-memory ledger)")
	custodyKeyFlag   = pflag.String("custody-keypair", "", "Path to the vault custody keypair JSON file")
	confirmTimeout   = pflag.Duration("confirm-timeout", 60*time.Second, "How long to wait for transfer confirmation")
	localVaultOwner  = pflag.String("local-vault-owner", "", "In-memory ledger only: base58 owner of a pre-funded vault account")
	localVaultMint   = pflag.String("local-vault-mint", "", "In-memory ledger only: base58 mint of the pre-funded vault account")
	localVaultAmount = pflag.Uint64("local-vault-balance", 0, "In-memory ledger only: balance of the pre-funded vault account")

	clickhouseAddrFlag   = pflag.String("clickhouse-addr", "", "ClickHouse address for the audit trail (empty disables auditing)")
	clickhouseDBFlag     = pflag.String("clickhouse-database", "default", "ClickHouse database")
	clickhouseUserFlag   = pflag.String("clickhouse-username", "default", "ClickHouse username")
	clickhouseSecureFlag = pflag.Bool("clickhouse-secure", false, "Enable TLS for ClickHouse")
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()
	pflag.Parse()

	if *showVersionFlag {
		fmt.Printf("dispenser %s (commit %s, built %s)\n", version, commit, date)
		return nil
	}

	log := logger.New(*verboseFlag)
	log.Info("dispenser: starting", "version", version, "commit", commit)
	metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := buildStore(ctx, log)
	if err != nil {
		return err
	}
	defer closeStore()

	ledger, err := buildLedger(log)
	if err != nil {
		return err
	}

	recorder, err := buildAudit(ctx, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := recorder.Close(); err != nil {
			log.Warn("dispenser: failed to close audit recorder", "error", err)
		}
	}()

	engine, err := dispenser.New(dispenser.Config{
		Logger: log,
		Store:  store,
		Ledger: ledger,
	})
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	srv, err := server.New(server.Config{
		Logger:     log,
		Engine:     engine,
		ListenAddr: *listenAddrFlag,
		VersionInfo: server.VersionInfo{
			Version: version,
			Commit:  commit,
			Date:    date,
		},
		Audit:          recorder,
		AllowedOrigins: *corsOriginsFlag,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(ctx)
	})
	g.Go(func() error {
		return runMetricsServer(ctx, log, *metricsAddrFlag)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("dispenser: shutdown complete")
	return nil
}

func buildStore(ctx context.Context, log *slog.Logger) (dispenser.Store, func(), error) {
	if *postgresConnFlag == "" {
		log.Warn("dispenser: no postgres connection configured, using in-memory store")
		return memory.New(), func() {}, nil
	}

	if *migrateFlag {
		if err := postgres.RunMigrations(log, *postgresConnFlag); err != nil {
			return nil, nil, err
		}
	}

	pool, err := postgres.Connect(ctx, *postgresConnFlag)
	if err != nil {
		return nil, nil, err
	}
	store, err := postgres.NewStore(postgres.Config{Logger: log, Pool: pool})
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	log.Info("dispenser: connected to postgres")
	return store, pool.Close, nil
}

func buildLedger(log *slog.Logger) (dispenser.Ledger, error) {
	if *solanaRPCFlag == "" {
		log.Warn("dispenser: no solana rpc configured, using in-memory ledger")
		ledger := vault.NewMemoryLedger()
		if *localVaultOwner != "" {
			owner, err := solana.PublicKeyFromBase58(*localVaultOwner)
			if err != nil {
				return nil, fmt.Errorf("failed to parse local vault owner: %w", err)
			}
			mint, err := solana.PublicKeyFromBase58(*localVaultMint)
			if err != nil {
				return nil, fmt.Errorf("failed to parse local vault mint: %w", err)
			}
			addr := ledger.CreateAccount(owner, mint, *localVaultAmount)
			log.Info("dispenser: pre-funded local vault", "address", addr, "balance", *localVaultAmount)
		}
		return ledger, nil
	}

	if *custodyKeyFlag == "" {
		return nil, errors.New("custody keypair is required when solana rpc is configured")
	}
	signer, err := solana.PrivateKeyFromSolanaKeygenFile(*custodyKeyFlag)
	if err != nil {
		return nil, fmt.Errorf("failed to load custody keypair: %w", err)
	}

	ledger, err := vault.NewSolanaLedger(vault.SolanaLedgerConfig{
		Logger:         log,
		RPC:            solanarpc.New(*solanaRPCFlag),
		Signer:         signer,
		ConfirmTimeout: *confirmTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create solana ledger: %w", err)
	}
	log.Info("dispenser: solana ledger configured", "rpc", *solanaRPCFlag, "custody", signer.PublicKey())
	return ledger, nil
}

func buildAudit(ctx context.Context, log *slog.Logger) (audit.Recorder, error) {
	if *clickhouseAddrFlag == "" {
		return audit.NopRecorder{}, nil
	}
	recorder, err := audit.NewClickHouseRecorder(ctx, audit.ClickHouseConfig{
		Logger:   log,
		Addr:     *clickhouseAddrFlag,
		Database: *clickhouseDBFlag,
		Username: *clickhouseUserFlag,
		Password: os.Getenv("CLICKHOUSE_PASSWORD"),
		Secure:   *clickhouseSecureFlag,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create audit recorder: %w", err)
	}
	log.Info("dispenser: audit trail enabled", "addr", *clickhouseAddrFlag)
	return recorder, nil
}

func runMetricsServer(ctx context.Context, log *slog.Logger, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("failed to serve metrics: %w", err)
		}
	}()
	log.Info("dispenser: metrics listening", "address", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
