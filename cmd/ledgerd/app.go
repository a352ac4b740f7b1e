package main

import (
	"context"
	"net/http"

	"github.com/boddenberg/pocket-ledger/internal/config"
	"github.com/boddenberg/pocket-ledger/internal/handler"
	"github.com/boddenberg/pocket-ledger/internal/infra/cache"
	"github.com/boddenberg/pocket-ledger/internal/infra/client"
	"github.com/boddenberg/pocket-ledger/internal/infra/observability"
	"github.com/boddenberg/pocket-ledger/internal/infra/resilience"
	"github.com/boddenberg/pocket-ledger/internal/infra/sqlite"
	"github.com/boddenberg/pocket-ledger/internal/service"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rootCmd = &cobra.Command{
	Use:   "ledgerd",
	Short: "Personal pocket ledger service",
	Long: `ledgerd keeps a per-user cash account, named savings pockets,
interest-bearing investments and credit card bills, with every money
movement recorded in a reversible ledger.`,
	SilenceUsage: true,
}

// app is the wired service graph shared by the subcommands.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	metrics  *observability.Metrics
	store    *sqlite.Store
	rates    *cache.InMemory[string, decimal.Decimal]
	accrual  *service.AccrualEngine
	services handler.Services
}

func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("database_path", cfg.DatabasePath),
		zap.String("timezone", cfg.Timezone.String()),
		zap.String("benchmark_url", cfg.BenchmarkURL),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Duration("rate_cache_ttl", cfg.RateCacheTTL),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Int("max_concurrency", cfg.MaxConcurrency),
	)
	return cfg, logger, nil
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Store ---
	store, err := sqlite.Open(ctx, sqlite.Options{
		Path:        cfg.DatabasePath,
		BusyTimeout: cfg.BusyTimeout,
		MaxConns:    cfg.MaxConns,
	}, logger)
	if err != nil {
		return nil, err
	}

	// --- Benchmark source ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}
	cb := resilience.NewCircuitBreaker("benchmark", logger)
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	benchmark := client.NewBenchmarkClient(httpClient, cfg.BenchmarkURL, cb, resilienceCfg, logger)

	// --- Cache ---
	rates := cache.New[string, decimal.Decimal](cfg.RateCacheTTL)

	// --- Services ---
	clock := service.NewClock(nil, cfg.Timezone)
	accrual := service.NewAccrualEngine(store, benchmark, rates, metrics, logger)
	ledger := service.NewLedgerService(store, accrual, clock, metrics, logger)
	rollback := service.NewRollbackService(store, accrual, clock, metrics, logger)

	return &app{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		store:   store,
		rates:   rates,
		accrual: accrual,
		services: handler.Services{
			Ledger:   ledger,
			Rollback: rollback,
			Credit:   service.NewCreditService(store, clock, metrics, logger),
			Pending:  service.NewPendingService(store, ledger, rollback, clock, cfg.PendingTTL, metrics, logger),
			Store:    store,
		},
	}, nil
}

func (a *app) Close() {
	a.rates.Close()
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing store", zap.Error(err))
	}
	_ = a.logger.Sync()
}
