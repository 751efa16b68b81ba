// Command backtest replays strategies over historical bars.
//
// Usage:
//
//	backtest run --data bars.csv --strategy momentum
//	backtest generate --rows 1000 --seed 7 --out bars.csv
//	backtest sweep --strategies momentum,hold --stop-loss 1,2,3
//	backtest report --run-id <id>
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"futures-risk-lab/internal/config"
	"futures-risk-lab/internal/logging"
	"futures-risk-lab/internal/storage"
	chstore "futures-risk-lab/internal/storage/clickhouse"
	"futures-risk-lab/internal/storage/memory"
	"futures-risk-lab/internal/storage/migrations"
	pgstore "futures-risk-lab/internal/storage/postgres"
)

type globalFlags struct {
	configPath string
	envFile    string
	logLevel   string
}

func main() {
	var g globalFlags

	root := &cobra.Command{
		Use:           "backtest",
		Short:         "Backtest strategies against historical or synthetic bars",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", "", "YAML config file")
	root.PersistentFlags().StringVar(&g.envFile, "env-file", ".env", "dotenv file loaded before the environment")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Log level override")

	root.AddCommand(
		newRunCmd(&g),
		newGenerateCmd(),
		newSweepCmd(&g),
		newReportCmd(&g),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// setup loads the configuration and builds the logger.
func setup(g *globalFlags) (config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(g.configPath, g.envFile)
	if err != nil {
		return config.Config{}, nil, err
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}

// stores groups the backtest stores. Without DSNs everything is in memory.
type stores struct {
	bars      storage.BarStore
	trades    storage.TradeStore
	equity    storage.EquityStore
	summaries storage.RunSummaryStore
	durable   bool
}

func openStores(ctx context.Context, sc config.StorageConfig, logger logrus.FieldLogger) (*stores, func(), error) {
	s := &stores{
		bars:      memory.NewBarStore(),
		trades:    memory.NewTradeStore(),
		equity:    memory.NewEquityStore(),
		summaries: memory.NewRunSummaryStore(),
	}
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if sc.PostgresDSN != "" {
		pool, err := pgstore.NewPool(ctx, sc.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		closers = append(closers, pool.Close)
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			cleanup()
			return nil, nil, err
		}
		s.trades = pgstore.NewTradeStore(pool)
		s.durable = true
		logger.Info("trades stored in postgres")
	}

	if sc.ClickhouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, sc.ClickhouseDSN)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		closers = append(closers, func() { conn.Close() })
		s.bars = chstore.NewBarStore(conn)
		s.equity = chstore.NewEquityStore(conn)
		s.summaries = chstore.NewRunSummaryStore(conn)
		s.durable = true
		logger.Info("bars, equity and summaries stored in clickhouse")
	}

	return s, cleanup, nil
}
