// Command trader runs the paper trading control loop with its HTTP API.
//
// Usage:
//
//	trader --config config.yaml --data bars.csv --addr :8080
//	trader --config config.yaml --stream-url wss://fstream.binance.com/ws
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"futures-risk-lab/internal/api"
	"futures-risk-lab/internal/config"
	"futures-risk-lab/internal/domain"
	"futures-risk-lab/internal/killswitch"
	"futures-risk-lab/internal/logging"
	"futures-risk-lab/internal/marketdata"
	"futures-risk-lab/internal/observability"
	"futures-risk-lab/internal/resilience"
	"futures-risk-lab/internal/stops"
	"futures-risk-lab/internal/storage"
	chstore "futures-risk-lab/internal/storage/clickhouse"
	"futures-risk-lab/internal/storage/memory"
	"futures-risk-lab/internal/storage/migrations"
	pgstore "futures-risk-lab/internal/storage/postgres"
	"futures-risk-lab/internal/storage/sqlite"
	"futures-risk-lab/internal/strategy"
	"futures-risk-lab/internal/trader"
	"futures-risk-lab/internal/venue"
	"futures-risk-lab/internal/venue/paper"
)

type flags struct {
	configPath    string
	envFile       string
	data          string
	rows          int
	seed          int64
	balance       float64
	interval      time.Duration
	addr          string
	flattenOnTrip bool
	streamURL     string
}

func main() {
	var f flags
	cmd := &cobra.Command{
		Use:           "trader",
		Short:         "Run the guarded trading loop against the paper venue",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), f)
		},
	}
	cmd.Flags().StringVar(&f.configPath, "config", "", "YAML config file")
	cmd.Flags().StringVar(&f.envFile, "env-file", ".env", "dotenv file loaded before the environment")
	cmd.Flags().StringVar(&f.data, "data", "", "Bar CSV replayed by the paper venue; synthetic bars when empty")
	cmd.Flags().IntVar(&f.rows, "rows", 5000, "Synthetic bar count")
	cmd.Flags().Int64Var(&f.seed, "seed", 42, "Synthetic bar seed")
	cmd.Flags().Float64Var(&f.balance, "balance", 0, "Paper balance (default backtest.initial_capital)")
	cmd.Flags().DurationVar(&f.interval, "interval", 0, "Cycle interval override")
	cmd.Flags().StringVar(&f.addr, "addr", "", "HTTP listen address override")
	cmd.Flags().StringVar(&f.streamURL, "stream-url", "", "Kline websocket endpoint; the paper venue follows live prices instead of replaying bars")
	cmd.Flags().BoolVar(&f.flattenOnTrip, "flatten-on-trip", true, "Close open positions when the kill switch trips")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, f flags) error {
	cfg, err := config.Load(f.configPath, f.envFile)
	if err != nil {
		return err
	}
	if f.interval > 0 {
		cfg.Trading.CycleInterval = f.interval
	}
	if f.addr != "" {
		cfg.Server.Addr = f.addr
	}
	if cfg.Trading.Mode != config.ModePaper {
		return fmt.Errorf("%w: mode %q has no venue adapter, only paper is built in", config.ErrInvalidConfig, cfg.Trading.Mode)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics("futures_risk", registry)
	shutdown := resilience.NewShutdown(logger)

	st, err := openStores(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}

	ks := killswitch.New(cfg.KillSwitch,
		killswitch.WithLogger(logger),
		killswitch.WithObserver(metrics.ObserveKillSwitch),
		killswitch.WithObserver(trader.PersistKillSwitch(st.state, logger)),
	)
	if restored, err := trader.RestoreKillSwitch(ctx, st.state, ks); err != nil {
		return err
	} else if restored && ks.IsTriggered() {
		logger.WithField("reason", ks.Status().Reason).Warn("starting halted: kill switch restored in tripped state")
	}

	balance := f.balance
	if balance <= 0 {
		balance = cfg.Backtest.InitialCapital
	}
	symbol := cfg.Trading.Symbol
	pv := paper.New(balance, cfg.Backtest.FeeRate, paper.WithLogger(logger))
	warmup := cfg.Backtest.Warmup

	var stream *marketdata.Stream
	if f.streamURL != "" {
		// --data becomes indicator history; live klines extend it
		pv.Feed(symbol, nil)
		if f.data != "" {
			history, err := marketdata.LoadCSVFile(f.data)
			if err != nil {
				return err
			}
			for _, b := range history {
				pv.Append(symbol, b)
			}
		}
		stream, err = marketdata.DialStream(ctx, f.streamURL, marketdata.StreamConfig{
			Streams: []string{marketdata.KlineStreamName(symbol, cfg.Trading.Timeframe)},
		}, marketdata.WithStreamLogger(logger))
		if err != nil {
			return err
		}
		ready := make(chan struct{})
		go followStream(stream, pv, symbol, st.bars, logger, ready)
		logger.WithField("symbol", symbol).Info("waiting for first kline")
		select {
		case <-ready:
		case <-ctx.Done():
			stream.Close()
			return ctx.Err()
		}
	} else {
		bars, err := loadBars(f)
		if err != nil {
			return err
		}
		pv.Feed(symbol, bars)
		for i := 0; i < warmup; i++ {
			if _, ok := pv.Advance(symbol); !ok {
				return fmt.Errorf("%w: %d bars do not cover the %d bar warm-up", marketdata.ErrInvalidData, len(bars), warmup)
			}
		}
	}

	guarded := venue.NewGuarded(pv, venue.GuardConfig{
		Breaker:     cfg.Resilience.Breaker,
		Retry:       cfg.RetryConfig(),
		CallTimeout: cfg.Resilience.CallTimeout,
		MaxCalls:    cfg.Resilience.RateLimit.MaxCalls,
		Window:      cfg.Resilience.RateLimit.Window,
	},
		venue.WithGuardLogger(logger),
		venue.WithBreakerObserver(metrics.ObserveBreaker),
	)

	health := resilience.NewHealthRegistry(
		resilience.WithHealthLogger(logger),
		resilience.WithHealthObserver(metrics.ObserveHealth),
	)
	health.Register("venue", guarded.Probe, true)
	if st.pool != nil {
		health.Register("postgres", st.pool.Healthy, false)
	}
	if st.ch != nil {
		health.Register("clickhouse", st.ch.Healthy, false)
	}
	if stream != nil {
		health.Register("kline_stream", stream.Healthy, true)
	}

	fn, err := strategy.FromName(cfg.Trading.Strategy, strategy.Params{})
	if err != nil {
		return err
	}

	hub := api.NewHub(logger)
	shutdown.RegisterCleanup("ws_hub", func(context.Context) error {
		hub.Close()
		return nil
	})
	if stream != nil {
		shutdown.RegisterCleanup("kline_stream", func(context.Context) error { return stream.Close() })
	}

	tr, err := trader.New(trader.Config{
		Symbol:              symbol,
		StrategyName:        cfg.Trading.Strategy,
		Leverage:            cfg.Trading.Leverage,
		PositionSizePercent: cfg.Trading.PositionSizePercent,
		MaxPositionValue:    cfg.Trading.MaxPositionValue,
		StopLossPercent:     cfg.Trading.StopLossPercent,
		TakeProfitPercent:   cfg.Trading.TakeProfitPercent,
		ConfidenceThreshold: cfg.Trading.ConfidenceThreshold,
		MaxDailyLossPercent: cfg.Risk.MaxDailyLossPercent,
		MaxOpenPositions:    cfg.Trading.MaxOpenPositions,
		LotStep:             cfg.Trading.LotStep,
		BarLimit:            warmup,
		CycleInterval:       cfg.Trading.CycleInterval,
		FlattenOnTrip:       f.flattenOnTrip,
	}, trader.Options{
		Venue:         guarded,
		Bars:          guarded,
		Strategy:      fn,
		KillSwitch:    ks,
		Stops:         stops.NewStructureManager(stops.DefaultStructureConfig(), logger),
		Health:        health,
		Shutdown:      shutdown,
		TradeStore:    st.trades,
		AuditStore:    st.audit,
		SnapshotStore: st.snapshots,
		Metrics:       metrics,
		Logger:        logger,
		OnCycle: func(s trader.Status) {
			hub.Publish(s)
			if stream != nil {
				return
			}
			// the paper venue moves one bar per cycle
			if _, ok := pv.Advance(symbol); !ok {
				logger.Info("bar feed exhausted")
				shutdown.Request()
			}
		},
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: api.NewServer(api.Options{
			Status:     tr,
			KillSwitch: ks,
			Health:     health,
			Metrics:    observability.HandlerFor(registry),
			Hub:        hub,
			Logger:     logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	shutdown.RegisterCleanup("http_server", srv.Shutdown)
	// stores close after everything that may still write to them
	for _, c := range st.closers {
		shutdown.RegisterCleanup(c.name, c.fn)
	}
	go func() {
		logger.WithField("addr", srv.Addr).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("HTTP server failed")
			shutdown.Request()
		}
	}()

	return tr.Run(ctx)
}

// followStream applies live klines to the paper venue until the stream
// closes. Closed bars are recorded when a bar store is configured.
// ready is closed once the venue has a price.
func followStream(s *marketdata.Stream, pv *paper.Venue, symbol string, bars storage.BarStore, logger logrus.FieldLogger, ready chan<- struct{}) {
	var once sync.Once
	for tick := range s.Ticks() {
		if !strings.EqualFold(tick.Symbol, symbol) {
			continue
		}
		once.Do(func() {
			pv.SetPrice(symbol, tick.Bar.Close)
			close(ready)
		})
		if !tick.Closed {
			pv.SetPrice(symbol, tick.Bar.Close)
			continue
		}
		if !pv.Append(symbol, tick.Bar) || bars == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := bars.InsertBulk(ctx, symbol, []domain.Bar{tick.Bar})
		cancel()
		if err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
			logger.WithError(err).WithField("bar", tick.Bar.Timestamp).Warn("record streamed bar")
		}
	}
}

func loadBars(f flags) ([]domain.Bar, error) {
	if f.data != "" {
		return marketdata.LoadCSVFile(f.data)
	}
	sc := marketdata.DefaultSyntheticConfig()
	sc.Rows = f.rows
	sc.Seed = f.seed
	return marketdata.Generate(sc), nil
}

// sessionStores are the trader's persistence backends. Postgres is used when
// configured, otherwise memory; kill switch state prefers the sqlite file.
type sessionStores struct {
	pool      *pgstore.Pool
	ch        *chstore.Conn
	bars      storage.BarStore
	trades    storage.TradeStore
	audit     storage.AuditStore
	snapshots storage.PositionSnapshotStore
	state     storage.KillSwitchStateStore
	closers   []namedCleanup
}

type namedCleanup struct {
	name string
	fn   resilience.Cleanup
}

func openStores(ctx context.Context, sc config.StorageConfig, logger logrus.FieldLogger) (*sessionStores, error) {
	st := &sessionStores{
		trades:    memory.NewTradeStore(),
		audit:     memory.NewAuditStore(),
		snapshots: memory.NewPositionSnapshotStore(),
		state:     memory.NewKillSwitchStateStore(),
	}

	if sc.PostgresDSN != "" {
		pool, err := pgstore.NewPool(ctx, sc.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		st.closers = append(st.closers, namedCleanup{"postgres", func(context.Context) error {
			pool.Close()
			return nil
		}})
		st.pool = pool
		st.trades = pgstore.NewTradeStore(pool)
		st.audit = pgstore.NewAuditStore(pool)
		st.snapshots = pgstore.NewPositionSnapshotStore(pool)
		st.state = pgstore.NewKillSwitchStateStore(pool)
		logger.Info("session state stored in postgres")
	}

	if sc.ClickhouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, sc.ClickhouseDSN)
		if err != nil {
			if st.pool != nil {
				st.pool.Close()
			}
			return nil, err
		}
		st.closers = append(st.closers, namedCleanup{"clickhouse", func(context.Context) error { return conn.Close() }})
		st.ch = conn
		st.bars = chstore.NewBarStore(conn)
		logger.Info("streamed bars recorded in clickhouse")
	}

	if sc.SqlitePath != "" {
		db, err := sqlite.Open(ctx, sc.SqlitePath)
		if err != nil {
			if st.pool != nil {
				st.pool.Close()
			}
			if st.ch != nil {
				st.ch.Close()
			}
			return nil, err
		}
		st.closers = append(st.closers, namedCleanup{"sqlite", func(context.Context) error { return db.Close() }})
		st.state = sqlite.NewKillSwitchStateStore(db)
		logger.WithField("path", sc.SqlitePath).Info("kill switch state stored in sqlite")
	}
	return st, nil
}
