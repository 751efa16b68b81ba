package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"futures-risk-lab/internal/backtest"
	"futures-risk-lab/internal/domain"
	"futures-risk-lab/internal/killswitch"
	"futures-risk-lab/internal/marketdata"
	"futures-risk-lab/internal/reporting"
	"futures-risk-lab/internal/storage"
	"futures-risk-lab/internal/strategy"
	"futures-risk-lab/internal/verification"
)

type runFlags struct {
	data       string
	rows       int
	seed       int64
	strategy   string
	symbol     string
	stopPolicy string
	capital    float64
	leverage   float64
	killSwitch bool
	format     string
	csvDir     string
	verify     bool
}

func newRunCmd(g *globalFlags) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one backtest and print its report",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBacktest(cmd, g, f)
		},
	}
	cmd.Flags().StringVar(&f.data, "data", "", "Bar CSV file; synthetic bars when empty")
	cmd.Flags().IntVar(&f.rows, "rows", 1000, "Synthetic bar count")
	cmd.Flags().Int64Var(&f.seed, "seed", 42, "Synthetic bar seed")
	cmd.Flags().StringVar(&f.strategy, "strategy", "", fmt.Sprintf("Strategy %v (default from config)", strategy.Names()))
	cmd.Flags().StringVar(&f.symbol, "symbol", "", "Symbol override")
	cmd.Flags().StringVar(&f.stopPolicy, "stop-policy", string(backtest.StopFixed), "Stop policy: fixed or trailing")
	cmd.Flags().Float64Var(&f.capital, "capital", 0, "Initial capital override")
	cmd.Flags().Float64Var(&f.leverage, "leverage", 0, "Leverage override")
	cmd.Flags().BoolVar(&f.killSwitch, "kill-switch", false, "Gate entries on the kill switch")
	cmd.Flags().StringVar(&f.format, "format", "text", "Report format: text or markdown")
	cmd.Flags().StringVar(&f.csvDir, "csv-dir", "", "Directory for trades.csv and equity.csv")
	cmd.Flags().BoolVar(&f.verify, "verify", false, "Replay the run and check every stored trade is reproduced")
	return cmd
}

func runBacktest(cmd *cobra.Command, g *globalFlags, f runFlags) error {
	ctx := cmd.Context()
	cfg, logger, err := setup(g)
	if err != nil {
		return err
	}

	ecfg := cfg.BacktestEngine()
	if f.symbol != "" {
		ecfg.Symbol = f.symbol
	}
	if f.capital > 0 {
		ecfg.InitialCapital = f.capital
	}
	if f.leverage > 0 {
		ecfg.Leverage = f.leverage
	}
	ecfg.StopPolicy = backtest.StopPolicy(f.stopPolicy)

	name := f.strategy
	if name == "" {
		name = cfg.Trading.Strategy
	}
	fn, err := strategy.FromName(name, strategy.Params{})
	if err != nil {
		return err
	}

	newEngine := func() (*backtest.Engine, error) {
		opts := []backtest.Option{backtest.WithLogger(logger), backtest.WithStrategyName(name)}
		if f.killSwitch {
			opts = append(opts, backtest.WithKillSwitch(killswitch.New(cfg.KillSwitch, killswitch.WithLogger(logger))))
		}
		return backtest.NewEngine(ecfg, fn, opts...)
	}
	engine, err := newEngine()
	if err != nil {
		return err
	}

	bars, err := loadBars(f.data, f.rows, f.seed)
	if err != nil {
		return err
	}

	st, cleanup, err := openStores(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := storeBars(ctx, st.bars, ecfg.Symbol, bars, logger); err != nil {
		return err
	}

	runner := backtest.NewRunner(st.bars, backtest.Sinks{
		Trades:    st.trades,
		Equity:    st.equity,
		Summaries: st.summaries,
	})
	start := time.Now()
	res, err := runner.Run(ctx, engine, bars[0].Timestamp, bars[len(bars)-1].Timestamp)
	if err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			return fmt.Errorf("run already stored (use report): %w", err)
		}
		return err
	}
	logger.WithFields(logrus.Fields{
		"run_id":   res.RunID,
		"trades":   len(res.Trades),
		"duration": time.Since(start).String(),
	}).Info("backtest finished")

	if f.verify {
		if err := verifyRun(ctx, st, newEngine, res, bars, logger); err != nil {
			return err
		}
	}

	report, err := reporting.NewGenerator(st.trades, st.equity, st.summaries).Generate(ctx, res.RunID)
	if err != nil {
		return err
	}
	return writeReport(report, f.format, f.csvDir)
}

func verifyRun(ctx context.Context, st *stores, newEngine func() (*backtest.Engine, error), res *backtest.Result, bars []domain.Bar, logger logrus.FieldLogger) error {
	if len(res.Trades) == 0 {
		logger.Info("no trades to verify")
		return nil
	}
	engine, err := newEngine()
	if err != nil {
		return err
	}
	v := verification.NewReplayVerifier(verification.ReplayVerifierOptions{
		TradeStore: st.trades,
		BarStore:   st.bars,
	})
	report, err := v.VerifyRun(ctx, engine, res.RunID, bars[0].Timestamp, bars[len(bars)-1].Timestamp)
	if err != nil {
		return err
	}
	if !report.OK() {
		for _, r := range report.Results {
			if !r.Match {
				logger.WithFields(logrus.Fields{"trade_id": r.TradeID, "divergences": r.Divergences}).Error("trade not reproduced")
			}
		}
		return fmt.Errorf("verification failed: %d divergent, %d extra of %d trades",
			report.DivergentTrades, report.ExtraTrades, report.TotalTrades)
	}
	logger.WithField("trades", report.MatchedTrades).Info("replay verified")
	return nil
}

func loadBars(path string, rows int, seed int64) ([]domain.Bar, error) {
	var bars []domain.Bar
	if path != "" {
		loaded, err := marketdata.LoadCSVFile(path)
		if err != nil {
			return nil, err
		}
		bars = loaded
	} else {
		sc := marketdata.DefaultSyntheticConfig()
		sc.Rows = rows
		sc.Seed = seed
		bars = marketdata.Generate(sc)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: no bars", marketdata.ErrInvalidData)
	}
	return bars, nil
}

// storeBars loads bars into the store. Bars already stored are kept.
func storeBars(ctx context.Context, store storage.BarStore, symbol string, bars []domain.Bar, logger logrus.FieldLogger) error {
	err := store.InsertBulk(ctx, symbol, bars)
	if errors.Is(err, storage.ErrDuplicateKey) {
		logger.WithField("symbol", symbol).Info("bars already stored")
		return nil
	}
	if err != nil {
		return fmt.Errorf("store bars: %w", err)
	}
	return nil
}

func writeReport(r *reporting.Report, format, csvDir string) error {
	switch format {
	case "", "text":
		fmt.Fprint(os.Stdout, reporting.RenderText(r))
	case "markdown", "md":
		fmt.Fprint(os.Stdout, reporting.RenderMarkdown(r))
	default:
		return fmt.Errorf("unknown report format %q", format)
	}
	if csvDir != "" {
		if err := reporting.ExportCSV(csvDir, r); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "CSV written to %s\n", csvDir)
	}
	return nil
}
