package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"futures-risk-lab/internal/backtest"
	"futures-risk-lab/internal/decision"
	"futures-risk-lab/internal/orchestrator"
	"futures-risk-lab/internal/simulation"
	"futures-risk-lab/internal/strategy"
)

type sweepFlags struct {
	data       string
	rows       int
	seed       int64
	symbol     string
	strategies []string
	stopLoss   []float64
	policies   []string
	episodes   bool
	gate       bool
}

func newSweepCmd(g *globalFlags) *cobra.Command {
	var f sweepFlags
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Backtest every strategy against every stop scenario",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(cmd, g, f)
		},
	}
	cmd.Flags().StringVar(&f.data, "data", "", "Bar CSV file; synthetic bars when empty")
	cmd.Flags().IntVar(&f.rows, "rows", 1000, "Synthetic bar count")
	cmd.Flags().Int64Var(&f.seed, "seed", 42, "Synthetic bar seed")
	cmd.Flags().StringVar(&f.symbol, "symbol", "", "Symbol override")
	cmd.Flags().StringSliceVar(&f.strategies, "strategies", strategy.Names(), "Strategies to run")
	cmd.Flags().Float64SliceVar(&f.stopLoss, "stop-loss", []float64{1, 2, 3}, "Stop loss percents")
	cmd.Flags().StringSliceVar(&f.policies, "stop-policies", []string{string(backtest.StopFixed), string(backtest.StopTrailing)}, "Stop policies")
	cmd.Flags().BoolVar(&f.episodes, "episodes", false, "Also score strategies in the step environment")
	cmd.Flags().BoolVar(&f.gate, "gate", false, "Run the go-live decision gate on the best run")
	return cmd
}

func runSweep(cmd *cobra.Command, g *globalFlags, f sweepFlags) error {
	ctx := cmd.Context()
	cfg, logger, err := setup(g)
	if err != nil {
		return err
	}

	base := cfg.BacktestEngine()
	if f.symbol != "" {
		base.Symbol = f.symbol
	}
	var scenarios []orchestrator.Scenario
	byName := make(map[string]orchestrator.Scenario)
	for _, policy := range f.policies {
		for _, sl := range f.stopLoss {
			c := base
			c.StopPolicy = backtest.StopPolicy(policy)
			c.StopLossPercent = sl
			c.TakeProfitPercent = 2 * sl
			sc := orchestrator.Scenario{Name: fmt.Sprintf("%s_sl%g", policy, sl), Config: c}
			scenarios = append(scenarios, sc)
			byName[sc.Name] = sc
		}
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
	if err := storeBars(ctx, st.bars, base.Symbol, bars, logger); err != nil {
		return err
	}

	opts := orchestrator.Options{
		BarStore:     st.bars,
		TradeStore:   st.trades,
		EquityStore:  st.equity,
		SummaryStore: st.summaries,
		Symbol:       base.Symbol,
		From:         bars[0].Timestamp,
		To:           bars[len(bars)-1].Timestamp,
		Strategies:   f.strategies,
		Scenarios:    scenarios,
		Logger:       logger,
	}
	if f.episodes {
		env := simulation.DefaultConfig()
		env.InitialBalance = base.InitialCapital
		opts.Environment = &env
	}

	result, err := orchestrator.New(opts).Run(ctx)
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Strategy", "Scenario", "Trades", "Win %", "Net PnL", "Max DD %", "Sharpe"})
	table.SetAutoWrapText(false)
	for _, r := range result.Runs {
		m := r.Metrics
		table.Append([]string{
			r.Strategy,
			r.Scenario,
			fmt.Sprintf("%d", m.TotalTrades),
			fmt.Sprintf("%.1f", m.WinRate*100),
			fmt.Sprintf("%.2f", m.NetPnL),
			fmt.Sprintf("%.2f", m.MaxDrawdownPercent),
			fmt.Sprintf("%.2f", m.SharpeRatio),
		})
	}
	table.Render()

	best, ok := result.Best()
	if ok {
		fmt.Printf("\nBest: %s/%s (run %s) net pnl %.2f\n", best.Strategy, best.Scenario, best.RunID, best.Metrics.NetPnL)
	}
	for name, ep := range result.Episodes {
		fmt.Printf("Episode %s: reward %.4f over %d steps, %d trades\n", name, ep.TotalReward, ep.Steps, ep.Trades)
	}
	if f.gate && ok {
		fn, err := strategy.FromName(best.Strategy, strategy.Params{})
		if err != nil {
			return err
		}
		th := decision.DefaultThresholds()
		th.MaxDrawdownPercent = cfg.KillSwitch.MaxDrawdownPercent
		gate, err := decision.Gate(ctx, byName[best.Scenario].Config, best.Strategy, fn, bars, th)
		if err != nil {
			return err
		}
		fmt.Print("\n" + decision.RenderMarkdown(gate))
	}
	if len(result.Errors) > 0 {
		fmt.Fprintf(os.Stderr, "%d errors:\n  %s\n", len(result.Errors), strings.Join(result.Errors, "\n  "))
	}
	return nil
}
