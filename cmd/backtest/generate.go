package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"futures-risk-lab/internal/marketdata"
)

func newGenerateCmd() *cobra.Command {
	sc := marketdata.DefaultSyntheticConfig()
	var out string
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Write synthetic bars to a CSV file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if out == "" {
				return fmt.Errorf("--out is required")
			}
			bars := marketdata.Generate(sc)
			if err := marketdata.WriteCSVFile(out, bars); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "wrote %d bars to %s\n", len(bars), out)
			return nil
		},
	}
	cmd.Flags().IntVar(&sc.Rows, "rows", sc.Rows, "Number of bars")
	cmd.Flags().Int64Var(&sc.Seed, "seed", sc.Seed, "Random seed")
	cmd.Flags().Float64Var(&sc.BasePrice, "base-price", sc.BasePrice, "Starting price")
	cmd.Flags().Float64Var(&sc.Volatility, "volatility", sc.Volatility, "Per-bar volatility")
	cmd.Flags().DurationVar(&sc.Interval, "interval", time.Hour, "Bar interval")
	cmd.Flags().StringVar(&out, "out", "", "Output CSV path")
	return cmd
}
