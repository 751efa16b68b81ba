package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"futures-risk-lab/internal/reporting"
)

func newReportCmd(g *globalFlags) *cobra.Command {
	var runID, format, csvDir string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Render the report of a stored run, or list stored runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, logger, err := setup(g)
			if err != nil {
				return err
			}
			st, cleanup, err := openStores(ctx, cfg.Storage, logger)
			if err != nil {
				return err
			}
			defer cleanup()
			if !st.durable {
				return errors.New("report needs POSTGRES_DSN or CLICKHOUSE_DSN; in-memory runs are gone once run exits")
			}

			gen := reporting.NewGenerator(st.trades, st.equity, st.summaries)
			if runID == "" {
				runs, err := gen.Runs(ctx)
				if err != nil {
					return err
				}
				for _, id := range runs {
					fmt.Fprintln(os.Stdout, id)
				}
				return nil
			}

			report, err := gen.Generate(ctx, runID)
			if err != nil {
				return err
			}
			return writeReport(report, format, csvDir)
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "Run to render; lists runs when empty")
	cmd.Flags().StringVar(&format, "format", "text", "Report format: text or markdown")
	cmd.Flags().StringVar(&csvDir, "csv-dir", "", "Directory for trades.csv and equity.csv")
	return cmd
}
