package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/opengov-uy/compras-analytics/internal/analytics"
	"github.com/opengov-uy/compras-analytics/internal/engine"
	"github.com/opengov-uy/compras-analytics/internal/store"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the analytics population pipeline",
	Long: `Run the analytics population pipeline over the full procurement ledger.

Stages run in a fixed order: amounts, patterns, anomalies. Use --stages to
restrict the run to a subset. All writes are idempotent upserts, so an
aborted run is safely resumed by rerunning from the top.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := zap.L().With(zap.String("command", "run"))

		opts, err := parseRunOpts(cmd)
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		// Ensure migrations are current.
		if err := store.Migrate(ctx, st.Pool()); err != nil {
			return eris.Wrap(err, "run: migrate")
		}

		src, cleanup, err := buildRateSource()
		if err != nil {
			return eris.Wrap(err, "run: build rate source")
		}
		defer cleanup()

		rates, err := fetchRates(ctx, src)
		if err != nil {
			return eris.Wrap(err, "run: fetch rates")
		}

		log.Info("rate table ready",
			zap.Int("currencies", len(rates.Rates)),
			zap.Float64("ui_rate", rates.IndexedUnitRate),
		)

		eng := engine.New(st, engine.NewRunLog(st.Pool()), rates, opts)
		report, runErr := eng.Run(ctx)
		if report != nil {
			fmt.Print(report.Render())

			if path, _ := cmd.Flags().GetString("report-xlsx"); path != "" {
				if err := report.WriteXLSX(path); err != nil {
					log.Warn("failed to write XLSX report", zap.Error(err))
				} else {
					fmt.Printf("Report written to %s\n", path)
				}
			}
		}
		if runErr != nil {
			return eris.Wrap(runErr, "run")
		}
		return nil
	},
}

func init() {
	runCmd.Flags().String("stages", "", "comma-separated stages to run (amounts,patterns,anomalies)")
	runCmd.Flags().Int("batch-size", 0, "override configured batch size")
	runCmd.Flags().String("report-xlsx", "", "write the run report to an XLSX file")
	rootCmd.AddCommand(runCmd)
}

// parseRunOpts combines config defaults with command flags.
func parseRunOpts(cmd *cobra.Command) (engine.Options, error) {
	opts := engine.Options{
		BatchSize:    cfg.Pipeline.BatchSize,
		BatchTimeout: time.Duration(cfg.Pipeline.BatchTimeoutSecs) * time.Second,
		RunTimeout:   time.Duration(cfg.Pipeline.RunTimeoutMins) * time.Minute,
		Spike: analytics.SpikeOptions{
			HighValueThreshold: cfg.Anomaly.HighValueThreshold,
			MinGroupSize:       cfg.Anomaly.MinGroupSize,
			SpikeMultiplier:    cfg.Anomaly.SpikeMultiplier,
		},
	}

	if n, _ := cmd.Flags().GetInt("batch-size"); n > 0 {
		opts.BatchSize = n
	}

	stagesStr, _ := cmd.Flags().GetString("stages")
	if stagesStr != "" {
		for _, raw := range strings.Split(stagesStr, ",") {
			stage, err := engine.ParseStage(strings.TrimSpace(raw))
			if err != nil {
				return engine.Options{}, err
			}
			opts.Stages = append(opts.Stages, stage)
		}
	}

	return opts, nil
}
