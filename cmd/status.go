package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/opengov-uy/compras-analytics/internal/engine"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent pipeline runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		entries, err := engine.NewRunLog(st.Pool()).Recent(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "status")
		}
		if len(entries) == 0 {
			fmt.Println("No runs recorded")
			return nil
		}

		current, err := st.LatestDataVersion(ctx)
		if err != nil {
			return eris.Wrap(err, "status: latest data version")
		}

		stale, err := st.CountStaleAnomalies(ctx, current)
		if err != nil {
			return eris.Wrap(err, "status: count stale anomalies")
		}

		fmt.Printf("Current data version: %d\n", current)
		if stale > 0 {
			fmt.Printf("Stale anomalies (older data version, no longer reproducing): %d\n", stale)
		}
		fmt.Println()
		fmt.Printf("%-10s  %-9s  %-20s  %9s  %9s  %7s  %4s\n",
			"STAGE", "STATUS", "STARTED", "PROCESSED", "WRITTEN", "FAILED", "VER")
		for _, e := range entries {
			fmt.Printf("%-10s  %-9s  %-20s  %9d  %9d  %7d  %4d\n",
				e.Stage, e.Status, e.StartedAt.Format("2006-01-02 15:04:05"),
				e.Processed, e.Written, e.Failed, e.DataVersion)
			if e.Error != "" {
				fmt.Printf("    error: %s\n", e.Error)
			}
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().Int("limit", 20, "number of runs to show")
	rootCmd.AddCommand(statusCmd)
}
