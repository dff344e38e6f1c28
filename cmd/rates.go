package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/opengov-uy/compras-analytics/internal/model"
)

var ratesCmd = &cobra.Command{
	Use:   "rates",
	Short: "Fetch and print the current exchange-rate table",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		src, cleanup, err := buildRateSource()
		if err != nil {
			return eris.Wrap(err, "rates: build source")
		}
		defer cleanup()

		table, err := fetchRates(ctx, src)
		if err != nil {
			return eris.Wrap(err, "rates: fetch")
		}

		fmt.Printf("Rates as of %s (per 1 unit, in %s)\n", table.Date.Format("2006-01-02"), model.CanonicalCurrency)
		for _, code := range table.Codes() {
			fmt.Printf("  %-4s %12.4f\n", code, table.Rates[code])
		}
		if table.IndexedUnitRate > 0 {
			fmt.Printf("  %-4s %12.4f\n", model.IndexedUnit, table.IndexedUnitRate)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(ratesCmd)
}
