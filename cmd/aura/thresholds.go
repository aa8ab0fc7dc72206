package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/aura/internal/rules"
)

func thresholdsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "thresholds [historical.csv]",
		Short: "Compute rule thresholds from historical data",
		Long: `Compute the V4 and V14 rule thresholds from a labeled CSV.

The file defaults to rules.historicalDataPath (AURA_HISTORICAL_DATA).`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			path := cfg.Rules.HistoricalDataPath
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				return errors.New("no historical data file given")
			}

			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()

			t, err := rules.ComputeThresholds(f, cfg.Rules)
			if err != nil {
				return fmt.Errorf("compute thresholds from %s: %w", path, err)
			}
			t.Source = path

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(t)
		},
	}
}
