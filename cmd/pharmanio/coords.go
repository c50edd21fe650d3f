package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pharmanio/m/internal/coords"
)

var coordsCmd = &cobra.Command{
	Use:   "coords [dataset-file]",
	Short: "Interactively backfill missing coordinates in the dataset file",
	Long: `Searches OpenStreetMap Nominatim for each pharmacy without
coordinates and lets you accept or skip every candidate. Edits the dataset
document only; run "pharmanio import" afterwards to update the store.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		logger, err := zap.NewProduction()
		if err != nil {
			return err
		}
		defer logger.Sync()

		path := cfg.DatasetFile
		if len(args) > 0 {
			path = args[0]
		}
		return coords.NewFinder(logger).Run(path)
	},
}

func init() {
	rootCmd.AddCommand(coordsCmd)
}
