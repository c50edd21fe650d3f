package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pharmanio/m/internal/seed"
)

var importCmd = &cobra.Command{
	Use:   "import [dataset-file]",
	Short: "Import the pharmacy dataset into the store",
	Args:  cobra.MaximumNArgs(1),
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

		db, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		summary, err := seed.Load(db, logger, path)
		if err != nil {
			return err
		}
		fmt.Printf("Import finished: %d cities added, %d inserted, %d updated, %d unchanged, %d malformed\n",
			summary.CitiesAdded, summary.Inserted, summary.Updated, summary.Unchanged, summary.Malformed)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
}
