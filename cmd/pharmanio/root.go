package main

import (
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"pharmanio/m/internal/config"
	"pharmanio/m/internal/database"
	"pharmanio/m/internal/migrations"
)

var rootCmd = &cobra.Command{
	Use:   "pharmanio",
	Short: "Pharmacy directory and on-duty schedule service for Madagascar",
	Long: `PharmAnio serves pharmacy directory and on-duty rotation data.

The store is a single SQLite file seeded from a JSON dataset and kept
current by a periodic scrape of the duty roster.

  pharmanio serve            # run the HTTP API
  pharmanio import data.json # import the pharmacy dataset
  pharmanio scrape           # refresh the on-duty period once
  pharmanio coords data.json # backfill missing coordinates interactively`,
	SilenceUsage: true,
}

// loadConfig reads .env (when present) and the environment.
func loadConfig() config.Config {
	_ = godotenv.Load()
	return config.Load()
}

// openStore opens the SQLite store and ensures the schema exists.
func openStore(cfg config.Config) (*sqlx.DB, error) {
	db, err := database.Connect(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	if err := migrations.Run(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
