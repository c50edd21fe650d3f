package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pharmanio/m/internal/api"
	"pharmanio/m/internal/scraper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API with the daily on-duty refresh",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		logger, err := zap.NewProduction()
		if err != nil {
			return err
		}
		defer logger.Sync()

		db, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		duty := scraper.New(db, cfg.ScrapeURL, cfg.ScrapeTimeout, logger)

		// One check at startup, then every morning at 06:00. A failed
		// refresh keeps the previous period authoritative.
		if _, err := duty.RunIfExpired(cmd.Context(), time.Now()); err != nil {
			logger.Warn("initial duty refresh failed", zap.Error(err))
		}
		schedule := cron.New()
		if _, err := schedule.AddFunc("0 6 * * *", func() {
			if _, err := duty.RunIfExpired(context.Background(), time.Now()); err != nil {
				logger.Warn("scheduled duty refresh failed", zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("schedule duty refresh: %w", err)
		}
		schedule.Start()
		defer schedule.Stop()

		handler := api.New(db, logger)
		logger.Info("pharmanio server starting", zap.String("port", cfg.HTTPPort))
		return http.ListenAndServe(":"+cfg.HTTPPort, handler.Router())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
