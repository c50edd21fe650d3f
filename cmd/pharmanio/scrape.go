package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pharmanio/m/internal/scraper"
)

var scrapeIfExpired bool

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Fetch the on-duty roster and update the store",
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
		var result *scraper.Result
		if scrapeIfExpired {
			result, err = duty.RunIfExpired(cmd.Context(), time.Now())
		} else {
			result, err = duty.Run(cmd.Context())
		}
		if err != nil {
			return err
		}
		if result == nil {
			fmt.Println("Current on-duty period is still valid, nothing to do.")
			return nil
		}
		fmt.Printf("Scrape finished: window %s to %s, %d scraped, %d matched, %d unmatched, %s\n",
			result.StartDate, result.EndDate, result.Scraped, result.Matched, result.Unmatched, result.Action)
		return nil
	},
}

func init() {
	scrapeCmd.Flags().BoolVar(&scrapeIfExpired, "if-expired", false, "scrape only when the stored period has expired")
	rootCmd.AddCommand(scrapeCmd)
}
