package config

import (
	"log"
	"os"
	"strconv"
	"time"
)

// Config holds application configuration values.
type Config struct {
	DatabasePath  string
	HTTPPort      string
	ScrapeURL     string
	ScrapeTimeout time.Duration
	DatasetFile   string
}

// Load reads configuration from environment variables with reasonable defaults.
func Load() Config {
	dbPath := os.Getenv("PHARMANIO_DB")
	if dbPath == "" {
		dbPath = "pharmacies.db"
	}

	port := os.Getenv("HTTP_PORT")
	if port == "" {
		port = "8080"
	}
	// Validate that port is numeric.
	if _, err := strconv.Atoi(port); err != nil {
		log.Printf("invalid HTTP_PORT value %q, defaulting to 8080", port)
		port = "8080"
	}

	scrapeURL := os.Getenv("SCRAPE_URL")
	if scrapeURL == "" {
		scrapeURL = "https://www.opham.com/urgence/pharmacie"
	}

	timeout := 10 * time.Second
	if raw := os.Getenv("SCRAPE_TIMEOUT_SECONDS"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs <= 0 {
			log.Printf("invalid SCRAPE_TIMEOUT_SECONDS value %q, defaulting to 10", raw)
		} else {
			timeout = time.Duration(secs) * time.Second
		}
	}

	dataset := os.Getenv("DATASET_FILE")
	if dataset == "" {
		dataset = "dataset.json"
	}

	return Config{
		DatabasePath:  dbPath,
		HTTPPort:      port,
		ScrapeURL:     scrapeURL,
		ScrapeTimeout: timeout,
		DatasetFile:   dataset,
	}
}
