package coords

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"pharmanio/m/domain"
)

const (
	nominatimURL = "https://nominatim.openstreetmap.org/search"
	userAgent    = "pharmanio-coords/1.0 (pharmacy location service)"
	// Nominatim usage policy: at most one request per second.
	politeDelay = 1 * time.Second
)

// candidate is one Nominatim search result. Coordinates arrive as strings.
type candidate struct {
	DisplayName string `json:"display_name"`
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
}

// Finder interactively backfills missing coordinates in the dataset
// document. It edits the JSON file, never the store; a later import carries
// the coordinates over.
type Finder struct {
	client *resty.Client
	url    string
	in     *bufio.Reader
	out    io.Writer
	logger *zap.Logger
	delay  time.Duration
}

func NewFinder(logger *zap.Logger) *Finder {
	client := resty.New().
		SetTimeout(15 * time.Second).
		SetHeader("User-Agent", userAgent)
	return &Finder{
		client: client,
		url:    nominatimURL,
		in:     bufio.NewReader(os.Stdin),
		out:    os.Stdout,
		logger: logger,
		delay:  politeDelay,
	}
}

// Run walks every pharmacy without coordinates, offers Nominatim candidates
// and writes accepted picks back into the dataset file.
func (f *Finder) Run(datasetPath string) error {
	raw, err := os.ReadFile(datasetPath)
	if err != nil {
		return fmt.Errorf("read dataset %s: %w", datasetPath, err)
	}
	var doc domain.Dataset
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse dataset %s: %w", datasetPath, err)
	}

	updated := 0
	done := false
	for ci := range doc.Cities {
		if done {
			break
		}
		city := &doc.Cities[ci]
		for pi := range city.Pharmacies {
			pharmacy := &city.Pharmacies[pi]
			if pharmacy.Latitude != nil && pharmacy.Longitude != nil {
				continue
			}
			candidates := f.search(pharmacy.Name, pharmacy.Address, city.Name)
			if len(candidates) == 0 {
				fmt.Fprintf(f.out, "No results for %s (%s)\n", pharmacy.Name, city.Name)
				continue
			}
			accepted, quit := f.prompt(pharmacy.Name, city.Name, candidates)
			if accepted != nil {
				pharmacy.Latitude = &accepted.lat
				pharmacy.Longitude = &accepted.lon
				updated++
			}
			if quit {
				done = true
				break
			}
		}
	}

	if updated == 0 {
		fmt.Fprintln(f.out, "No coordinates updated.")
		return nil
	}
	encoded, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode dataset: %w", err)
	}
	if err := os.WriteFile(datasetPath, append(encoded, '\n'), 0o644); err != nil {
		return fmt.Errorf("write dataset %s: %w", datasetPath, err)
	}
	fmt.Fprintf(f.out, "Saved %d coordinate(s) to %s\n", updated, datasetPath)
	return nil
}

func (f *Finder) search(name, address, city string) []candidate {
	for _, query := range searchQueries(name, address, city) {
		time.Sleep(f.delay)
		var results []candidate
		resp, err := f.client.R().
			SetQueryParams(map[string]string{
				"q":      query,
				"format": "json",
				"limit":  "3",
			}).
			SetResult(&results).
			Get(f.url)
		if err != nil || resp.IsError() {
			f.logger.Warn("geocoding query failed", zap.String("query", query), zap.Error(err))
			continue
		}
		if len(results) > 0 {
			return results
		}
	}
	return nil
}

// searchQueries builds query variants, most specific first.
func searchQueries(name, address, city string) []string {
	name = strings.TrimSpace(name)
	address = strings.TrimSpace(address)
	city = strings.TrimSpace(city)

	var queries []string
	if address != "" {
		queries = append(queries, fmt.Sprintf("pharmacie %s, %s, Madagascar", name, address))
	}
	queries = append(queries, fmt.Sprintf("pharmacie %s, %s, Madagascar", name, city))
	return queries
}

type pick struct {
	lat float64
	lon float64
}

// prompt shows the candidates and reads one choice: a number accepts,
// "s" skips, "q" stops the whole run.
func (f *Finder) prompt(pharmacy, city string, candidates []candidate) (*pick, bool) {
	fmt.Fprintf(f.out, "\n%s (%s):\n", pharmacy, city)
	for i, c := range candidates {
		fmt.Fprintf(f.out, "  [%d] %s (%s, %s)\n", i+1, c.DisplayName, c.Lat, c.Lon)
	}
	for {
		fmt.Fprint(f.out, "Accept [number], (s)kip or (q)uit: ")
		line, err := f.in.ReadString('\n')
		if err != nil {
			return nil, true
		}
		choice := strings.ToLower(strings.TrimSpace(line))
		switch choice {
		case "s", "":
			return nil, false
		case "q":
			return nil, true
		}
		idx, err := strconv.Atoi(choice)
		if err != nil || idx < 1 || idx > len(candidates) {
			fmt.Fprintln(f.out, "Invalid choice.")
			continue
		}
		chosen := candidates[idx-1]
		lat, latErr := strconv.ParseFloat(chosen.Lat, 64)
		lon, lonErr := strconv.ParseFloat(chosen.Lon, 64)
		if latErr != nil || lonErr != nil {
			fmt.Fprintln(f.out, "Candidate has unusable coordinates.")
			return nil, false
		}
		return &pick{lat: lat, lon: lon}, false
	}
}
