package seed

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"pharmanio/m/domain"
)

const timeLayout = time.RFC3339Nano

// Summary reports the outcome of one dataset import run.
type Summary struct {
	CitiesAdded int
	Inserted    int
	Updated     int
	Unchanged   int
	Malformed   int
}

// Load imports the JSON dataset document at path into the store. The whole
// run is one transaction; repeated loads of the same document are no-ops.
// Records without a name are counted as malformed and skipped.
func Load(db *sqlx.DB, logger *zap.Logger, path string) (Summary, error) {
	var summary Summary

	raw, err := os.ReadFile(path)
	if err != nil {
		return summary, fmt.Errorf("read dataset %s: %w", path, err)
	}
	var doc domain.Dataset
	if err := json.Unmarshal(raw, &doc); err != nil {
		return summary, fmt.Errorf("parse dataset %s: %w", path, err)
	}

	tx, err := db.Beginx()
	if err != nil {
		return summary, fmt.Errorf("begin import: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(timeLayout)
	claimed := make(map[int64]bool)
	for _, city := range doc.Cities {
		cityName := strings.TrimSpace(city.Name)
		if cityName == "" {
			logger.Warn("skipping city without a name", zap.Int("pharmacies", len(city.Pharmacies)))
			summary.Malformed += len(city.Pharmacies)
			continue
		}
		cityID, added, err := ensureCity(tx, cityName, now)
		if err != nil {
			return summary, err
		}
		if added {
			summary.CitiesAdded++
		}
		for _, record := range city.Pharmacies {
			if err := upsertPharmacy(tx, logger, &summary, claimed, cityID, cityName, record, now); err != nil {
				return summary, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return summary, fmt.Errorf("commit import: %w", err)
	}
	logger.Info("dataset import finished",
		zap.Int("cities_added", summary.CitiesAdded),
		zap.Int("inserted", summary.Inserted),
		zap.Int("updated", summary.Updated),
		zap.Int("unchanged", summary.Unchanged),
		zap.Int("malformed", summary.Malformed),
	)
	return summary, nil
}

// ensureCity returns the id of the named city, inserting it on first sight.
func ensureCity(tx *sqlx.Tx, name, now string) (int64, bool, error) {
	var id int64
	err := tx.Get(&id, `SELECT id FROM cities WHERE name = ?`, name)
	if err == nil {
		return id, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, false, fmt.Errorf("look up city %s: %w", name, err)
	}
	res, err := tx.Exec(`INSERT INTO cities (name, created_at) VALUES (?, ?)`, name, now)
	if err != nil {
		return 0, false, fmt.Errorf("insert city %s: %w", name, err)
	}
	id, err = res.LastInsertId()
	if err != nil {
		return 0, false, fmt.Errorf("insert city %s: %w", name, err)
	}
	return id, true, nil
}

type pharmacyFields struct {
	ID        int64            `db:"id"`
	Address   string           `db:"address"`
	Phone     domain.PhoneList `db:"phone"`
	Latitude  *float64         `db:"latitude"`
	Longitude *float64         `db:"longitude"`
}

func upsertPharmacy(tx *sqlx.Tx, logger *zap.Logger, summary *Summary, claimed map[int64]bool, cityID int64, cityName string, record domain.DatasetPharmacy, now string) error {
	name := strings.TrimSpace(record.Name)
	if name == "" {
		logger.Warn("skipping pharmacy without a name", zap.String("city", cityName))
		summary.Malformed++
		return nil
	}
	address := strings.TrimSpace(record.Address)
	phones := cleanPhones(record.Phone)
	lat := validCoordinate(logger, name, "latitude", record.Latitude, 90)
	lon := validCoordinate(logger, name, "longitude", record.Longitude, 180)

	existing, err := findExisting(tx, claimed, cityID, name, address)
	if err != nil {
		return fmt.Errorf("look up pharmacy %s: %w", name, err)
	}
	if existing == nil {
		res, err := tx.Exec(`INSERT INTO pharmacies (city_id, name, address, phone, latitude, longitude, created_at, updated_at)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			cityID, name, nullIfEmpty(address), domain.PhoneList(phones), lat, lon, now, now)
		if err != nil {
			return fmt.Errorf("insert pharmacy %s: %w", name, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("insert pharmacy %s: %w", name, err)
		}
		claimed[id] = true
		summary.Inserted++
		return nil
	}
	claimed[existing.ID] = true

	if existing.Address == address &&
		slices.Equal([]string(existing.Phone), phones) &&
		coordEqual(existing.Latitude, lat) &&
		coordEqual(existing.Longitude, lon) {
		summary.Unchanged++
		return nil
	}

	_, err = tx.Exec(`UPDATE pharmacies SET address = ?, phone = ?, latitude = ?, longitude = ?, updated_at = ? WHERE id = ?`,
		nullIfEmpty(address), domain.PhoneList(phones), lat, lon, now, existing.ID)
	if err != nil {
		return fmt.Errorf("update pharmacy %s: %w", name, err)
	}
	summary.Updated++
	return nil
}

// findExisting resolves the record's natural key (name+address,
// case-normalized, scoped to the city). When the address changed, the key
// misses; a name-only fallback then matches the single stored pharmacy with
// that name so the row is updated in place instead of duplicated. Rows
// already claimed by this run never match the fallback, which keeps
// documents listing same-named pharmacies at different addresses stable
// across repeated loads.
func findExisting(tx *sqlx.Tx, claimed map[int64]bool, cityID int64, name, address string) (*pharmacyFields, error) {
	var existing pharmacyFields
	err := tx.Get(&existing, `SELECT id, COALESCE(address, '') AS address, phone, latitude, longitude
        FROM pharmacies
        WHERE city_id = ? AND LOWER(name) = LOWER(?) AND LOWER(COALESCE(address, '')) = LOWER(?)`,
		cityID, name, address)
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	var byName []pharmacyFields
	err = tx.Select(&byName, `SELECT id, COALESCE(address, '') AS address, phone, latitude, longitude
        FROM pharmacies
        WHERE city_id = ? AND LOWER(name) = LOWER(?) ORDER BY id`,
		cityID, name)
	if err != nil {
		return nil, err
	}
	var unclaimed []pharmacyFields
	for _, p := range byName {
		if !claimed[p.ID] {
			unclaimed = append(unclaimed, p)
		}
	}
	if len(unclaimed) == 1 {
		return &unclaimed[0], nil
	}
	return nil, nil
}

func cleanPhones(raw []string) []string {
	var phones []string
	for _, num := range raw {
		if trimmed := strings.TrimSpace(num); trimmed != "" {
			phones = append(phones, trimmed)
		}
	}
	return phones
}

// validCoordinate drops out-of-range values rather than failing the record.
func validCoordinate(logger *zap.Logger, pharmacy, kind string, value *float64, bound float64) *float64 {
	if value == nil {
		return nil
	}
	if *value < -bound || *value > bound {
		logger.Warn("dropping out-of-range coordinate",
			zap.String("pharmacy", pharmacy),
			zap.String("coordinate", kind),
			zap.Float64("value", *value),
		)
		return nil
	}
	return value
}

func coordEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func nullIfEmpty(val string) *string {
	if val == "" {
		return nil
	}
	return &val
}
