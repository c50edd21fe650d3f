package migrations

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

// ErrSchemaConflict signals that the store already contains one of our
// tables with an incompatible layout. The schema is never auto-migrated;
// the conflict is reported and startup fails.
var ErrSchemaConflict = errors.New("schema conflict")

// Dates and timestamps are declared TEXT on purpose: the sqlite driver
// converts DATE/DATETIME declared columns to time.Time on scan, which would
// turn a stored "2025-08-22" into "2025-08-22T00:00:00Z" in string fields.
var statements = []string{
	`CREATE TABLE IF NOT EXISTS cities (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        name TEXT NOT NULL UNIQUE,
        created_at TEXT DEFAULT CURRENT_TIMESTAMP
    );`,
	`CREATE TABLE IF NOT EXISTS pharmacies (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        city_id INTEGER NOT NULL,
        name TEXT NOT NULL,
        address TEXT,
        phone TEXT,
        latitude REAL,
        longitude REAL,
        created_at TEXT DEFAULT CURRENT_TIMESTAMP,
        updated_at TEXT DEFAULT CURRENT_TIMESTAMP,
        FOREIGN KEY(city_id) REFERENCES cities(id)
    );`,
	`CREATE TABLE IF NOT EXISTS on_duty_periods (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        start_date TEXT NOT NULL,
        end_date TEXT NOT NULL,
        pharmacy_ids TEXT,
        created_at TEXT DEFAULT CURRENT_TIMESTAMP,
        updated_at TEXT DEFAULT CURRENT_TIMESTAMP
    );`,
	`CREATE INDEX IF NOT EXISTS idx_pharmacies_city_id ON pharmacies(city_id);`,
	`CREATE INDEX IF NOT EXISTS idx_pharmacies_coordinates ON pharmacies(latitude, longitude);`,
	`CREATE INDEX IF NOT EXISTS idx_pharmacies_name ON pharmacies(name);`,
}

type column struct {
	name     string
	declType string
}

var expectedColumns = map[string][]column{
	"cities": {
		{"id", "INTEGER"},
		{"name", "TEXT"},
		{"created_at", "TEXT"},
	},
	"pharmacies": {
		{"id", "INTEGER"},
		{"city_id", "INTEGER"},
		{"name", "TEXT"},
		{"address", "TEXT"},
		{"phone", "TEXT"},
		{"latitude", "REAL"},
		{"longitude", "REAL"},
		{"created_at", "TEXT"},
		{"updated_at", "TEXT"},
	},
	"on_duty_periods": {
		{"id", "INTEGER"},
		{"start_date", "TEXT"},
		{"end_date", "TEXT"},
		{"pharmacy_ids", "TEXT"},
		{"created_at", "TEXT"},
		{"updated_at", "TEXT"},
	},
}

// Run creates the directory schema. It is idempotent: re-running against an
// already initialized store is a no-op, and a store whose tables exist with
// different column layouts is rejected with ErrSchemaConflict.
func Run(db *sqlx.DB) error {
	if err := verify(db); err != nil {
		return err
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func verify(db *sqlx.DB) error {
	for table, want := range expectedColumns {
		type info struct {
			Name string `db:"name"`
			Type string `db:"type"`
		}
		var cols []info
		if err := db.Select(&cols, fmt.Sprintf(`SELECT name, type FROM pragma_table_info(%q)`, table)); err != nil {
			return fmt.Errorf("inspect table %s: %w", table, err)
		}
		if len(cols) == 0 {
			// Table absent, Run will create it.
			continue
		}
		got := make(map[string]string, len(cols))
		for _, c := range cols {
			got[c.Name] = c.Type
		}
		for _, col := range want {
			declared, ok := got[col.name]
			if !ok {
				return fmt.Errorf("%w: table %s is missing column %s", ErrSchemaConflict, table, col.name)
			}
			if !strings.EqualFold(declared, col.declType) {
				return fmt.Errorf("%w: table %s column %s is %s, want %s", ErrSchemaConflict, table, col.name, declared, col.declType)
			}
		}
	}
	return nil
}
