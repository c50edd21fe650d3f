package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pharmanio/m/domain"
	"pharmanio/m/internal/database"
	"pharmanio/m/internal/migrations"
)

func setupTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := database.Connect(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, migrations.Run(db))
	return db
}

// seedDirectory stores a small city/pharmacy directory and returns pharmacy
// ids by name.
func seedDirectory(t *testing.T, db *sqlx.DB) map[string]int64 {
	t.Helper()
	ids := make(map[string]int64)
	cities := map[string]int64{}
	for _, city := range []string{"Antananarivo", "Toamasina"} {
		res, err := db.Exec(`INSERT INTO cities (name) VALUES (?)`, city)
		require.NoError(t, err)
		id, err := res.LastInsertId()
		require.NoError(t, err)
		cities[city] = id
	}
	pharmacies := []struct {
		city string
		name string
	}{
		{"Antananarivo", "Pharmacie Hasina"},
		{"Antananarivo", "Pharmacie Metropole"},
		{"Toamasina", "Pharmacie du Port"},
	}
	for _, p := range pharmacies {
		res, err := db.Exec(`INSERT INTO pharmacies (city_id, name) VALUES (?, ?)`, cities[p.city], p.name)
		require.NoError(t, err)
		id, err := res.LastInsertId()
		require.NoError(t, err)
		ids[p.name] = id
	}
	return ids
}

type dutyRow struct {
	name    string
	address string
	phones  []string
}

func dutyPage(title string, rows []dutyRow) string {
	var b strings.Builder
	b.WriteString(`<html><body><h1 class="text-center">` + title + `</h1>`)
	b.WriteString(`<table id="datatable-buttons"><thead><tr><th>Pharmacie</th><th>Adresse</th><th>Contact</th></tr></thead><tbody>`)
	for _, r := range rows {
		fmt.Fprintf(&b, `<tr><td><b>%s</b></td><td>%s</td><td>%s</td></tr>`,
			r.name, r.address, strings.Join(r.phones, "<br/>"))
	}
	b.WriteString(`</tbody></table></body></html>`)
	return b.String()
}

// pageServer serves a mutable HTML body and counts hits.
type pageServer struct {
	*httptest.Server
	body   string
	status int
	hits   int
}

func newPageServer(t *testing.T) *pageServer {
	t.Helper()
	ps := &pageServer{status: http.StatusOK}
	ps.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ps.hits++
		if ps.status != http.StatusOK {
			w.WriteHeader(ps.status)
			return
		}
		fmt.Fprint(w, ps.body)
	}))
	t.Cleanup(ps.Close)
	return ps
}

func currentPeriods(t *testing.T, db *sqlx.DB) []domain.OnDutyPeriod {
	t.Helper()
	var rows []domain.OnDutyPeriod
	require.NoError(t, db.Select(&rows, `SELECT id, start_date, end_date, pharmacy_ids, created_at, updated_at
        FROM on_duty_periods ORDER BY start_date, id`))
	return rows
}

const sampleTitle = "Pharmacies de garde du 22/08/2025 au 05/09/2025"

func sampleRows() []dutyRow {
	return []dutyRow{
		{"PHARMACIE HASINA", "TANA - Analakely", []string{"034 11 222 33", "020 22 333 44"}},
		{"PHARMACIE DU PORT", "TAMATAVE - Bazar Be", []string{"032 44 556 67"}},
	}
}

func TestRunInsertsNewPeriod(t *testing.T) {
	db := setupTestDB(t)
	ids := seedDirectory(t, db)
	srv := newPageServer(t)
	srv.body = dutyPage(sampleTitle, sampleRows())

	s := New(db, srv.URL, time.Second, zap.NewNop())
	res, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "2025-08-22", res.StartDate)
	assert.Equal(t, "2025-09-05", res.EndDate)
	assert.Equal(t, 2, res.Scraped)
	assert.Equal(t, 2, res.Matched)
	assert.Equal(t, 0, res.Unmatched)
	assert.Equal(t, ActionInserted, res.Action)

	periods := currentPeriods(t, db)
	require.Len(t, periods, 1)
	assert.Equal(t, domain.IDList{ids["Pharmacie Hasina"], ids["Pharmacie du Port"]}, periods[0].PharmacyIDs)
}

func TestRunIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	seedDirectory(t, db)
	srv := newPageServer(t)
	srv.body = dutyPage(sampleTitle, sampleRows())

	s := New(db, srv.URL, time.Second, zap.NewNop())
	_, err := s.Run(context.Background())
	require.NoError(t, err)
	before := currentPeriods(t, db)

	res, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ActionUnchanged, res.Action)

	after := currentPeriods(t, db)
	assert.Equal(t, before, after, "identical scrape must not write")
}

func TestRunRefreshesMembershipInSameWindow(t *testing.T) {
	db := setupTestDB(t)
	ids := seedDirectory(t, db)
	srv := newPageServer(t)
	srv.body = dutyPage(sampleTitle, sampleRows())

	s := New(db, srv.URL, time.Second, zap.NewNop())
	_, err := s.Run(context.Background())
	require.NoError(t, err)
	before := currentPeriods(t, db)

	// Same window, corrected roster.
	srv.body = dutyPage(sampleTitle, []dutyRow{
		{"PHARMACIE METROPOLE", "TANA - Ambohijatovo", []string{"033 00 111 22"}},
		{"PHARMACIE DU PORT", "TAMATAVE - Bazar Be", []string{"032 44 556 67"}},
	})
	res, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ActionUpdated, res.Action)

	after := currentPeriods(t, db)
	require.Len(t, after, 1)
	assert.Equal(t, before[0].ID, after[0].ID)
	assert.Equal(t, before[0].CreatedAt, after[0].CreatedAt)
	assert.Equal(t, domain.IDList{ids["Pharmacie Metropole"], ids["Pharmacie du Port"]}, after[0].PharmacyIDs)
	assert.NotEqual(t, before[0].UpdatedAt, after[0].UpdatedAt)
}

func TestRunInsertsRowForNewWindow(t *testing.T) {
	db := setupTestDB(t)
	seedDirectory(t, db)
	srv := newPageServer(t)
	srv.body = dutyPage(sampleTitle, sampleRows())

	s := New(db, srv.URL, time.Second, zap.NewNop())
	_, err := s.Run(context.Background())
	require.NoError(t, err)

	srv.body = dutyPage("Pharmacies de garde du 06/09/2025 au 19/09/2025", sampleRows())
	res, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ActionInserted, res.Action)

	periods := currentPeriods(t, db)
	require.Len(t, periods, 2)
	assert.Equal(t, "2025-09-06", periods[1].StartDate)
	assert.Equal(t, "2025-09-19", periods[1].EndDate)
}

func TestRunFailedFetchPreservesState(t *testing.T) {
	db := setupTestDB(t)
	seedDirectory(t, db)
	srv := newPageServer(t)
	srv.body = dutyPage(sampleTitle, sampleRows())

	s := New(db, srv.URL, time.Second, zap.NewNop())
	_, err := s.Run(context.Background())
	require.NoError(t, err)
	before := currentPeriods(t, db)

	srv.status = http.StatusInternalServerError
	_, err = s.Run(context.Background())
	require.Error(t, err)

	assert.Equal(t, before, currentPeriods(t, db), "failed scrape must leave the store untouched")
}

func TestRunMissingWindowWritesNothing(t *testing.T) {
	db := setupTestDB(t)
	seedDirectory(t, db)
	srv := newPageServer(t)
	srv.body = dutyPage("Pharmacies de garde", sampleRows())

	s := New(db, srv.URL, time.Second, zap.NewNop())
	_, err := s.Run(context.Background())
	require.Error(t, err)
	assert.Empty(t, currentPeriods(t, db))
}

func TestRunExcludesUnmatchedNames(t *testing.T) {
	db := setupTestDB(t)
	ids := seedDirectory(t, db)
	srv := newPageServer(t)
	srv.body = dutyPage(sampleTitle, []dutyRow{
		{"PHARMACIE HASINA", "TANA - Analakely", nil},
		// No pharmacies stored for this city.
		{"PHARMACIE TSARA", "MAJUNGA - Centre", nil},
		// No city marker in the address at all.
		{"PHARMACIE PERDUE", "quelque part", nil},
	})

	s := New(db, srv.URL, time.Second, zap.NewNop())
	res, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Scraped)
	assert.Equal(t, 1, res.Matched)
	assert.Equal(t, 2, res.Unmatched)

	periods := currentPeriods(t, db)
	require.Len(t, periods, 1)
	assert.Equal(t, domain.IDList{ids["Pharmacie Hasina"]}, periods[0].PharmacyIDs)
}

func TestRunDeduplicatesMatchedIDs(t *testing.T) {
	db := setupTestDB(t)
	ids := seedDirectory(t, db)
	srv := newPageServer(t)
	// Two rows resolving to the same stored pharmacy.
	srv.body = dutyPage(sampleTitle, []dutyRow{
		{"PHARMACIE HASINA", "TANA - Analakely", nil},
		{"PHARMACIE HASINA", "TANA - Ambohijatovo", nil},
	})

	s := New(db, srv.URL, time.Second, zap.NewNop())
	res, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Scraped)
	assert.Equal(t, 2, res.Matched)

	periods := currentPeriods(t, db)
	require.Len(t, periods, 1)
	assert.Equal(t, domain.IDList{ids["Pharmacie Hasina"]}, periods[0].PharmacyIDs)
}

func TestRunIfExpiredSkipsValidPeriod(t *testing.T) {
	db := setupTestDB(t)
	seedDirectory(t, db)
	srv := newPageServer(t)
	srv.body = dutyPage(sampleTitle, sampleRows())

	_, err := db.Exec(`INSERT INTO on_duty_periods (start_date, end_date, pharmacy_ids) VALUES ('2999-01-01', '2999-01-14', '[]')`)
	require.NoError(t, err)

	s := New(db, srv.URL, time.Second, zap.NewNop())
	res, err := s.RunIfExpired(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Equal(t, 0, srv.hits, "a valid period must not trigger a fetch")
}

func TestRunIfExpiredScrapesExpiredPeriod(t *testing.T) {
	db := setupTestDB(t)
	seedDirectory(t, db)
	srv := newPageServer(t)
	srv.body = dutyPage(sampleTitle, sampleRows())

	_, err := db.Exec(`INSERT INTO on_duty_periods (start_date, end_date, pharmacy_ids) VALUES ('2020-01-01', '2020-01-14', '[]')`)
	require.NoError(t, err)

	s := New(db, srv.URL, time.Second, zap.NewNop())
	res, err := s.RunIfExpired(context.Background(), time.Now())
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, ActionInserted, res.Action)
	assert.Len(t, currentPeriods(t, db), 2)
}

func TestRunParsesPhonesAcrossBreaks(t *testing.T) {
	db := setupTestDB(t)
	seedDirectory(t, db)
	srv := newPageServer(t)
	srv.body = dutyPage(sampleTitle, sampleRows())

	s := New(db, srv.URL, time.Second, zap.NewNop())
	doc, err := s.fetch(context.Background())
	require.NoError(t, err)
	_, entries, err := parseDutyPage(doc)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, []string{"034 11 222 33", "020 22 333 44"}, entries[0].Phones)
	assert.Equal(t, "TANA", entries[0].City)
	assert.Equal(t, "TANA - Analakely", entries[0].Address)
}
