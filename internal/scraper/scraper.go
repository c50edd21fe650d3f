package scraper

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"pharmanio/m/domain"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = time.RFC3339Nano
)

// Actions reported by Result.Action.
const (
	ActionInserted  = "inserted"
	ActionUpdated   = "updated"
	ActionUnchanged = "unchanged"
)

// Window is a duty rotation date range, ISO formatted.
type Window struct {
	StartDate string
	EndDate   string
}

// DutyPharmacy is one row of the scraped duty table, as presented by the
// source.
type DutyPharmacy struct {
	Name    string
	Address string
	City    string
	Phones  []string
}

// Result summarizes one scrape run.
type Result struct {
	StartDate string
	EndDate   string
	Scraped   int
	Matched   int
	Unmatched int
	Action    string
}

// Scraper fetches the on-duty page, resolves the scraped pharmacy names
// against the store and upserts the duty period. It never creates pharmacy
// rows and never writes anything when the fetch or parse fails.
type Scraper struct {
	db     *sqlx.DB
	client *resty.Client
	url    string
	logger *zap.Logger
}

func New(db *sqlx.DB, url string, timeout time.Duration, logger *zap.Logger) *Scraper {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(1 * time.Second).
		SetHeader("Accept", "text/html")
	return &Scraper{db: db, client: client, url: url, logger: logger}
}

// Run performs one full scrape-and-upsert cycle.
func (s *Scraper) Run(ctx context.Context) (*Result, error) {
	doc, err := s.fetch(ctx)
	if err != nil {
		return nil, err
	}
	window, entries, err := parseDutyPage(doc)
	if err != nil {
		return nil, err
	}

	res := &Result{StartDate: window.StartDate, EndDate: window.EndDate, Scraped: len(entries)}
	var ids domain.IDList
	seen := make(map[int64]bool)
	for _, entry := range entries {
		if entry.City == "" {
			s.logger.Warn("scraped row carries no city, skipping", zap.String("pharmacy", entry.Name))
			res.Unmatched++
			continue
		}
		id, ok := s.matchPharmacy(entry.Name, entry.City)
		if !ok {
			res.Unmatched++
			continue
		}
		res.Matched++
		// pharmacy_ids is a set: two rows resolving to the same stored
		// pharmacy contribute one id.
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}

	action, err := s.upsert(window, ids)
	if err != nil {
		return nil, err
	}
	res.Action = action

	s.logger.Info("duty scrape finished",
		zap.String("start_date", res.StartDate),
		zap.String("end_date", res.EndDate),
		zap.Int("scraped", res.Scraped),
		zap.Int("matched", res.Matched),
		zap.Int("unmatched", res.Unmatched),
		zap.String("action", res.Action),
	)
	return res, nil
}

// RunIfExpired scrapes only when no duty period is stored or the current one
// ended before today. Returns (nil, nil) when the stored period still covers
// today.
func (s *Scraper) RunIfExpired(ctx context.Context, today time.Time) (*Result, error) {
	var endDate string
	err := s.db.Get(&endDate, `SELECT end_date FROM on_duty_periods ORDER BY start_date DESC, id DESC LIMIT 1`)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		s.logger.Info("no duty period stored, scraping")
	case err != nil:
		return nil, fmt.Errorf("check current duty period: %w", err)
	case today.Format(dateLayout) <= endDate:
		s.logger.Info("duty period still valid", zap.String("end_date", endDate))
		return nil, nil
	default:
		s.logger.Info("duty period expired, scraping", zap.String("end_date", endDate))
	}
	return s.Run(ctx)
}

func (s *Scraper) fetch(ctx context.Context) (*goquery.Document, error) {
	resp, err := s.client.R().SetContext(ctx).Get(s.url)
	if err != nil {
		return nil, fmt.Errorf("fetch duty page %s: %w", s.url, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch duty page %s: status %s", s.url, resp.Status())
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body()))
	if err != nil {
		return nil, fmt.Errorf("parse duty page: %w", err)
	}
	return doc, nil
}

// upsert applies the scraped window in one transaction. Same window with the
// same resolved id set is a no-op; same window with a different set rewrites
// pharmacy_ids in scrape order; a new window inserts a new row.
func (s *Scraper) upsert(window Window, ids domain.IDList) (string, error) {
	tx, err := s.db.Beginx()
	if err != nil {
		return "", fmt.Errorf("begin duty upsert: %w", err)
	}
	defer tx.Rollback()

	var latest domain.OnDutyPeriod
	err = tx.Get(&latest, `SELECT id, start_date, end_date, pharmacy_ids, created_at, updated_at
        FROM on_duty_periods ORDER BY start_date DESC, id DESC LIMIT 1`)
	now := time.Now().UTC().Format(timeLayout)

	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return "", fmt.Errorf("load current duty period: %w", err)
	case latest.StartDate == window.StartDate && latest.EndDate == window.EndDate:
		if sameIDSet(latest.PharmacyIDs, ids) {
			return ActionUnchanged, nil
		}
		if _, err := tx.Exec(`UPDATE on_duty_periods SET pharmacy_ids = ?, updated_at = ? WHERE id = ?`,
			ids, now, latest.ID); err != nil {
			return "", fmt.Errorf("refresh duty period: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return "", fmt.Errorf("commit duty upsert: %w", err)
		}
		return ActionUpdated, nil
	}

	if _, err := tx.Exec(`INSERT INTO on_duty_periods (start_date, end_date, pharmacy_ids, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?)`,
		window.StartDate, window.EndDate, ids, now, now); err != nil {
		return "", fmt.Errorf("insert duty period: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit duty upsert: %w", err)
	}
	return ActionInserted, nil
}

// sameIDSet compares membership, not order; the stored order is the scrape
// order and is allowed to vary between runs.
func sameIDSet(a, b domain.IDList) bool {
	if len(a) != len(b) {
		return false
	}
	as := slices.Clone([]int64(a))
	bs := slices.Clone([]int64(b))
	slices.Sort(as)
	slices.Sort(bs)
	return slices.Equal(as, bs)
}
