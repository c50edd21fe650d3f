package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"pharmanio/m/domain"
)

// Handler bundles dependencies for HTTP handlers. The API is read-only: the
// loader and scraper are the only writers and run as separate jobs.
type Handler struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// New constructs a Handler.
func New(db *sqlx.DB, logger *zap.Logger) *Handler {
	return &Handler{db: db, logger: logger}
}

// Router wires up the HTTP API.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(h.requestLogger)

	r.Get("/health", h.health)
	r.Get("/pharmacies", h.listPharmacies)
	r.Get("/pharmacies/city/{city_name}", h.pharmaciesByCity)
	r.Get("/cities", h.listCities)
	r.Get("/on-duty", h.onDuty)

	return r
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Response documents

type cityRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type pharmacyResponse struct {
	ID        int64    `json:"id"`
	Name      string   `json:"name"`
	Address   string   `json:"address"`
	Phone     []string `json:"phone"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	CreatedAt string   `json:"created_at"`
	UpdatedAt string   `json:"updated_at"`
	City      cityRef  `json:"city"`
}

type cityResponse struct {
	ID            int64  `db:"id" json:"id"`
	Name          string `db:"name" json:"name"`
	CreatedAt     string `db:"created_at" json:"created_at"`
	PharmacyCount int64  `db:"pharmacy_count" json:"pharmacy_count"`
}

type dutyPeriodDoc struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type onDutyResponse struct {
	DutyPeriod  dutyPeriodDoc      `json:"duty_period"`
	Pharmacies  []pharmacyResponse `json:"pharmacies"`
	TotalCount  int                `json:"total_count"`
	PharmacyIDs domain.IDList      `json:"pharmacy_ids"`
}

type pharmacyRow struct {
	ID        int64            `db:"id"`
	Name      string           `db:"name"`
	Address   string           `db:"address"`
	Phone     domain.PhoneList `db:"phone"`
	Latitude  *float64         `db:"latitude"`
	Longitude *float64         `db:"longitude"`
	CreatedAt string           `db:"created_at"`
	UpdatedAt string           `db:"updated_at"`
	CityID    int64            `db:"city_id"`
	CityName  string           `db:"city_name"`
}

const pharmacySelect = `SELECT p.id, p.name, COALESCE(p.address, '') AS address, p.phone,
    p.latitude, p.longitude, p.created_at, p.updated_at,
    c.id AS city_id, c.name AS city_name
    FROM pharmacies p JOIN cities c ON c.id = p.city_id`

func toPharmacyResponse(row pharmacyRow) pharmacyResponse {
	phone := []string(row.Phone)
	if phone == nil {
		phone = []string{}
	}
	return pharmacyResponse{
		ID:        row.ID,
		Name:      row.Name,
		Address:   row.Address,
		Phone:     phone,
		Latitude:  row.Latitude,
		Longitude: row.Longitude,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
		City:      cityRef{ID: row.CityID, Name: row.CityName},
	}
}

// Handlers

func (h *Handler) listPharmacies(w http.ResponseWriter, r *http.Request) {
	var rows []pharmacyRow
	if err := h.db.Select(&rows, pharmacySelect+` ORDER BY c.name, p.name`); err != nil {
		h.logger.Error("list pharmacies failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "unable to list pharmacies")
		return
	}
	pharmacies := make([]pharmacyResponse, 0, len(rows))
	for _, row := range rows {
		pharmacies = append(pharmacies, toPharmacyResponse(row))
	}
	respondJSON(w, http.StatusOK, pharmacies)
}

func (h *Handler) pharmaciesByCity(w http.ResponseWriter, r *http.Request) {
	cityName := chi.URLParam(r, "city_name")
	var rows []pharmacyRow
	err := h.db.Select(&rows, pharmacySelect+` WHERE LOWER(c.name) = LOWER(?) ORDER BY p.name`, cityName)
	if err != nil {
		h.logger.Error("list pharmacies by city failed", zap.String("city", cityName), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "unable to list pharmacies")
		return
	}
	if len(rows) == 0 {
		respondError(w, http.StatusNotFound, fmt.Sprintf("no pharmacies found in city: %s", cityName))
		return
	}
	pharmacies := make([]pharmacyResponse, 0, len(rows))
	for _, row := range rows {
		pharmacies = append(pharmacies, toPharmacyResponse(row))
	}
	respondJSON(w, http.StatusOK, pharmacies)
}

func (h *Handler) listCities(w http.ResponseWriter, r *http.Request) {
	var cities []cityResponse
	err := h.db.Select(&cities, `SELECT c.id, c.name, c.created_at, COUNT(p.id) AS pharmacy_count
        FROM cities c LEFT JOIN pharmacies p ON p.city_id = c.id
        GROUP BY c.id, c.name, c.created_at
        ORDER BY c.name`)
	if err != nil {
		h.logger.Error("list cities failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "unable to list cities")
		return
	}
	if cities == nil {
		cities = []cityResponse{}
	}
	respondJSON(w, http.StatusOK, cities)
}

func (h *Handler) onDuty(w http.ResponseWriter, r *http.Request) {
	var period domain.OnDutyPeriod
	err := h.db.Get(&period, `SELECT id, start_date, end_date, pharmacy_ids, created_at, updated_at
        FROM on_duty_periods ORDER BY start_date DESC, id DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		respondError(w, http.StatusNotFound, "no on-duty period available")
		return
	}
	if err != nil {
		h.logger.Error("load duty period failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "unable to load on-duty period")
		return
	}

	pharmacies := []pharmacyResponse{}
	if len(period.PharmacyIDs) > 0 {
		query, args, err := sqlx.In(pharmacySelect+` WHERE p.id IN (?) ORDER BY c.name, p.name`, []int64(period.PharmacyIDs))
		if err != nil {
			h.logger.Error("prepare duty pharmacy query failed", zap.Error(err))
			respondError(w, http.StatusInternalServerError, "unable to load on-duty pharmacies")
			return
		}
		var rows []pharmacyRow
		if err := h.db.Select(&rows, h.db.Rebind(query), args...); err != nil {
			h.logger.Error("load duty pharmacies failed", zap.Error(err))
			respondError(w, http.StatusInternalServerError, "unable to load on-duty pharmacies")
			return
		}
		for _, row := range rows {
			pharmacies = append(pharmacies, toPharmacyResponse(row))
		}
	}

	ids := period.PharmacyIDs
	if ids == nil {
		ids = domain.IDList{}
	}
	respondJSON(w, http.StatusOK, onDutyResponse{
		DutyPeriod: dutyPeriodDoc{
			StartDate: period.StartDate,
			EndDate:   period.EndDate,
			CreatedAt: period.CreatedAt,
			UpdatedAt: period.UpdatedAt,
		},
		Pharmacies:  pharmacies,
		TotalCount:  len(pharmacies),
		PharmacyIDs: ids,
	})
}

// Helpers

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	_ = encoder.Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
