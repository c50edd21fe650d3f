package domain

// OnDutyPeriod is one duty roster window. The row with the most recent
// start_date is the current one.
type OnDutyPeriod struct {
	ID          int64  `db:"id" json:"id"`
	StartDate   string `db:"start_date" json:"start_date"`
	EndDate     string `db:"end_date" json:"end_date"`
	PharmacyIDs IDList `db:"pharmacy_ids" json:"pharmacy_ids"`
	CreatedAt   string `db:"created_at" json:"created_at"`
	UpdatedAt   string `db:"updated_at" json:"updated_at"`
}
