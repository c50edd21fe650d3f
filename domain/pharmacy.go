package domain

type Pharmacy struct {
	ID        int64     `db:"id" json:"id"`
	CityID    int64     `db:"city_id" json:"city_id"`
	Name      string    `db:"name" json:"name"`
	Address   string    `db:"address" json:"address"`
	Phone     PhoneList `db:"phone" json:"phone"`
	Latitude  *float64  `db:"latitude" json:"latitude"`
	Longitude *float64  `db:"longitude" json:"longitude"`
	CreatedAt string    `db:"created_at" json:"created_at"`
	UpdatedAt string    `db:"updated_at" json:"updated_at"`
}
