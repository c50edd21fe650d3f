package domain

// Dataset is the JSON import document: cities with their nested pharmacy
// records. The coordinate-entry tool edits this document in place before
// an import backfills the store from it.
type Dataset struct {
	Cities []DatasetCity `json:"cities"`
}

type DatasetCity struct {
	Name       string            `json:"name"`
	Pharmacies []DatasetPharmacy `json:"pharmacies"`
}

type DatasetPharmacy struct {
	Name      string   `json:"name"`
	Address   string   `json:"address"`
	Phone     []string `json:"phone"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}
