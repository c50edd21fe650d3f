package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// PhoneList is an ordered list of phone numbers. The store keeps it as a
// single comma-separated text column; encoding happens only here.
type PhoneList []string

func (p PhoneList) Value() (driver.Value, error) {
	if len(p) == 0 {
		return nil, nil
	}
	return strings.Join(p, ", "), nil
}

func (p *PhoneList) Scan(src any) error {
	var raw string
	switch v := src.(type) {
	case nil:
		*p = nil
		return nil
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("phone list: cannot scan %T", src)
	}
	var list PhoneList
	for _, part := range strings.Split(raw, ",") {
		if num := strings.TrimSpace(part); num != "" {
			list = append(list, num)
		}
	}
	*p = list
	return nil
}

// IDList is an ordered set of pharmacy ids, stored as a JSON array in a
// text column.
type IDList []int64

func (l IDList) Value() (driver.Value, error) {
	ids := []int64(l)
	if ids == nil {
		ids = []int64{}
	}
	encoded, err := json.Marshal(ids)
	if err != nil {
		return nil, fmt.Errorf("id list: %w", err)
	}
	return string(encoded), nil
}

func (l *IDList) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("id list: cannot scan %T", src)
	}
	if len(raw) == 0 {
		*l = nil
		return nil
	}
	var ids []int64
	if err := json.Unmarshal(raw, &ids); err != nil {
		return fmt.Errorf("id list: %w", err)
	}
	*l = ids
	return nil
}
