package models

import (
	"database/sql"
	"database/sql/driver"
	"fmt"
	"time"
)

// timeLayouts covers the formats drivers hand back for timestamp
// expressions. Aggregate expressions (MAX, MIN) carry no declared column
// type, so sqlite returns their value as text instead of time.Time.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ScannedTime is a nullable timestamp that scans from either a native
// time.Time or a driver-formatted string. Use it for computed/aggregate
// columns; plain model fields keep *time.Time.
type ScannedTime struct {
	Time  time.Time
	Valid bool
}

// Both halves of the database contract matter here: gorm's schema parser
// treats a struct-typed field without a Valuer as a relation and rejects
// the scan target outright.
var (
	_ sql.Scanner   = (*ScannedTime)(nil)
	_ driver.Valuer = ScannedTime{}
)

// Value satisfies driver.Valuer so ScannedTime works as a plain scan
// target field. Null when the source column was null.
func (t ScannedTime) Value() (driver.Value, error) {
	if !t.Valid {
		return nil, nil
	}
	return t.Time, nil
}

func (t *ScannedTime) Scan(value any) error {
	t.Time, t.Valid = time.Time{}, false
	switch v := value.(type) {
	case nil:
		return nil
	case time.Time:
		t.Time, t.Valid = v, true
		return nil
	case []byte:
		return t.parse(string(v))
	case string:
		return t.parse(v)
	default:
		return fmt.Errorf("cannot scan %T into ScannedTime", value)
	}
}

func (t *ScannedTime) parse(s string) error {
	if s == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time, t.Valid = parsed, true
			return nil
		}
	}
	return fmt.Errorf("cannot parse %q as timestamp", s)
}

// Ptr returns the value as the *time.Time shape model fields use, nil when
// the source column was null.
func (t ScannedTime) Ptr() *time.Time {
	if !t.Valid {
		return nil
	}
	clone := t.Time
	return &clone
}
