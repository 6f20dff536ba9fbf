// File: threatfeed.go
package models

import (
	"time"
)

// ThreatFeedEntry is one CVE known to an external threat feed. Each feed owns
// its own physical table (supplied through db.Table(...) by the caller), all
// sharing this shape. The table is a derived cache: the device/severity
// aggregates are computed against the vulnerability table at fusion time, and
// the whole table is replaced on every run.
type ThreatFeedEntry struct {
	ID                uint       `gorm:"primaryKey"`
	CVEID             string     `gorm:"column:cve_id;size:50;index"`
	DeviceCount       int        `gorm:"column:device_count;default:0"`
	MaxSeverity       string     `gorm:"column:max_severity;size:50"`
	MaxCVSS           float64    `gorm:"column:max_cvss"`
	LastSeen          *time.Time `gorm:"column:last_seen"`
	SourceTitle       string     `gorm:"column:source_title;size:500"`
	SourceDescription string     `gorm:"column:source_description;type:text"`
	SourceSeverity    string     `gorm:"column:source_severity;size:50"`
	SourceCVSS        float64    `gorm:"column:source_cvss"`
	CreatedAt         time.Time
}

// Indicator is an externally supplied observable (IP or CVE). Rows are only
// ever upserted, never truncated; CVE-typed rows drive the indicator
// detection-flag rebuild.
type Indicator struct {
	ID         uint   `gorm:"primaryKey"`
	Type       string `gorm:"column:indicator_type;size:10;not null;uniqueIndex:idx_indicator_type_value,priority:1"`
	Value      string `gorm:"column:indicator_value;size:255;not null;uniqueIndex:idx_indicator_type_value,priority:2"`
	SourceText string `gorm:"column:source_text;type:text"`
	Metadata   string `gorm:"column:metadata;type:text"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
