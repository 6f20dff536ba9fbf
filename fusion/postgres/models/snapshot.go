// File: snapshot.go
package models

import (
	"time"
)

// VulnerabilitySnapshot is an immutable point-in-time aggregate of the
// vulnerability table, created once per sync (or on request).
type VulnerabilitySnapshot struct {
	ID                   uint      `gorm:"primaryKey"`
	SnapshotTime         time.Time `gorm:"column:snapshot_time;not null;index:idx_snapshot_time"`
	TotalVulnerabilities int       `gorm:"column:total_vulnerabilities;default:0"`
	UniqueCVECount       int       `gorm:"column:unique_cve_count;default:0"`
	CriticalCount        int       `gorm:"column:critical_count;default:0"`
	HighCount            int       `gorm:"column:high_count;default:0"`
	MediumCount          int       `gorm:"column:medium_count;default:0"`
	LowCount             int       `gorm:"column:low_count;default:0"`
	ActiveCount          int       `gorm:"column:active_count;default:0"`
	FixedCount           int       `gorm:"column:fixed_count;default:0"`
	TotalDevicesAffected int       `gorm:"column:total_devices_affected;default:0"`
	CreatedAt            time.Time
}

// CVEDeviceSnapshot is one immutable (snapshot, CVE, device) status row,
// owned by its parent snapshot and cascade-deleted with it. The composite
// unique index enforces the one-row-per-pair invariant within a snapshot.
type CVEDeviceSnapshot struct {
	ID         uint                  `gorm:"primaryKey"`
	SnapshotID uint                  `gorm:"column:snapshot_id;not null;uniqueIndex:idx_snapshot_cve_device,priority:1"`
	Snapshot   VulnerabilitySnapshot `gorm:"foreignKey:SnapshotID;constraint:OnDelete:CASCADE"`
	CVEID      string                `gorm:"column:cve_id;size:50;not null;uniqueIndex:idx_snapshot_cve_device,priority:2;index:idx_cds_cve"`
	DeviceID   string                `gorm:"column:device_id;size:100;not null;uniqueIndex:idx_snapshot_cve_device,priority:3"`
	DeviceName string                `gorm:"column:device_name;size:255"`
	Status     string                `gorm:"column:status;size:20;not null"`
	Severity   string                `gorm:"column:severity;size:50"`
	CVSSScore  float64               `gorm:"column:cvss_score"`
	FirstSeen  *time.Time            `gorm:"column:first_seen"`
	LastSeen   *time.Time            `gorm:"column:last_seen"`
}
