// File: vulnerability.go
package models

import (
	"time"
)

// VulnerabilityRecord is one (device, CVE) finding as reported by the
// device-security API. The table is replaced wholesale by the primary full
// sync; enrichment runners only touch the score and detection-flag columns.
type VulnerabilityRecord struct {
	FindingID            string  `gorm:"primaryKey;column:finding_id;size:255"`
	CVEID                string  `gorm:"column:cve_id;size:50;index:idx_vuln_cve;index:idx_vuln_cve_device,priority:1"`
	DeviceID             string  `gorm:"column:device_id;size:100;index:idx_vuln_device;index:idx_vuln_cve_device,priority:2"`
	DeviceName           string  `gorm:"column:device_name;size:255"`
	OSPlatform           string  `gorm:"column:os_platform;size:50"`
	OSVersion            string  `gorm:"column:os_version;size:50"`
	SoftwareVendor       string  `gorm:"column:software_vendor;size:100"`
	SoftwareName         string  `gorm:"column:software_name;size:100"`
	SoftwareVersion      string  `gorm:"column:software_version;size:100"`
	Severity             string  `gorm:"column:severity;size:50;index:idx_vuln_severity"`
	CVSSScore            float64 `gorm:"column:cvss_score"`
	Status               string  `gorm:"column:status;size:20;index:idx_vuln_status"`
	ExploitabilityLevel  string  `gorm:"column:exploitability_level;size:50"`
	EPSSScore            float64 `gorm:"column:epss_score"`
	MetasploitDetected   bool    `gorm:"column:metasploit_detected;default:false"`
	NucleiDetected       bool    `gorm:"column:nuclei_detected;default:false"`
	IndicatorDetected    bool    `gorm:"column:indicator_detected;default:false"`
	PublicExploit        bool    `gorm:"column:cve_public_exploit;default:false"`
	RecommendedUpdate    string  `gorm:"column:recommended_update;type:text"`
	SecurityUpdateAvail  bool    `gorm:"column:security_update_available"`
	FirstSeenTimestamp   *time.Time `gorm:"column:first_seen_timestamp"`
	LastSeenTimestamp    *time.Time `gorm:"column:last_seen_timestamp;index:idx_vuln_last_seen"`
	LastSynced           time.Time  `gorm:"column:last_synced;autoUpdateTime"`
}

// TableName pins the gorm table name; the staging-swap in the vulnerability
// repository depends on it being stable.
func (VulnerabilityRecord) TableName() string {
	return "vulnerabilities"
}

// SyncState records one completed primary sync (append-only).
type SyncState struct {
	ID           uint      `gorm:"primaryKey"`
	LastSyncTime time.Time `gorm:"column:last_sync_time;not null;index:idx_sync_time"`
	SyncType     string    `gorm:"column:sync_type;size:20;default:full"`
	RecordsCount int       `gorm:"column:records_count;default:0"`
	CreatedAt    time.Time
}
