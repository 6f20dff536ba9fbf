package snapshot

import (
	"context"
	"fmt"
	"time"

	"github.com/VulnFusion/go-api/fusion/postgres/models"
	"gorm.io/gorm"
)

const entryBatchSize = 500

// Calculator computes and persists point-in-time snapshots of the
// vulnerability table.
type Calculator struct {
	db *gorm.DB
}

// NewCalculator creates a Calculator on the given connection.
func NewCalculator(db *gorm.DB) *Calculator {
	return &Calculator{db: db}
}

// aggregateCounts mirrors the snapshot columns computed in one pass over the
// vulnerabilities table.
type aggregateCounts struct {
	Total           int `gorm:"column:total"`
	UniqueCVEs      int `gorm:"column:unique_cves"`
	Critical        int `gorm:"column:critical"`
	High            int `gorm:"column:high"`
	Medium          int `gorm:"column:medium"`
	Low             int `gorm:"column:low"`
	Active          int `gorm:"column:active"`
	Fixed           int `gorm:"column:fixed"`
	DevicesAffected int `gorm:"column:devices_affected"`
}

// cveDevicePair is the scan target for the grouped (CVE, device) query.
type cveDevicePair struct {
	CVEID      string             `gorm:"column:cve_id"`
	DeviceID   string             `gorm:"column:device_id"`
	DeviceName string             `gorm:"column:device_name"`
	Status     string             `gorm:"column:status"`
	Severity   string             `gorm:"column:severity"`
	CVSSScore  float64            `gorm:"column:cvss_score"`
	FirstSeen  models.ScannedTime `gorm:"column:first_seen"`
	LastSeen   models.ScannedTime `gorm:"column:last_seen"`
}

// Create computes aggregate counts and per-(CVE, device) status rows from
// the current vulnerability population and stores them as one immutable
// snapshot, all within a single transaction. The composite unique index on
// (snapshot_id, cve_id, device_id) rejects duplicate pairs, so a defective
// double computation fails loudly instead of silently inflating the snapshot.
func (c *Calculator) Create(ctx context.Context) (*models.VulnerabilitySnapshot, error) {
	var created *models.VulnerabilitySnapshot

	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var counts aggregateCounts
		err := tx.Model(&models.VulnerabilityRecord{}).
			Select(`
				COUNT(*) AS total,
				COUNT(DISTINCT UPPER(cve_id)) AS unique_cves,
				SUM(CASE WHEN LOWER(severity) LIKE '%critical%' THEN 1 ELSE 0 END) AS critical,
				SUM(CASE WHEN LOWER(severity) LIKE '%high%' THEN 1 ELSE 0 END) AS high,
				SUM(CASE WHEN LOWER(severity) LIKE '%medium%' THEN 1 ELSE 0 END) AS medium,
				SUM(CASE WHEN LOWER(severity) LIKE '%low%' THEN 1 ELSE 0 END) AS low,
				SUM(CASE WHEN LOWER(status) LIKE 'active%' THEN 1 ELSE 0 END) AS active,
				SUM(CASE WHEN LOWER(status) LIKE 'fixed%' THEN 1 ELSE 0 END) AS fixed,
				COUNT(DISTINCT device_id) AS devices_affected
			`).
			Scan(&counts).Error
		if err != nil {
			return fmt.Errorf("failed to compute snapshot aggregates: %w", err)
		}

		snap := models.VulnerabilitySnapshot{
			SnapshotTime:         time.Now().UTC(),
			TotalVulnerabilities: counts.Total,
			UniqueCVECount:       counts.UniqueCVEs,
			CriticalCount:        counts.Critical,
			HighCount:            counts.High,
			MediumCount:          counts.Medium,
			LowCount:             counts.Low,
			ActiveCount:          counts.Active,
			FixedCount:           counts.Fixed,
			TotalDevicesAffected: counts.DevicesAffected,
		}
		if err := tx.Create(&snap).Error; err != nil {
			return fmt.Errorf("failed to insert snapshot: %w", err)
		}

		// One row per distinct (CVE, device) pair currently present; findings
		// for the same pair across multiple software entries collapse into a
		// single representative row. Timestamps come back from the aggregate
		// expressions without a declared type, so they scan through
		// ScannedTime.
		var rows []cveDevicePair
		err = tx.Model(&models.VulnerabilityRecord{}).
			Select(`
				UPPER(cve_id) AS cve_id,
				device_id,
				MAX(device_name) AS device_name,
				MAX(status) AS status,
				MAX(severity) AS severity,
				MAX(cvss_score) AS cvss_score,
				MIN(first_seen_timestamp) AS first_seen,
				MAX(last_seen_timestamp) AS last_seen
			`).
			Group("UPPER(cve_id), device_id").
			Scan(&rows).Error
		if err != nil {
			return fmt.Errorf("failed to compute CVE-device pairs: %w", err)
		}

		pairs := make([]models.CVEDeviceSnapshot, 0, len(rows))
		for _, row := range rows {
			pairs = append(pairs, models.CVEDeviceSnapshot{
				SnapshotID: snap.ID,
				CVEID:      row.CVEID,
				DeviceID:   row.DeviceID,
				DeviceName: row.DeviceName,
				Status:     row.Status,
				Severity:   row.Severity,
				CVSSScore:  row.CVSSScore,
				FirstSeen:  row.FirstSeen.Ptr(),
				LastSeen:   row.LastSeen.Ptr(),
			})
		}
		if len(pairs) > 0 {
			if err := tx.Omit("Snapshot").CreateInBatches(pairs, entryBatchSize).Error; err != nil {
				return fmt.Errorf("failed to insert CVE-device snapshot rows: %w", err)
			}
		}

		created = &snap
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}
