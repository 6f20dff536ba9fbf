// Package vulnerability owns the canonical vulnerabilities table: the full
// Vulnerability Store replace performed by the primary sync, the batched
// score enrichment, and the aggregate queries the feed fusion needs.
package vulnerability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/VulnFusion/go-api/fusion/postgres/models"
	"gorm.io/gorm"
)

const (
	stagingTable = "vulnerabilities_staging"
	retiredTable = "vulnerabilities_old"

	// insertBatchSize bounds a single INSERT during bulk loads.
	insertBatchSize = 500
	// cveChunkSize bounds the id list of a single IN (...) clause.
	cveChunkSize = 500
)

// Repository provides database operations for the Vulnerability Store.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a Repository on the given connection.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// ReplaceAll substitutes the whole vulnerabilities table with the given
// population. The new rows are loaded into a staging table first and swapped
// in with transactional renames, so concurrent readers only ever see the
// pre-swap or post-swap population. On any failure before the swap commits,
// the live table is untouched.
func (r *Repository) ReplaceAll(ctx context.Context, records []models.VulnerabilityRecord) error {
	db := r.db.WithContext(ctx)
	migrator := db.Migrator()

	// Clear leftovers from an earlier failed run.
	for _, table := range []string{stagingTable, retiredTable} {
		if migrator.HasTable(table) {
			if err := migrator.DropTable(table); err != nil {
				return fmt.Errorf("failed to drop leftover table %s: %w", table, err)
			}
		}
	}

	// CREATE TABLE AS with an empty result set clones the column layout
	// without indexes; indexes are restored after the swap.
	err := db.Exec(fmt.Sprintf(
		"CREATE TABLE %s AS SELECT * FROM %s WHERE 1=0",
		stagingTable, models.VulnerabilityRecord{}.TableName(),
	)).Error
	if err != nil {
		return fmt.Errorf("failed to create staging table: %w", err)
	}

	if len(records) > 0 {
		if err := db.Table(stagingTable).CreateInBatches(records, insertBatchSize).Error; err != nil {
			return fmt.Errorf("failed to load staging table: %w", err)
		}
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		live := models.VulnerabilityRecord{}.TableName()
		if err := tx.Migrator().RenameTable(live, retiredTable); err != nil {
			return fmt.Errorf("failed to retire live table: %w", err)
		}
		if err := tx.Migrator().RenameTable(stagingTable, live); err != nil {
			return fmt.Errorf("failed to promote staging table: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := migrator.DropTable(retiredTable); err != nil {
		return fmt.Errorf("failed to drop retired table: %w", err)
	}
	if err := db.AutoMigrate(&models.VulnerabilityRecord{}); err != nil {
		return fmt.Errorf("failed to restore indexes after swap: %w", err)
	}

	slog.Info("Vulnerability table replaced", "records", len(records))
	return nil
}

// Count returns the number of rows currently in the vulnerabilities table.
func (r *Repository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.VulnerabilityRecord{}).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count vulnerabilities: %w", err)
	}
	return count, nil
}

// ScoreUpdate is one (CVE, EPSS score) pair from the bulk score feed.
type ScoreUpdate struct {
	CVEID string  `gorm:"column:cve_id"`
	Score float64 `gorm:"column:score"`
}

// UpdateEPSSScores applies EPSS scores to matching CVE rows in one
// transaction: the pairs are staged into a temporary table in batches, then
// joined against the vulnerabilities table in a single UPDATE. CVEs with no
// matching row are ignored. Returns the number of updated rows; on error
// nothing is applied.
func (r *Repository) UpdateEPSSScores(ctx context.Context, scores []ScoreUpdate) (int64, error) {
	if len(scores) == 0 {
		return 0, nil
	}

	var updated int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Exec(`
			CREATE TEMPORARY TABLE IF NOT EXISTS epss_staging (
				cve_id VARCHAR(50) PRIMARY KEY,
				score FLOAT
			)
		`).Error
		if err != nil {
			return fmt.Errorf("failed to create score staging table: %w", err)
		}
		if err := tx.Exec("DELETE FROM epss_staging").Error; err != nil {
			return fmt.Errorf("failed to clear score staging table: %w", err)
		}

		if err := tx.Table("epss_staging").CreateInBatches(scores, insertBatchSize).Error; err != nil {
			return fmt.Errorf("failed to stage scores: %w", err)
		}

		result := tx.Exec(`
			UPDATE vulnerabilities
			SET epss_score = (
				SELECT s.score FROM epss_staging s WHERE s.cve_id = UPPER(vulnerabilities.cve_id)
			)
			WHERE UPPER(cve_id) IN (SELECT cve_id FROM epss_staging)
		`)
		if result.Error != nil {
			return fmt.Errorf("failed to apply scores: %w", result.Error)
		}
		updated = result.RowsAffected

		if err := tx.Exec("DROP TABLE epss_staging").Error; err != nil {
			return fmt.Errorf("failed to drop score staging table: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return updated, nil
}

// ExistingCVEs filters the candidate set down to CVE ids currently present
// in the Vulnerability Store. Candidates are expected upper-cased.
func (r *Repository) ExistingCVEs(ctx context.Context, candidates []string) (map[string]bool, error) {
	present := make(map[string]bool, len(candidates))
	db := r.db.WithContext(ctx)

	for _, chunk := range chunkStrings(candidates, cveChunkSize) {
		var found []struct {
			CVEID string `gorm:"column:cve_id"`
		}
		err := db.Model(&models.VulnerabilityRecord{}).
			Select("DISTINCT UPPER(cve_id) AS cve_id").
			Where("UPPER(cve_id) IN ?", chunk).
			Scan(&found).Error
		if err != nil {
			return nil, fmt.Errorf("failed to filter existing CVEs: %w", err)
		}
		for _, row := range found {
			present[row.CVEID] = true
		}
	}
	return present, nil
}

// FeedStat is the per-CVE aggregate a threat-feed cache row is built from: a
// join against the current vulnerability population, not feed-supplied data.
type FeedStat struct {
	CVEID        string             `gorm:"column:cve_id"`
	DeviceCount  int                `gorm:"column:device_count"`
	SeverityRank int                `gorm:"column:severity_rank"`
	MaxCVSS      float64            `gorm:"column:max_cvss"`
	LastSeen     models.ScannedTime `gorm:"column:last_seen"`
}

// FeedStats computes affected-device count, max severity rank, max CVSS and
// latest last-seen for each CVE in the given set that exists in the store.
func (r *Repository) FeedStats(ctx context.Context, cves []string) ([]FeedStat, error) {
	db := r.db.WithContext(ctx)
	stats := make([]FeedStat, 0, len(cves))

	for _, chunk := range chunkStrings(cves, cveChunkSize) {
		var rows []FeedStat
		err := db.Model(&models.VulnerabilityRecord{}).
			Select(`
				UPPER(cve_id) AS cve_id,
				COUNT(DISTINCT device_id) AS device_count,
				MAX(CASE
					WHEN LOWER(severity) LIKE '%critical%' THEN 4
					WHEN LOWER(severity) LIKE '%high%' THEN 3
					WHEN LOWER(severity) LIKE '%medium%' THEN 2
					WHEN LOWER(severity) LIKE '%low%' THEN 1
					ELSE 0
				END) AS severity_rank,
				MAX(cvss_score) AS max_cvss,
				MAX(last_seen_timestamp) AS last_seen
			`).
			Where("UPPER(cve_id) IN ?", chunk).
			Group("UPPER(cve_id)").
			Scan(&rows).Error
		if err != nil {
			return nil, fmt.Errorf("failed to compute feed stats: %w", err)
		}
		stats = append(stats, rows...)
	}
	return stats, nil
}

// RecordSyncState appends a sync-state row after a completed primary sync.
func (r *Repository) RecordSyncState(ctx context.Context, syncTime time.Time, syncType string, records int) error {
	state := models.SyncState{
		LastSyncTime: syncTime,
		SyncType:     syncType,
		RecordsCount: records,
	}
	if err := r.db.WithContext(ctx).Create(&state).Error; err != nil {
		return fmt.Errorf("failed to record sync state: %w", err)
	}
	return nil
}

// LastSyncState returns the most recent sync-state row, or nil when nothing
// has ever synced.
func (r *Repository) LastSyncState(ctx context.Context) (*models.SyncState, error) {
	var state models.SyncState
	err := r.db.WithContext(ctx).Order("id DESC").First(&state).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load sync state: %w", err)
	}
	return &state, nil
}

// chunkStrings splits values into slices of at most size elements.
func chunkStrings(values []string, size int) [][]string {
	var chunks [][]string
	for start := 0; start < len(values); start += size {
		end := start + size
		if end > len(values) {
			end = len(values)
		}
		chunks = append(chunks, values[start:end])
	}
	return chunks
}
