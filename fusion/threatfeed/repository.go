// Package threatfeed owns the per-feed cache tables. Each table is a derived
// view of one external feed joined against the current vulnerability
// population, and is replaced wholesale on every run of its feed.
package threatfeed

import (
	"context"
	"fmt"

	"github.com/VulnFusion/go-api/fusion/postgres/models"
	"gorm.io/gorm"
)

const insertBatchSize = 500

// Repository provides cache-table operations for threat feeds.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a Repository on the given connection.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Replace substitutes the feed's cache table contents in one transaction
// (delete everything, bulk insert the new entries), so the table never holds
// CVEs from an earlier run.
func (r *Repository) Replace(ctx context.Context, table string, entries []models.ThreatFeedEntry) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Table(table).Where("1 = 1").Delete(&models.ThreatFeedEntry{}).Error; err != nil {
			return fmt.Errorf("failed to clear feed cache %s: %w", table, err)
		}
		if len(entries) == 0 {
			return nil
		}
		if err := tx.Table(table).CreateInBatches(entries, insertBatchSize).Error; err != nil {
			return fmt.Errorf("failed to load feed cache %s: %w", table, err)
		}
		return nil
	})
}

// Entries returns the cache rows of a feed ordered by affected-device count.
func (r *Repository) Entries(ctx context.Context, table string, limit int) ([]models.ThreatFeedEntry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	var entries []models.ThreatFeedEntry
	err := r.db.WithContext(ctx).Table(table).
		Order("device_count DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list feed cache %s: %w", table, err)
	}
	return entries, nil
}
