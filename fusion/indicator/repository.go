// Package indicator persists externally supplied observables (IPs and CVEs).
// Indicators arrive through their own ingestion path, never through the sync
// pipeline; the pipeline only reads them back to rebuild the indicator
// detection flag.
package indicator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/VulnFusion/go-api/fusion"
	"github.com/VulnFusion/go-api/fusion/postgres/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Indicator types.
const (
	TypeIP  = "ip"
	TypeCVE = "cve"
)

// Repository provides append/upsert access to the indicator table.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a Repository on the given connection.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// SaveBatch upserts a batch of IP and CVE indicators. Values are trimmed and
// deduplicated; CVE values are normalized to upper case. Returns the number
// of indicators written.
func (r *Repository) SaveBatch(ctx context.Context, ips, cves []string, sourceText string) (int, error) {
	normalizedIPs := normalize(ips, false)
	normalizedCVEs := normalize(cves, true)
	if len(normalizedIPs) == 0 && len(normalizedCVEs) == 0 {
		return 0, fmt.Errorf("no indicators provided")
	}

	metadata, err := json.Marshal(map[string]int{
		"ip_count":  len(normalizedIPs),
		"cve_count": len(normalizedCVEs),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal indicator metadata: %w", err)
	}

	rows := make([]models.Indicator, 0, len(normalizedIPs)+len(normalizedCVEs))
	for _, ip := range normalizedIPs {
		rows = append(rows, models.Indicator{
			Type:       TypeIP,
			Value:      ip,
			SourceText: sourceText,
			Metadata:   string(metadata),
		})
	}
	for _, cve := range normalizedCVEs {
		rows = append(rows, models.Indicator{
			Type:       TypeCVE,
			Value:      cve,
			SourceText: sourceText,
			Metadata:   string(metadata),
		})
	}

	err = r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "indicator_type"}, {Name: "indicator_value"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"source_text", "metadata", "updated_at",
		}),
	}).Create(&rows).Error
	if err != nil {
		return 0, fmt.Errorf("failed to upsert indicators: %w", err)
	}
	return len(rows), nil
}

// CVEValues returns the distinct CVE ids currently stored as indicators,
// upper-cased, as the hit set for the indicator flag rebuild.
func (r *Repository) CVEValues(ctx context.Context) (map[string]bool, error) {
	var values []string
	err := r.db.WithContext(ctx).Model(&models.Indicator{}).
		Where("indicator_type = ?", TypeCVE).
		Pluck("indicator_value", &values).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list CVE indicators: %w", err)
	}

	set := make(map[string]bool, len(values))
	for _, value := range values {
		if cve := fusion.NormalizeCVE(value); cve != "" {
			set[cve] = true
		}
	}
	return set, nil
}

// normalize trims, drops empties, and deduplicates; asCVE additionally
// upper-cases and discards non-CVE values.
func normalize(values []string, asCVE bool) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		candidate := strings.TrimSpace(value)
		if asCVE {
			candidate = fusion.NormalizeCVE(value)
		}
		if candidate == "" || seen[candidate] {
			continue
		}
		seen[candidate] = true
		out = append(out, candidate)
	}
	return out
}
