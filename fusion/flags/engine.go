// Package flags rebuilds the boolean "detected by source" columns on the
// vulnerabilities table. Every detection column — feed-driven or
// indicator-driven — goes through the same reset-then-apply rebuild, which is
// what keeps the flags idempotent and clears CVEs that drop out of a feed.
package flags

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"gorm.io/gorm"
)

// Detection columns the engine may touch. Rebuild refuses anything else so a
// feed definition typo cannot flip an arbitrary column.
const (
	ColumnMetasploit    = "metasploit_detected"
	ColumnNuclei        = "nuclei_detected"
	ColumnIndicator     = "indicator_detected"
	ColumnPublicExploit = "cve_public_exploit"
)

// applyChunkSize bounds the id list of a single flag UPDATE.
const applyChunkSize = 500

var allowedColumns = map[string]bool{
	ColumnMetasploit:    true,
	ColumnNuclei:        true,
	ColumnIndicator:     true,
	ColumnPublicExploit: true,
}

// Engine applies detection-flag rebuilds against the vulnerabilities table.
type Engine struct {
	db *gorm.DB
}

// NewEngine creates an Engine on the given connection.
func NewEngine(db *gorm.DB) *Engine {
	return &Engine{db: db}
}

// Rebuild resets column to false on every row, then sets it true for rows
// whose CVE id is in hitSet, in bounded chunks, all within one transaction.
// Running it twice with the same set is a no-op; running it with a shrunk
// set clears the flags of the CVEs that dropped out.
func (e *Engine) Rebuild(ctx context.Context, column string, hitSet map[string]bool) error {
	if !allowedColumns[column] {
		return fmt.Errorf("unknown detection column %q", column)
	}

	hits := make([]string, 0, len(hitSet))
	for cve := range hitSet {
		hits = append(hits, cve)
	}
	// Deterministic chunking; map iteration order is not.
	sort.Strings(hits)

	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		reset := fmt.Sprintf("UPDATE vulnerabilities SET %s = ? WHERE %s = ?", column, column)
		if err := tx.Exec(reset, false, true).Error; err != nil {
			return fmt.Errorf("failed to reset %s: %w", column, err)
		}

		apply := fmt.Sprintf("UPDATE vulnerabilities SET %s = ? WHERE UPPER(cve_id) IN ?", column)
		for start := 0; start < len(hits); start += applyChunkSize {
			end := start + applyChunkSize
			if end > len(hits) {
				end = len(hits)
			}
			if err := tx.Exec(apply, true, hits[start:end]).Error; err != nil {
				return fmt.Errorf("failed to apply %s: %w", column, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	slog.Info("Detection flags rebuilt", "column", column, "hits", len(hits))
	return nil
}
