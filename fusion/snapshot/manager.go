// Package snapshot persists point-in-time aggregates of the vulnerability
// table and derives day-bucketed trend series from them.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/VulnFusion/go-api/fusion/postgres/models"
	"github.com/VulnFusion/go-api/fusion/store"
	"gorm.io/gorm"
)

// Supported trend periods.
const (
	PeriodWeek  = "week"
	PeriodMonth = "month"
	PeriodYear  = "year"
)

const (
	trendCachePrefix     = "fusion:trend:"
	trendCacheTTLSeconds = 300
)

// TrendPoint is one day in a trend series. Carried marks a synthetic point
// whose counts were carried forward from the most recent earlier snapshot
// rather than measured that day.
type TrendPoint struct {
	Date     string `json:"date"`
	Critical int    `json:"critical"`
	High     int    `json:"high"`
	Medium   int    `json:"medium"`
	Carried  bool   `json:"carried"`
}

// Manager handles snapshot lifecycle and trend queries.
type Manager struct {
	db         *gorm.DB
	kv         store.KVStore
	calculator *Calculator
}

// NewManager creates a Manager on the given connection and KV store. The KV
// store is only used to cache trend payloads and may be shared with the
// sync progress store.
func NewManager(db *gorm.DB, kv store.KVStore) *Manager {
	return &Manager{
		db:         db,
		kv:         kv,
		calculator: NewCalculator(db),
	}
}

// Create computes and stores a new snapshot, then invalidates cached trends.
func (m *Manager) Create(ctx context.Context) (*models.VulnerabilitySnapshot, error) {
	snap, err := m.calculator.Create(ctx)
	if err != nil {
		return nil, err
	}

	for _, period := range []string{PeriodWeek, PeriodMonth, PeriodYear} {
		if err := m.kv.DeleteValue(ctx, trendCachePrefix+period); err != nil {
			slog.Warn("Failed to invalidate trend cache", "period", period, "error", err)
		}
	}
	return snap, nil
}

// List returns snapshots ordered most recent first.
func (m *Manager) List(ctx context.Context, limit int) ([]models.VulnerabilitySnapshot, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	var snapshots []models.VulnerabilitySnapshot
	err := m.db.WithContext(ctx).
		Order("snapshot_time DESC").
		Limit(limit).
		Find(&snapshots).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	return snapshots, nil
}

// Latest returns the most recent snapshot, or nil when none exist.
func (m *Manager) Latest(ctx context.Context) (*models.VulnerabilitySnapshot, error) {
	var snap models.VulnerabilitySnapshot
	err := m.db.WithContext(ctx).Order("snapshot_time DESC").First(&snap).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load latest snapshot: %w", err)
	}
	return &snap, nil
}

// Trend returns the day-bucketed series for the natural calendar period
// (week, month or year) containing today. Days without a snapshot carry the
// most recent earlier counts forward with Carried=true; days before the
// first-ever snapshot yield zero-count carried points. Payloads are cached
// in the KV store for five minutes.
func (m *Manager) Trend(ctx context.Context, period string) ([]TrendPoint, error) {
	start, end, err := periodBounds(period, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	cacheKey := trendCachePrefix + period
	if resp, err := m.kv.GetValue(ctx, cacheKey); err == nil {
		var cached []TrendPoint
		if err := json.Unmarshal([]byte(resp.Message.Value), &cached); err == nil {
			return cached, nil
		}
	}

	series, err := m.dailySeries(ctx)
	if err != nil {
		return nil, err
	}
	points := buildTrend(series, start, end)

	if payload, err := json.Marshal(points); err == nil {
		if err := m.kv.SetValueWithTTL(ctx, cacheKey, string(payload), trendCacheTTLSeconds); err != nil {
			slog.Warn("Failed to cache trend payload", "period", period, "error", err)
		}
	}
	return points, nil
}

// dailyCounts is the latest measured snapshot of one calendar day.
type dailyCounts struct {
	day      time.Time
	critical int
	high     int
	medium   int
}

// dailySeries loads all snapshots and keeps the latest one per calendar day,
// ordered ascending.
func (m *Manager) dailySeries(ctx context.Context) ([]dailyCounts, error) {
	var snapshots []models.VulnerabilitySnapshot
	err := m.db.WithContext(ctx).
		Order("snapshot_time ASC").
		Find(&snapshots).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshots for trend: %w", err)
	}

	var series []dailyCounts
	for _, snap := range snapshots {
		day := snap.SnapshotTime.UTC().Truncate(24 * time.Hour)
		counts := dailyCounts{
			day:      day,
			critical: snap.CriticalCount,
			high:     snap.HighCount,
			medium:   snap.MediumCount,
		}
		// Snapshots arrive ordered, so a same-day snapshot replaces the
		// earlier one.
		if len(series) > 0 && series[len(series)-1].day.Equal(day) {
			series[len(series)-1] = counts
			continue
		}
		series = append(series, counts)
	}
	return series, nil
}

// buildTrend walks each day of [start, end] and emits a measured point for
// days with a snapshot and a carried point otherwise.
func buildTrend(series []dailyCounts, start, end time.Time) []TrendPoint {
	points := make([]TrendPoint, 0, int(end.Sub(start).Hours()/24)+1)
	idx := 0
	var last *dailyCounts

	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		for idx < len(series) && !series[idx].day.After(day) {
			last = &series[idx]
			idx++
		}

		point := TrendPoint{Date: day.Format("2006-01-02"), Carried: true}
		if last != nil {
			point.Critical = last.critical
			point.High = last.high
			point.Medium = last.medium
			if last.day.Equal(day) {
				point.Carried = false
			}
		}
		points = append(points, point)
	}
	return points
}

// periodBounds computes the natural calendar bounds containing the anchor
// date: Monday-to-Sunday for week, first-to-last day for month, Jan 1 to
// Dec 31 for year.
func periodBounds(period string, anchor time.Time) (time.Time, time.Time, error) {
	day := time.Date(anchor.Year(), anchor.Month(), anchor.Day(), 0, 0, 0, 0, time.UTC)

	switch period {
	case PeriodWeek:
		weekday := int(day.Weekday())
		if weekday == 0 {
			weekday = 7
		}
		start := day.AddDate(0, 0, -(weekday - 1))
		return start, start.AddDate(0, 0, 6), nil
	case PeriodMonth:
		start := time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 1, -1), nil
	case PeriodYear:
		start := time.Date(day.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
		return start, time.Date(day.Year(), time.December, 31, 0, 0, 0, 0, time.UTC), nil
	default:
		return time.Time{}, time.Time{}, fmt.Errorf("unsupported trend period %q", period)
	}
}
