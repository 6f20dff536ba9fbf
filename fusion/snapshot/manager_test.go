package snapshot

import (
	"context"
	"testing"
	"time"

	"github.com/VulnFusion/go-api/fusion/postgres/models"
	"github.com/VulnFusion/go-api/fusion/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupManager(t *testing.T) (*Manager, *gorm.DB) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.VulnerabilityRecord{},
		&models.VulnerabilitySnapshot{},
		&models.CVEDeviceSnapshot{},
	))
	return NewManager(db, store.NewMemoryKVStore()), db
}

func seedFindings(t *testing.T, db *gorm.DB) {
	seen := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	records := []models.VulnerabilityRecord{
		{FindingID: "f1", CVEID: "CVE-2024-0001", DeviceID: "dev-1", Severity: "Critical", CVSSScore: 9.8, Status: "Active", LastSeenTimestamp: &seen},
		{FindingID: "f2", CVEID: "cve-2024-0001", DeviceID: "dev-2", Severity: "Critical", CVSSScore: 9.8, Status: "Active", LastSeenTimestamp: &seen},
		{FindingID: "f3", CVEID: "CVE-2024-0002", DeviceID: "dev-1", Severity: "High", CVSSScore: 7.5, Status: "Fixed", LastSeenTimestamp: &seen},
		{FindingID: "f4", CVEID: "CVE-2024-0003", DeviceID: "dev-3", Severity: "Medium", CVSSScore: 5.0, Status: "Active", LastSeenTimestamp: &seen},
	}
	require.NoError(t, db.Create(&records).Error)
}

func TestCreateComputesAggregates(t *testing.T) {
	manager, db := setupManager(t)
	seedFindings(t, db)

	snap, err := manager.Create(context.Background())
	require.NoError(t, err)
	require.NotNil(t, snap)

	assert.Equal(t, 4, snap.TotalVulnerabilities)
	assert.Equal(t, 3, snap.UniqueCVECount)
	assert.Equal(t, 2, snap.CriticalCount)
	assert.Equal(t, 1, snap.HighCount)
	assert.Equal(t, 1, snap.MediumCount)
	assert.Equal(t, 3, snap.ActiveCount)
	assert.Equal(t, 1, snap.FixedCount)
	assert.Equal(t, 3, snap.TotalDevicesAffected)

	// One entry per distinct (CVE, device) pair.
	var pairs []models.CVEDeviceSnapshot
	require.NoError(t, db.Where("snapshot_id = ?", snap.ID).Find(&pairs).Error)
	assert.Len(t, pairs, 4)
}

func TestDoubleSnapshotYieldsDisjointEntrySets(t *testing.T) {
	manager, db := setupManager(t)
	seedFindings(t, db)
	ctx := context.Background()

	first, err := manager.Create(ctx)
	require.NoError(t, err)
	second, err := manager.Create(ctx)
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	// Same population, same aggregates.
	assert.Equal(t, first.TotalVulnerabilities, second.TotalVulnerabilities)
	assert.Equal(t, first.UniqueCVECount, second.UniqueCVECount)
	assert.Equal(t, first.CriticalCount, second.CriticalCount)
	assert.Equal(t, first.TotalDevicesAffected, second.TotalDevicesAffected)

	var firstPairs, secondPairs []models.CVEDeviceSnapshot
	require.NoError(t, db.Where("snapshot_id = ?", first.ID).Find(&firstPairs).Error)
	require.NoError(t, db.Where("snapshot_id = ?", second.ID).Find(&secondPairs).Error)
	assert.Len(t, firstPairs, 4)
	assert.Len(t, secondPairs, 4)

	seen := make(map[uint]bool)
	for _, pair := range append(firstPairs, secondPairs...) {
		assert.False(t, seen[pair.ID])
		seen[pair.ID] = true
	}
}

func TestListAndLatest(t *testing.T) {
	manager, db := setupManager(t)
	seedFindings(t, db)
	ctx := context.Background()

	latest, err := manager.Latest(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)

	first, err := manager.Create(ctx)
	require.NoError(t, err)
	_, err = manager.Create(ctx)
	require.NoError(t, err)

	snaps, err := manager.List(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, snaps, 2)

	latest, err = manager.Latest(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.GreaterOrEqual(t, latest.ID, first.ID)
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestBuildTrendCarryForward(t *testing.T) {
	series := []dailyCounts{
		{day: day(2026, 8, 11), critical: 5, high: 10, medium: 3},
		{day: day(2026, 8, 14), critical: 6, high: 9, medium: 3},
	}

	points := buildTrend(series, day(2026, 8, 10), day(2026, 8, 16))
	require.Len(t, points, 7)

	// Before the first snapshot: zero counts, carried.
	assert.Equal(t, TrendPoint{Date: "2026-08-10", Carried: true}, points[0])
	// Measured days.
	assert.Equal(t, TrendPoint{Date: "2026-08-11", Critical: 5, High: 10, Medium: 3}, points[1])
	assert.Equal(t, TrendPoint{Date: "2026-08-14", Critical: 6, High: 9, Medium: 3}, points[4])
	// Gap days carry the most recent earlier counts.
	assert.Equal(t, TrendPoint{Date: "2026-08-12", Critical: 5, High: 10, Medium: 3, Carried: true}, points[2])
	assert.Equal(t, TrendPoint{Date: "2026-08-13", Critical: 5, High: 10, Medium: 3, Carried: true}, points[3])
	// After the last snapshot the counts keep carrying forward.
	assert.Equal(t, TrendPoint{Date: "2026-08-15", Critical: 6, High: 9, Medium: 3, Carried: true}, points[5])
	assert.Equal(t, TrendPoint{Date: "2026-08-16", Critical: 6, High: 9, Medium: 3, Carried: true}, points[6])
}

func TestBuildTrendEmptySeries(t *testing.T) {
	points := buildTrend(nil, day(2026, 8, 10), day(2026, 8, 12))
	require.Len(t, points, 3)
	for _, point := range points {
		assert.True(t, point.Carried)
		assert.Zero(t, point.Critical)
	}
}

func TestPeriodBounds(t *testing.T) {
	// A Wednesday; the week runs Monday to Sunday.
	anchor := day(2026, 8, 26)

	start, end, err := periodBounds(PeriodWeek, anchor)
	require.NoError(t, err)
	assert.Equal(t, day(2026, 8, 24), start)
	assert.Equal(t, day(2026, 8, 30), end)

	start, end, err = periodBounds(PeriodMonth, anchor)
	require.NoError(t, err)
	assert.Equal(t, day(2026, 8, 1), start)
	assert.Equal(t, day(2026, 8, 31), end)

	start, end, err = periodBounds(PeriodYear, anchor)
	require.NoError(t, err)
	assert.Equal(t, day(2026, 1, 1), start)
	assert.Equal(t, day(2026, 12, 31), end)

	// A Sunday stays inside its own week.
	start, end, err = periodBounds(PeriodWeek, day(2026, 8, 30))
	require.NoError(t, err)
	assert.Equal(t, day(2026, 8, 24), start)
	assert.Equal(t, day(2026, 8, 30), end)

	_, _, err = periodBounds("decade", anchor)
	require.Error(t, err)
}

func TestTrendCaching(t *testing.T) {
	manager, db := setupManager(t)
	seedFindings(t, db)
	ctx := context.Background()

	_, err := manager.Create(ctx)
	require.NoError(t, err)

	first, err := manager.Trend(ctx, PeriodWeek)
	require.NoError(t, err)

	// New data without a new snapshot does not change the cached payload.
	extra := models.VulnerabilityRecord{FindingID: "f9", CVEID: "CVE-2024-0009", DeviceID: "dev-9", Severity: "Critical"}
	require.NoError(t, db.Create(&extra).Error)

	cached, err := manager.Trend(ctx, PeriodWeek)
	require.NoError(t, err)
	assert.Equal(t, first, cached)

	// Creating a snapshot invalidates the cache and the payload moves.
	_, err = manager.Create(ctx)
	require.NoError(t, err)

	fresh, err := manager.Trend(ctx, PeriodWeek)
	require.NoError(t, err)
	require.NotEmpty(t, fresh)

	today := time.Now().UTC().Format("2006-01-02")
	for _, point := range fresh {
		if point.Date == today {
			assert.Equal(t, 3, point.Critical)
			assert.False(t, point.Carried)
		}
	}
}
