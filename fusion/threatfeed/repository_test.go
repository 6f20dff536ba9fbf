package threatfeed

import (
	"context"
	"testing"

	"github.com/VulnFusion/go-api/fusion/postgres/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const testTable = "metasploit_vulnerabilities"

func setupRepository(t *testing.T) *Repository {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.Table(testTable).AutoMigrate(&models.ThreatFeedEntry{}))
	return NewRepository(db)
}

func TestReplace(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	err := repo.Replace(ctx, testTable, []models.ThreatFeedEntry{
		{CVEID: "CVE-2024-0001", DeviceCount: 3, MaxSeverity: "Critical"},
		{CVEID: "CVE-2024-0002", DeviceCount: 1, MaxSeverity: "High"},
	})
	require.NoError(t, err)

	entries, err := repo.Entries(ctx, testTable, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	// Ordered by affected-device count.
	assert.Equal(t, "CVE-2024-0001", entries[0].CVEID)

	// The next run fully supersedes the cache.
	err = repo.Replace(ctx, testTable, []models.ThreatFeedEntry{
		{CVEID: "CVE-2024-0003", DeviceCount: 5},
	})
	require.NoError(t, err)

	entries, err = repo.Entries(ctx, testTable, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "CVE-2024-0003", entries[0].CVEID)
}

func TestReplaceWithEmptySet(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.Replace(ctx, testTable, []models.ThreatFeedEntry{
		{CVEID: "CVE-2024-0001", DeviceCount: 1},
	}))
	require.NoError(t, repo.Replace(ctx, testTable, nil))

	entries, err := repo.Entries(ctx, testTable, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
