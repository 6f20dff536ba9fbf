package indicator

import (
	"context"
	"testing"

	"github.com/VulnFusion/go-api/fusion/postgres/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupRepository(t *testing.T) *Repository {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Indicator{}))
	return NewRepository(db)
}

func TestSaveBatchNormalizesAndDeduplicates(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	saved, err := repo.SaveBatch(ctx,
		[]string{"10.0.0.1", " 10.0.0.1 ", "10.0.0.2", ""},
		[]string{"cve-2024-0001", "CVE-2024-0001", "not-a-cve"},
		"weekly intel report",
	)
	require.NoError(t, err)
	// Two distinct IPs plus one distinct CVE; the junk value is dropped.
	assert.Equal(t, 3, saved)

	var rows []models.Indicator
	require.NoError(t, repo.db.Order("indicator_value").Find(&rows).Error)
	require.Len(t, rows, 3)
	assert.Equal(t, "10.0.0.1", rows[0].Value)
	assert.Equal(t, TypeIP, rows[0].Type)
	assert.Equal(t, "CVE-2024-0001", rows[2].Value)
	assert.Equal(t, TypeCVE, rows[2].Type)
}

func TestSaveBatchUpsertsExisting(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	_, err := repo.SaveBatch(ctx, nil, []string{"CVE-2024-0001"}, "first report")
	require.NoError(t, err)
	_, err = repo.SaveBatch(ctx, nil, []string{"CVE-2024-0001"}, "second report")
	require.NoError(t, err)

	var rows []models.Indicator
	require.NoError(t, repo.db.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, "second report", rows[0].SourceText)
}

func TestSaveBatchRejectsEmpty(t *testing.T) {
	repo := setupRepository(t)

	_, err := repo.SaveBatch(context.Background(), nil, []string{"garbage"}, "report")
	require.Error(t, err)
}

func TestCVEValues(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	_, err := repo.SaveBatch(ctx,
		[]string{"10.0.0.1"},
		[]string{"CVE-2024-0001", "cve-2024-0002"},
		"report",
	)
	require.NoError(t, err)

	set, err := repo.CVEValues(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{
		"CVE-2024-0001": true,
		"CVE-2024-0002": true,
	}, set)
}
