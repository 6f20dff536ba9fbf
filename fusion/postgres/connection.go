// File: connection.go
package postgres

import (
	"fmt"
	"os"

	"github.com/VulnFusion/go-api/fusion/postgres/models"
	_ "github.com/tursodatabase/libsql-client-go/libsql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"

	"gorm.io/gorm"
)

var db *gorm.DB

// FeedCacheTables lists the per-feed cache tables created at migration time.
// Adding a feed means adding its table here and its definition to the
// pipeline registry.
var FeedCacheTables = []string{
	"metasploit_vulnerabilities",
	"nuclei_vulnerabilities",
}

// Connect opens the database selected by FUSION_DB_TYPE and migrates the
// schema. Supported types: "postgres" (default), "sqlite", "libsql".
func Connect() (*gorm.DB, error) {
	var err error

	switch os.Getenv("FUSION_DB_TYPE") {
	case "sqlite":
		dsn := os.Getenv("FUSION_DB_DSN")
		if dsn == "" {
			dsn = "fusion.db"
		}
		db, err = gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	case "libsql":
		dbUrl := os.Getenv("FUSION_DB_DSN")
		if dbUrl == "" {
			dbUrl = "http://fusion-libsql:8080"
		}
		db, err = gorm.Open(sqlite.New(sqlite.Config{
			DSN:        dbUrl,
			DriverName: "libsql",
		}), &gorm.Config{})
	default:
		dsn := os.Getenv("FUSION_DB_DSN")
		if dsn == "" {
			dsn = "host=fusion-postgres user=postgres password=password dbname=fusion port=5432 sslmode=disable"
		}
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	}

	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

// Migrate applies the schema for every model, including one cache table per
// registered threat feed. Safe to re-run; it is also used after a full-table
// swap to restore indexes on the freshly renamed vulnerabilities table.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.VulnerabilityRecord{},
		&models.SyncState{},
		&models.Indicator{},
		&models.VulnerabilitySnapshot{},
		&models.CVEDeviceSnapshot{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate database schema: %w", err)
	}

	for _, table := range FeedCacheTables {
		if err := db.Table(table).AutoMigrate(&models.ThreatFeedEntry{}); err != nil {
			return fmt.Errorf("failed to migrate feed cache table %s: %w", table, err)
		}
	}

	return nil
}

// GetDB returns the process-wide connection established by Connect.
func GetDB() *gorm.DB {
	return db
}
