package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/VulnFusion/go-api/fusion/feeds"
	"github.com/VulnFusion/go-api/fusion/postgres/models"
	"github.com/VulnFusion/go-api/fusion/snapshot"
	"github.com/VulnFusion/go-api/fusion/vulnerability"
)

// FindingsFetcher is the part of the device feed client the primary sync
// runner depends on.
type FindingsFetcher interface {
	FetchFindings(ctx context.Context) ([]feeds.DeviceFinding, error)
}

// DeviceSyncRunner performs the primary full sync: fetch the complete
// finding population from the device-security API, replace the
// vulnerability table atomically, record the sync state and take a
// snapshot.
type DeviceSyncRunner struct {
	client    FindingsFetcher
	vulns     *vulnerability.Repository
	snapshots *snapshot.Manager
}

func NewDeviceSyncRunner(client FindingsFetcher, vulns *vulnerability.Repository, snapshots *snapshot.Manager) *DeviceSyncRunner {
	return &DeviceSyncRunner{client: client, vulns: vulns, snapshots: snapshots}
}

func (r *DeviceSyncRunner) Run(ctx context.Context) (string, error) {
	findings, err := r.client.FetchFindings(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to fetch device findings: %w", err)
	}
	if len(findings) == 0 {
		// An empty population is indistinguishable from a broken feed;
		// refuse to wipe the live table over it.
		return "", fmt.Errorf("device feed returned no findings")
	}

	records := toRecords(findings)
	if err := r.vulns.ReplaceAll(ctx, records); err != nil {
		return "", err
	}

	syncTime := time.Now().UTC()
	if err := r.vulns.RecordSyncState(ctx, syncTime, "full", len(records)); err != nil {
		return "", err
	}

	// The sync itself has already landed; a snapshot failure should not
	// retroactively fail it.
	if _, err := r.snapshots.Create(ctx); err != nil {
		slog.Warn("post-sync snapshot failed", "error", err)
		return fmt.Sprintf("replaced %d findings (snapshot failed)", len(records)), nil
	}
	return fmt.Sprintf("replaced %d findings", len(records)), nil
}

// toRecords converts raw API findings into vulnerability rows. Timestamps
// arrive as RFC 3339 strings; unparseable ones are stored as null.
func toRecords(findings []feeds.DeviceFinding) []models.VulnerabilityRecord {
	records := make([]models.VulnerabilityRecord, 0, len(findings))
	for _, f := range findings {
		id := f.ID
		if id == "" {
			id = f.DeviceID + ":" + f.CVEID
		}
		records = append(records, models.VulnerabilityRecord{
			FindingID:           id,
			CVEID:               f.CVEID,
			DeviceID:            f.DeviceID,
			DeviceName:          f.DeviceName,
			OSPlatform:          f.OSPlatform,
			OSVersion:           f.OSVersion,
			SoftwareVendor:      f.SoftwareVendor,
			SoftwareName:        f.SoftwareName,
			SoftwareVersion:     f.SoftwareVersion,
			Severity:            f.Severity,
			CVSSScore:           f.CVSSScore,
			Status:              f.Status,
			ExploitabilityLevel: f.ExploitabilityLevel,
			RecommendedUpdate:   f.RecommendedUpdate,
			SecurityUpdateAvail: f.SecurityUpdateAvail,
			FirstSeenTimestamp:  parseTimestamp(f.FirstSeenTimestamp),
			LastSeenTimestamp:   parseTimestamp(f.LastSeenTimestamp),
		})
	}
	return records
}

func parseTimestamp(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}
