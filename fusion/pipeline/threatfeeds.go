package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/VulnFusion/go-api/fusion"
	"github.com/VulnFusion/go-api/fusion/feeds"
	"github.com/VulnFusion/go-api/fusion/flags"
	"github.com/VulnFusion/go-api/fusion/postgres/models"
	"github.com/VulnFusion/go-api/fusion/threatfeed"
	"github.com/VulnFusion/go-api/fusion/vulnerability"
)

// FeedFetcher is the part of a threat feed client the fusion runner
// depends on.
type FeedFetcher interface {
	FetchVulnerabilities(ctx context.Context) ([]feeds.Vulnerability, error)
}

// FeedSpec binds one threat feed to its cache table and detection-flag
// column.
type FeedSpec struct {
	Key        string
	Name       string
	CacheTable string
	FlagColumn string
	Client     FeedFetcher
}

// ThreatFeedRunner fuses the external threat feeds with the local
// vulnerability population: per feed, the feed's CVEs are scope-filtered
// against the store, aggregated into cache rows, and the feed's detection
// flag is rebuilt from the retained set. Feeds fail independently; the
// runner errors only when every feed fails.
type ThreatFeedRunner struct {
	specs []FeedSpec
	vulns *vulnerability.Repository
	cache *threatfeed.Repository
	flags *flags.Engine
}

func NewThreatFeedRunner(specs []FeedSpec, vulns *vulnerability.Repository, cache *threatfeed.Repository, flagEngine *flags.Engine) *ThreatFeedRunner {
	return &ThreatFeedRunner{specs: specs, vulns: vulns, cache: cache, flags: flagEngine}
}

func (r *ThreatFeedRunner) Run(ctx context.Context) (string, error) {
	var (
		parts    []string
		failures int
	)
	for _, spec := range r.specs {
		summary, err := r.fuseFeed(ctx, spec)
		if err != nil {
			failures++
			slog.Error("threat feed fusion failed", "feed", spec.Key, "error", err)
			parts = append(parts, fmt.Sprintf("%s: %v", spec.Key, err))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s", spec.Key, summary))
	}

	message := strings.Join(parts, "; ")
	if failures == len(r.specs) {
		return "", fmt.Errorf("all threat feeds failed: %s", message)
	}
	return message, nil
}

// fuseFeed runs one feed end to end. Any failure before the flag rebuild
// leaves the feed's cache table and flag column untouched.
func (r *ThreatFeedRunner) fuseFeed(ctx context.Context, spec FeedSpec) (string, error) {
	entries, err := spec.Client.FetchVulnerabilities(ctx)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", fmt.Errorf("feed returned no entries")
	}

	source := make(map[string]feeds.Vulnerability, len(entries))
	candidates := make([]string, 0, len(entries))
	for _, entry := range entries {
		source[entry.CVEID] = entry
		candidates = append(candidates, entry.CVEID)
	}

	existing, err := r.vulns.ExistingCVEs(ctx, candidates)
	if err != nil {
		return "", err
	}

	retained := make([]string, 0, len(existing))
	hitSet := make(map[string]bool, len(existing))
	for cve := range existing {
		retained = append(retained, cve)
		hitSet[cve] = true
	}

	stats, err := r.vulns.FeedStats(ctx, retained)
	if err != nil {
		return "", err
	}

	rows := make([]models.ThreatFeedEntry, 0, len(stats))
	for _, stat := range stats {
		src := source[stat.CVEID]
		rows = append(rows, models.ThreatFeedEntry{
			CVEID:             stat.CVEID,
			DeviceCount:       stat.DeviceCount,
			MaxSeverity:       fusion.SeverityFromRank(stat.SeverityRank),
			MaxCVSS:           stat.MaxCVSS,
			LastSeen:          stat.LastSeen.Ptr(),
			SourceTitle:       src.Title,
			SourceDescription: src.Description,
			SourceSeverity:    src.Severity,
			SourceCVSS:        src.CVSS,
		})
	}

	// Flag first. The flag column is what downstream filtering reads, so
	// it must never trail the cache; if the cache replace then fails the
	// feed errors and the next run repairs the stale cache.
	if err := r.flags.Rebuild(ctx, spec.FlagColumn, hitSet); err != nil {
		return "", err
	}
	if err := r.cache.Replace(ctx, spec.CacheTable, rows); err != nil {
		return "", err
	}
	return fmt.Sprintf("%d of %d CVEs in scope", len(hitSet), len(source)), nil
}
