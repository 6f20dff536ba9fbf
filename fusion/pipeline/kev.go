package pipeline

import (
	"context"
	"fmt"

	"github.com/VulnFusion/go-api/fusion/flags"
)

// KnownExploitedFetcher is the part of the KEV catalog client the
// enrichment runner depends on.
type KnownExploitedFetcher interface {
	FetchCVEs(ctx context.Context) ([]string, error)
}

// KEVRunner rebuilds the public-exploit flag from the CISA Known Exploited
// Vulnerabilities catalog. CVEs that drop off the catalog lose the flag on
// the next run.
type KEVRunner struct {
	client KnownExploitedFetcher
	flags  *flags.Engine
}

func NewKEVRunner(client KnownExploitedFetcher, flagEngine *flags.Engine) *KEVRunner {
	return &KEVRunner{client: client, flags: flagEngine}
}

func (r *KEVRunner) Run(ctx context.Context) (string, error) {
	cves, err := r.client.FetchCVEs(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to fetch kev catalog: %w", err)
	}
	// The catalog always carries entries; an empty result means a broken
	// download, and clearing every flag from it would be destructive.
	if len(cves) == 0 {
		return "", fmt.Errorf("kev catalog came back empty, keeping existing flags")
	}

	hitSet := make(map[string]bool, len(cves))
	for _, cve := range cves {
		hitSet[cve] = true
	}
	if err := r.flags.Rebuild(ctx, flags.ColumnPublicExploit, hitSet); err != nil {
		return "", err
	}
	return fmt.Sprintf("public-exploit flag rebuilt from %d known-exploited CVEs", len(hitSet)), nil
}
