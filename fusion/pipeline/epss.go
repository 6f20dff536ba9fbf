package pipeline

import (
	"context"
	"fmt"

	"github.com/VulnFusion/go-api/fusion/feeds"
	"github.com/VulnFusion/go-api/fusion/vulnerability"
)

// ScoresFetcher is the part of the EPSS feed client the enrichment runner
// depends on.
type ScoresFetcher interface {
	FetchScores(ctx context.Context) ([]feeds.ScorePair, error)
}

// EPSSRunner downloads the bulk EPSS score file and applies the scores to
// matching CVEs in a single transaction. CVEs absent from the vulnerability
// table are ignored.
type EPSSRunner struct {
	client ScoresFetcher
	vulns  *vulnerability.Repository
}

func NewEPSSRunner(client ScoresFetcher, vulns *vulnerability.Repository) *EPSSRunner {
	return &EPSSRunner{client: client, vulns: vulns}
}

func (r *EPSSRunner) Run(ctx context.Context) (string, error) {
	scores, err := r.client.FetchScores(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to fetch epss scores: %w", err)
	}
	if len(scores) == 0 {
		return "", fmt.Errorf("epss feed returned no scores")
	}

	updates := make([]vulnerability.ScoreUpdate, 0, len(scores))
	for _, pair := range scores {
		updates = append(updates, vulnerability.ScoreUpdate{CVEID: pair.CVEID, Score: pair.Score})
	}

	updated, err := r.vulns.UpdateEPSSScores(ctx, updates)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("scored %d findings from %d epss rows", updated, len(scores)), nil
}
