package pipeline

import (
	"context"
	"fmt"

	"github.com/VulnFusion/go-api/fusion/flags"
	"github.com/VulnFusion/go-api/fusion/indicator"
)

// IndicatorFlagRunner rebuilds the indicator detection flag from the CVE
// indicators currently in the store. Indicators arrive through their own
// ingestion path; this runner only reconciles the flag column with them.
type IndicatorFlagRunner struct {
	indicators *indicator.Repository
	flags      *flags.Engine
}

func NewIndicatorFlagRunner(indicators *indicator.Repository, flagEngine *flags.Engine) *IndicatorFlagRunner {
	return &IndicatorFlagRunner{indicators: indicators, flags: flagEngine}
}

func (r *IndicatorFlagRunner) Run(ctx context.Context) (string, error) {
	hitSet, err := r.indicators.CVEValues(ctx)
	if err != nil {
		return "", err
	}
	if err := r.flags.Rebuild(ctx, flags.ColumnIndicator, hitSet); err != nil {
		return "", err
	}
	return fmt.Sprintf("flagged %d indicator CVEs", len(hitSet)), nil
}
