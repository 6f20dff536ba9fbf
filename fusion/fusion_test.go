package fusion

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeverityRank(t *testing.T) {
	cases := []struct {
		severity string
		rank     int
	}{
		{"Critical", 4},
		{"critical", 4},
		{"High", 3},
		{"2 - High", 3},
		{"Medium", 2},
		{"medium ", 2},
		{"Low", 1},
		{"Informational", 0},
		{"", 0},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.rank, SeverityRank(tc.severity), "severity %q", tc.severity)
	}
}

func TestNormalizeSeverity(t *testing.T) {
	assert.Equal(t, SeverityCritical, NormalizeSeverity("CRITICAL"))
	assert.Equal(t, SeverityHigh, NormalizeSeverity("3 - High"))
	assert.Equal(t, SeverityMedium, NormalizeSeverity(" medium"))
	// Unknown levels pass through trimmed.
	assert.Equal(t, "Informational", NormalizeSeverity(" Informational "))
}

func TestNormalizeCVE(t *testing.T) {
	assert.Equal(t, "CVE-2021-44228", NormalizeCVE(" cve-2021-44228 "))
	assert.Equal(t, "CVE-2024-1234", NormalizeCVE("CVE-2024-1234"))
	assert.Equal(t, "", NormalizeCVE("GHSA-xxxx"))
	assert.Equal(t, "", NormalizeCVE(""))
}
