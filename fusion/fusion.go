package fusion

import (
	"strings"
)

// Canonical severity labels used across the vulnerability table, feed caches
// and snapshots. Feed payloads and the device API report severity in assorted
// shapes ("critical", "3 - Medium", "High "); everything is normalized
// through this package before it touches storage.
const (
	SeverityCritical = "Critical"
	SeverityHigh     = "High"
	SeverityMedium   = "Medium"
	SeverityLow      = "Low"
)

// severityByRank maps the numeric rank used in aggregate queries back to a
// canonical label. Rank 0 means unknown.
var severityByRank = map[int]string{
	4: SeverityCritical,
	3: SeverityHigh,
	2: SeverityMedium,
	1: SeverityLow,
}

// SeverityRank returns the ordering weight of a severity label (4=Critical
// down to 1=Low, 0=unknown). Matching is by substring so vendor variants
// like "2 - High" rank correctly.
func SeverityRank(severity string) int {
	lowered := strings.ToLower(severity)
	switch {
	case strings.Contains(lowered, "critical"):
		return 4
	case strings.Contains(lowered, "high"):
		return 3
	case strings.Contains(lowered, "medium"):
		return 2
	case strings.Contains(lowered, "low"):
		return 1
	default:
		return 0
	}
}

// SeverityFromRank converts a rank back to its canonical label, or "" for
// rank 0.
func SeverityFromRank(rank int) string {
	return severityByRank[rank]
}

// NormalizeSeverity maps any vendor severity spelling onto the canonical
// label, falling back to the trimmed input when it matches no known level.
func NormalizeSeverity(severity string) string {
	if canonical := SeverityFromRank(SeverityRank(severity)); canonical != "" {
		return canonical
	}
	return strings.TrimSpace(severity)
}

// NormalizeCVE upper-cases and trims a CVE identifier. Returns "" for
// anything that does not look like a CVE id.
func NormalizeCVE(id string) string {
	normalized := strings.ToUpper(strings.TrimSpace(id))
	if !strings.HasPrefix(normalized, "CVE-") {
		return ""
	}
	return normalized
}
