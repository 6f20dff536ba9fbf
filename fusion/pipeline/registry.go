package pipeline

import (
	"github.com/VulnFusion/go-api/fusion/flags"
	"github.com/VulnFusion/go-api/fusion/indicator"
	"github.com/VulnFusion/go-api/fusion/postgres"
	"github.com/VulnFusion/go-api/fusion/snapshot"
	"github.com/VulnFusion/go-api/fusion/threatfeed"
	"github.com/VulnFusion/go-api/fusion/vulnerability"
)

// Registered source keys, in execution order.
const (
	SourceDeviceSync     = "device_vulnerabilities"
	SourceEPSS           = "epss_enrichment"
	SourceThreatFeeds    = "threat_feeds"
	SourceIndicatorFlags = "indicator_flags"
	SourceKEV            = "kev_enrichment"
)

// RegistryDeps carries everything the standard registry wires together.
type RegistryDeps struct {
	DeviceClient     FindingsFetcher
	EPSSClient       ScoresFetcher
	MetasploitClient FeedFetcher
	NucleiClient     FeedFetcher
	KEVClient        KnownExploitedFetcher

	Vulnerabilities *vulnerability.Repository
	ThreatFeeds     *threatfeed.Repository
	Indicators      *indicator.Repository
	Flags           *flags.Engine
	Snapshots       *snapshot.Manager
}

// DefaultRegistry builds the standard five-source registry. The primary
// device sync is fatal; everything downstream of it is isolated and cannot
// stop a run.
func DefaultRegistry(deps RegistryDeps) *Registry {
	feedSpecs := []FeedSpec{
		{
			Key:        "metasploit",
			Name:       "Metasploit",
			CacheTable: postgres.FeedCacheTables[0],
			FlagColumn: flags.ColumnMetasploit,
			Client:     deps.MetasploitClient,
		},
		{
			Key:        "nuclei",
			Name:       "Nuclei",
			CacheTable: postgres.FeedCacheTables[1],
			FlagColumn: flags.ColumnNuclei,
			Client:     deps.NucleiClient,
		},
	}

	return NewRegistry(
		SourceDefinition{
			Order:          10,
			Key:            SourceDeviceSync,
			Name:           "Device vulnerabilities",
			Description:    "Full replace of the vulnerability table from the device-security API",
			DefaultEnabled: true,
			FailureMode:    FailureFatal,
			Runner:         NewDeviceSyncRunner(deps.DeviceClient, deps.Vulnerabilities, deps.Snapshots),
		},
		SourceDefinition{
			Order:          20,
			Key:            SourceEPSS,
			Name:           "EPSS enrichment",
			Description:    "Bulk EPSS exploit-probability scores applied to matching CVEs",
			DefaultEnabled: true,
			FailureMode:    FailureIsolated,
			Runner:         NewEPSSRunner(deps.EPSSClient, deps.Vulnerabilities),
		},
		SourceDefinition{
			Order:          30,
			Key:            SourceThreatFeeds,
			Name:           "Threat feeds",
			Description:    "Metasploit and Nuclei coverage fused with the local population",
			DefaultEnabled: true,
			FailureMode:    FailureIsolated,
			Runner:         NewThreatFeedRunner(feedSpecs, deps.Vulnerabilities, deps.ThreatFeeds, deps.Flags),
		},
		SourceDefinition{
			Order:          40,
			Key:            SourceIndicatorFlags,
			Name:           "Indicator flags",
			Description:    "Indicator detection flag reconciled with stored CVE indicators",
			DefaultEnabled: true,
			FailureMode:    FailureIsolated,
			Runner:         NewIndicatorFlagRunner(deps.Indicators, deps.Flags),
		},
		SourceDefinition{
			Order:          50,
			Key:            SourceKEV,
			Name:           "KEV enrichment",
			Description:    "Public-exploit flag reconciled with the CISA Known Exploited Vulnerabilities catalog",
			DefaultEnabled: true,
			FailureMode:    FailureIsolated,
			Runner:         NewKEVRunner(deps.KEVClient, deps.Flags),
		},
	)
}
