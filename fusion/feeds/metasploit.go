package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/VulnFusion/go-api/fusion"
)

const defaultMetasploitURL = "https://raw.githubusercontent.com/rapid7/metasploit-framework/master/db/modules_metadata_base.json"

// metasploitModule is a single entry in modules_metadata_base.json. The
// file is a map keyed by module path, so module identity comes from the
// key rather than the payload.
type metasploitModule struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Rank        int      `json:"rank"`
	References  []string `json:"references"`
	CVSS        float64  `json:"cvss"`
}

// MetasploitClient downloads the Metasploit module metadata dump and
// extracts every module that references a CVE.
type MetasploitClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewMetasploitClient() *MetasploitClient {
	return &MetasploitClient{
		baseURL:    defaultMetasploitURL,
		httpClient: newHTTPClient(),
	}
}

// FetchVulnerabilities returns one Vulnerability per CVE reference found
// in the module metadata. A CVE referenced by several modules keeps the
// entry with the highest module rank.
func (c *MetasploitClient) FetchVulnerabilities(ctx context.Context) ([]Vulnerability, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create metasploit request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download metasploit metadata: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, "metasploit"); err != nil {
		return nil, err
	}

	var modules map[string]metasploitModule
	if err := json.NewDecoder(resp.Body).Decode(&modules); err != nil {
		return nil, fmt.Errorf("failed to decode metasploit metadata: %w", err)
	}

	best := make(map[string]Vulnerability)
	rank := make(map[string]int)
	for _, mod := range modules {
		for _, ref := range mod.References {
			cve := fusion.NormalizeCVE(ref)
			if cve == "" {
				continue
			}
			if prev, ok := rank[cve]; ok && prev >= mod.Rank {
				continue
			}
			rank[cve] = mod.Rank
			best[cve] = Vulnerability{
				CVEID:       cve,
				Title:       mod.Name,
				Description: firstLine(mod.Description),
				Severity:    severityFromRank(mod.Rank),
				CVSS:        mod.CVSS,
			}
		}
	}

	out := make([]Vulnerability, 0, len(best))
	for _, v := range best {
		out = append(out, v)
	}
	return out, nil
}

// severityFromRank maps the Metasploit module rank scale onto the
// severity labels used by the rest of the pipeline. Excellent and great
// modules are reliable enough to treat as critical exposure.
func severityFromRank(rank int) string {
	switch {
	case rank >= 500:
		return fusion.SeverityCritical
	case rank >= 400:
		return fusion.SeverityHigh
	case rank >= 300:
		return fusion.SeverityMedium
	default:
		return fusion.SeverityLow
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = strings.TrimSpace(s[:idx])
	}
	return s
}
