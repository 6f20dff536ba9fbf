package feeds

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/VulnFusion/go-api/fusion"
)

const defaultNucleiURL = "https://raw.githubusercontent.com/projectdiscovery/nuclei-templates/main/cves.json"

// nucleiTemplate is one line of the nuclei-templates cves.json export.
// The file is JSON Lines, one template per line, not a JSON array.
type nucleiTemplate struct {
	ID   string `json:"ID"`
	Info struct {
		Name           string `json:"Name"`
		Description    string `json:"Description"`
		Severity       string `json:"Severity"`
		Classification struct {
			CVSSScore string `json:"CVSSScore"`
		} `json:"Classification"`
	} `json:"Info"`
}

// NucleiClient downloads the nuclei-templates CVE index, one template
// per CVE with detection coverage.
type NucleiClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewNucleiClient() *NucleiClient {
	return &NucleiClient{
		baseURL:    defaultNucleiURL,
		httpClient: newHTTPClient(),
	}
}

func (c *NucleiClient) FetchVulnerabilities(ctx context.Context) ([]Vulnerability, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create nuclei request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download nuclei templates: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, "nuclei"); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var out []Vulnerability

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var tmpl nucleiTemplate
		if err := json.Unmarshal(line, &tmpl); err != nil {
			// Malformed lines show up in the export from time to
			// time; skip them rather than fail the whole feed.
			continue
		}
		cve := fusion.NormalizeCVE(tmpl.ID)
		if cve == "" || seen[cve] {
			continue
		}
		seen[cve] = true
		out = append(out, Vulnerability{
			CVEID:       cve,
			Title:       tmpl.Info.Name,
			Description: firstLine(tmpl.Info.Description),
			Severity:    fusion.NormalizeSeverity(tmpl.Info.Severity),
			CVSS:        parseScore(tmpl.Info.Classification.CVSSScore),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read nuclei templates: %w", err)
	}
	return out, nil
}
