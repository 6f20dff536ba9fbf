package feeds

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"

	"github.com/VulnFusion/go-api/fusion"
)

const defaultKEVURL = "https://www.cisa.gov/sites/default/files/feeds/known_exploited_vulnerabilities.json"

// kevCatalog is the slice of the CISA catalog schema we care about.
type kevCatalog struct {
	Vulnerabilities []struct {
		CVEID string `json:"cveID"`
	} `json:"vulnerabilities"`
}

// KEVClient downloads the CISA Known Exploited Vulnerabilities catalog.
// Some mirrors serve the catalog gzip-compressed without a matching
// Content-Encoding header, so the body is sniffed before decoding.
type KEVClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewKEVClient() *KEVClient {
	return &KEVClient{
		baseURL:    defaultKEVURL,
		httpClient: newHTTPClient(),
	}
}

// FetchCVEs returns the normalized, deduplicated CVE ids currently listed
// in the catalog, sorted for deterministic downstream chunking.
func (c *KEVClient) FetchCVEs(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create kev request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download kev catalog: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, "kev"); err != nil {
		return nil, err
	}

	body, err := sniffGzip(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to open kev stream: %w", err)
	}

	var catalog kevCatalog
	if err := json.NewDecoder(body).Decode(&catalog); err != nil {
		return nil, fmt.Errorf("failed to parse kev catalog: %w", err)
	}

	seen := make(map[string]bool, len(catalog.Vulnerabilities))
	for _, entry := range catalog.Vulnerabilities {
		cve := fusion.NormalizeCVE(entry.CVEID)
		if cve == "" {
			continue
		}
		seen[cve] = true
	}

	cves := make([]string, 0, len(seen))
	for cve := range seen {
		cves = append(cves, cve)
	}
	sort.Strings(cves)
	return cves, nil
}

// sniffGzip wraps r in a gzip reader when the stream starts with the gzip
// magic bytes, otherwise returns it as-is.
func sniffGzip(r io.Reader) (io.Reader, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(2)
	if err == nil && len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
		return gzip.NewReader(br)
	}
	return br, nil
}
