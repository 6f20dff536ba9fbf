package feeds

import (
	"compress/gzip"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/VulnFusion/go-api/fusion"
)

const defaultEPSSURL = "https://epss.cyentia.com/epss_scores-current.csv.gz"

// EPSSClient streams the daily bulk EPSS score file. The file is a
// gzipped CSV with '#' comment lines before the header, roughly 250k
// rows, so parsing stays streaming end to end.
type EPSSClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewEPSSClient() *EPSSClient {
	return &EPSSClient{
		baseURL:    defaultEPSSURL,
		httpClient: newHTTPClient(),
	}
}

// FetchScores downloads and parses the current score file. Rows with an
// unparseable or out-of-range score are skipped; a truncated download
// fails the whole fetch.
func (c *EPSSClient) FetchScores(ctx context.Context) ([]ScorePair, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create epss request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download epss scores: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, "epss"); err != nil {
		return nil, err
	}

	gz, err := gzip.NewReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to open epss gzip stream: %w", err)
	}
	defer gz.Close()

	return parseEPSS(gz)
}

func parseEPSS(r io.Reader) ([]ScorePair, error) {
	reader := csv.NewReader(r)
	reader.Comment = '#'
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true

	var (
		out       []ScorePair
		sawHeader bool
	)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse epss csv: %w", err)
		}
		if len(record) < 2 {
			continue
		}
		if !sawHeader {
			sawHeader = true
			if record[0] == "cve" {
				continue
			}
		}
		cve := fusion.NormalizeCVE(record[0])
		if cve == "" {
			continue
		}
		score, err := strconv.ParseFloat(record[1], 64)
		if err != nil || score < 0 || score > 1 {
			continue
		}
		out = append(out, ScorePair{CVEID: cve, Score: score})
	}
	return out, nil
}
