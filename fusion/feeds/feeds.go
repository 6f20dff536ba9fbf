// Package feeds holds the typed HTTP clients for the external data sources:
// the device-security findings API, the public threat feeds, and the bulk
// EPSS score file. Clients parse vendor shapes into common record types and
// fail with transport errors; everything downstream (scope filtering,
// fusion, flag rebuilds) happens in the pipeline.
package feeds

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Vulnerability is the common shape a threat feed entry reduces to.
type Vulnerability struct {
	CVEID       string
	Title       string
	Description string
	Severity    string
	CVSS        float64
}

// ScorePair is one (CVE id, EPSS score) row from the bulk score file.
type ScorePair struct {
	CVEID string
	Score float64
}

// newHTTPClient returns the client used for feed downloads. Threat feeds and
// the score file are large one-shot transfers, so the timeout is generous.
func newHTTPClient() *http.Client {
	return &http.Client{Timeout: 3 * time.Minute}
}

// parseScore parses a numeric score field that feeds serialize as a string.
// Anything unparseable reads as zero.
func parseScore(s string) float64 {
	score, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return score
}

// checkStatus turns a non-2xx response into a transport error.
func checkStatus(resp *http.Response, feed string) error {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s feed returned status %d", feed, resp.StatusCode)
	}
	return nil
}
