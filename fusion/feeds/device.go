package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// DeviceFinding is one raw (device, CVE) finding as returned by the
// device-security API's machine-vulnerabilities endpoint.
type DeviceFinding struct {
	ID                  string  `json:"id"`
	CVEID               string  `json:"cveId"`
	DeviceID            string  `json:"machineId"`
	DeviceName          string  `json:"deviceName"`
	OSPlatform          string  `json:"osPlatform"`
	OSVersion           string  `json:"osVersion"`
	SoftwareVendor      string  `json:"vendor"`
	SoftwareName        string  `json:"productName"`
	SoftwareVersion     string  `json:"productVersion"`
	Severity            string  `json:"severity"`
	CVSSScore           float64 `json:"cvssScore"`
	Status              string  `json:"status"`
	ExploitabilityLevel string  `json:"exploitabilityLevel"`
	RecommendedUpdate   string  `json:"recommendedSecurityUpdate"`
	SecurityUpdateAvail bool    `json:"securityUpdateAvailable"`
	FirstSeenTimestamp  string  `json:"firstSeenTimestamp"`
	LastSeenTimestamp   string  `json:"lastSeenTimestamp"`
}

// findingsPage is one page of the paginated findings response.
type findingsPage struct {
	Value    []DeviceFinding `json:"value"`
	NextLink string          `json:"@odata.nextLink"`
}

// tokenResponse is the OAuth client-credentials grant reply.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in,string"`
}

// DeviceClient fetches the complete finding population from the
// device-security API, handling token acquisition and pagination.
type DeviceClient struct {
	apiBaseURL   string
	tokenURL     string
	clientID     string
	clientSecret string
	pageSize     int
	http         *http.Client

	token       string
	tokenExpiry time.Time
}

// NewDeviceClient creates a client for the given API base URL and OAuth
// token endpoint.
func NewDeviceClient(apiBaseURL, tokenURL, clientID, clientSecret string) *DeviceClient {
	return &DeviceClient{
		apiBaseURL:   strings.TrimRight(apiBaseURL, "/"),
		tokenURL:     tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		pageSize:     50000,
		http:         newHTTPClient(),
	}
}

// NewDeviceClientFromEnv wires a client from DEVICE_API_URL,
// DEVICE_API_TOKEN_URL, DEVICE_API_CLIENT_ID and DEVICE_API_CLIENT_SECRET.
func NewDeviceClientFromEnv() *DeviceClient {
	return NewDeviceClient(
		os.Getenv("DEVICE_API_URL"),
		os.Getenv("DEVICE_API_TOKEN_URL"),
		os.Getenv("DEVICE_API_CLIENT_ID"),
		os.Getenv("DEVICE_API_CLIENT_SECRET"),
	)
}

// FetchFindings drains every page of the findings endpoint and returns the
// complete current population. Any page failure fails the whole fetch; the
// caller never sees a partial population.
func (c *DeviceClient) FetchFindings(ctx context.Context) ([]DeviceFinding, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	findings := make([]DeviceFinding, 0)
	next := fmt.Sprintf("%s/api/machines/SoftwareVulnerabilitiesByMachine?pageSize=%d", c.apiBaseURL, c.pageSize)

	for next != "" {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, next, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to build findings request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("findings request failed: %w", err)
		}

		if err := checkStatus(resp, "device-security"); err != nil {
			resp.Body.Close()
			return nil, err
		}
		var page findingsPage
		err = json.NewDecoder(resp.Body).Decode(&page)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to decode findings page: %w", err)
		}

		findings = append(findings, page.Value...)
		next = page.NextLink
	}

	return findings, nil
}

// accessToken returns a cached token or requests a new one via the
// client-credentials grant.
func (c *DeviceClient) accessToken(ctx context.Context) (string, error) {
	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"resource":      {c.apiBaseURL},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read token response: %w", err)
	}
	if err := checkStatus(resp, "token"); err != nil {
		return "", err
	}

	var token tokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if token.AccessToken == "" {
		return "", fmt.Errorf("token response contained no access token")
	}

	c.token = token.AccessToken
	expiry := time.Duration(token.ExpiresIn) * time.Second
	if expiry <= 0 {
		expiry = 30 * time.Minute
	}
	c.tokenExpiry = time.Now().Add(expiry - time.Minute)
	return c.token, nil
}
