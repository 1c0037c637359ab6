package sensor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nicktill/espmon/pkg/config"
	"github.com/nicktill/espmon/pkg/reading"
)

// maxBody bounds how much of a sensor response is read.
const maxBody = 1 << 20

// Fetcher is anything that can produce a live reading.
type Fetcher interface {
	Fetch(ctx context.Context) (reading.Reading, error)
}

// Client polls the sensor's JSON endpoint over HTTP.
type Client struct {
	endpoint    string
	publicIPURL string
	client      *http.Client
}

// NewClient creates a sensor client. A zero timeout uses the default.
func NewClient(endpoint, publicIPURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = config.DefaultSensorTimeout
	}
	return &Client{
		endpoint:    endpoint,
		publicIPURL: publicIPURL,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Fetch retrieves one reading. A non-2xx status, an unreadable body or a
// payload missing any required key are all reported as errors.
func (c *Client) Fetch(ctx context.Context) (reading.Reading, error) {
	body, err := c.get(ctx, c.endpoint)
	if err != nil {
		return reading.Reading{}, fmt.Errorf("fetch sensor data: %w", err)
	}
	r, err := reading.Decode(body)
	if err != nil {
		return reading.Reading{}, fmt.Errorf("fetch sensor data: %w", err)
	}
	return r, nil
}

// PublicIP asks the lookup service for this host's public address and
// returns "N/A" when it cannot be determined.
func (c *Client) PublicIP(ctx context.Context) string {
	if c.publicIPURL == "" {
		return "N/A"
	}
	ctx, cancel := context.WithTimeout(ctx, config.PublicIPTimeout)
	defer cancel()

	body, err := c.get(ctx, c.publicIPURL)
	if err != nil {
		return "N/A"
	}
	var payload struct {
		IP string `json:"ip"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || strings.TrimSpace(payload.IP) == "" {
		return "N/A"
	}
	return payload.IP
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("request failed with status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return body, nil
}
