// Package usage is the external resource-utilization budget adapter the
// Budget Monitor polls (spec.md §4.4), grounded on the HTTP client
// conventions (bearer-token auth, JSON decode, timeout-bounded
// net/http.Client) used across internal/httpclient call sites.
package usage

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Snapshot is one observation of the external budget endpoint.
type Snapshot struct {
	FiveHourFraction float64
	FiveHourResetsAt time.Time
	SevenDayFraction float64
	SevenDayResetsAt time.Time
	ObservedAt       time.Time
}

// Client fetches the current budget snapshot.
type Client interface {
	Fetch(ctx context.Context) (Snapshot, error)
}

// wireSnapshot is the endpoint's JSON shape: percentages, not fractions.
type wireSnapshot struct {
	FiveHourPercent  float64   `json:"five_hour_percent"`
	FiveHourResetsAt time.Time `json:"five_hour_resets_at"`
	SevenDayPercent  float64   `json:"seven_day_percent"`
	SevenDayResetsAt time.Time `json:"seven_day_resets_at"`
}

// HTTPClient is the one concrete Client adapter: an HTTPS GET with a
// bearer token.
type HTTPClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewHTTPClient builds an HTTPClient with a default 10s per-request timeout.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		BaseURL:    baseURL,
		Token:      token,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Fetch implements Client.
func (c *HTTPClient) Fetch(ctx context.Context) (Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL, nil)
	if err != nil {
		return Snapshot{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return Snapshot{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Snapshot{}, fmt.Errorf("usage endpoint returned status %d", resp.StatusCode)
	}

	var wire wireSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return Snapshot{}, fmt.Errorf("decode usage response: %w", err)
	}

	return Snapshot{
		FiveHourFraction: wire.FiveHourPercent / 100,
		FiveHourResetsAt: wire.FiveHourResetsAt,
		SevenDayFraction: wire.SevenDayPercent / 100,
		SevenDayResetsAt: wire.SevenDayResetsAt,
		ObservedAt:       time.Now().UTC(),
	}, nil
}
