package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// geoTimeout bounds the country lookup: an optional enrichment call must never
// block or fail the main response.
const geoTimeout = 1500 * time.Millisecond

// GeoLookup resolves an IP address to a country code, best effort.
type GeoLookup struct {
	baseURL    string
	httpClient *http.Client
}

func NewGeoLookup(baseURL string) *GeoLookup {
	if baseURL == "" {
		baseURL = "https://ipapi.co"
	}
	return &GeoLookup{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: geoTimeout},
	}
}

// Country returns the country code for ip, or "" on any failure or timeout.
func (g *GeoLookup) Country(ctx context.Context, ip string) string {
	if ip == "" {
		return ""
	}
	lookupCtx, cancel := context.WithTimeout(ctx, geoTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(lookupCtx, http.MethodGet,
		fmt.Sprintf("%s/%s/json/", g.baseURL, ip), nil)
	if err != nil {
		return ""
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ""
	}

	var payload struct {
		Country string `json:"country"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return ""
	}
	return payload.Country
}
