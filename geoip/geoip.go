// collector/geoip/geoip.go
package geoip

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

// Location is the best-effort geolocation of a client address.
type Location struct {
	Country string
	City    string
}

// Unknown is the fallback used whenever the lookup cannot complete.
var Unknown = Location{Country: "Unknown", City: "Unknown"}

// Client looks up client addresses against an ipapi.co-compatible service.
// Lookups are enrichment only: every failure path returns Unknown and the
// caller carries on.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "https://ipapi.co"
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Lookup resolves an address to a country/city pair. The call is time-boxed
// so a stalled geolocation service can never hold up its caller.
func (c *Client) Lookup(ctx context.Context, addr string) Location {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	url := fmt.Sprintf("%s/%s/json/", c.baseURL, addr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		log.Printf("Error creating geolocation request for %s: %v", addr, err)
		return Unknown
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("Error fetching geolocation data for %s: %v", addr, err)
		return Unknown
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Printf("Geolocation service returned status %d for %s.", resp.StatusCode, addr)
		return Unknown
	}

	var payload struct {
		CountryName string `json:"country_name"`
		City        string `json:"city"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		log.Printf("Error decoding geolocation response for %s: %v", addr, err)
		return Unknown
	}

	loc := Unknown
	if payload.CountryName != "" {
		loc.Country = payload.CountryName
	}
	if payload.City != "" {
		loc.City = payload.City
	}
	return loc
}
