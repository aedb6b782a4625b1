package location

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/projectech/VoiceGuide/internal/models"
)

// Defaults for the reverse geocoder
const (
	DefaultGeocoderURL = "https://nominatim.openstreetmap.org"
	DefaultUserAgent   = "VoiceGuide/1.0"
	geocoderTimeout    = 10 * time.Second
)

// ErrNoAddress is returned when the geocoder knows nothing about a position.
var ErrNoAddress = errors.New("no address for location")

// Geocoder reverse-geocodes positions with a Nominatim-compatible service.
type Geocoder struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
}

// NewGeocoder creates a geocoder for baseURL, DefaultGeocoderURL when empty.
func NewGeocoder(baseURL string) *Geocoder {
	if baseURL == "" {
		baseURL = DefaultGeocoderURL
	}
	return &Geocoder{
		baseURL:    strings.TrimRight(baseURL, "/"),
		userAgent:  DefaultUserAgent,
		httpClient: &http.Client{Timeout: geocoderTimeout},
	}
}

type nominatimAddress struct {
	HouseNumber   string `json:"house_number"`
	Road          string `json:"road"`
	Pedestrian    string `json:"pedestrian"`
	Neighbourhood string `json:"neighbourhood"`
	Suburb        string `json:"suburb"`
	City          string `json:"city"`
	Town          string `json:"town"`
	Village       string `json:"village"`
}

type nominatimResponse struct {
	Name        string           `json:"name"`
	DisplayName string           `json:"display_name"`
	Address     nominatimAddress `json:"address"`
	Error       string           `json:"error"`
}

// Describe returns a short spoken description of a position, such as
// "12 Main Street, Springfield".
func (g *Geocoder) Describe(ctx context.Context, at models.Coordinates) (string, error) {
	q := url.Values{}
	q.Set("format", "jsonv2")
	q.Set("lat", strconv.FormatFloat(at.Latitude, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(at.Longitude, 'f', -1, 64))
	q.Set("zoom", "18")
	q.Set("addressdetails", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/reverse?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", g.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		slog.Warn("Geocoder.Describe: request failed", "error", err)
		return "", fmt.Errorf("reverse geocoding request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("reverse geocoding returned status %d", resp.StatusCode)
	}

	var body nominatimResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode reverse geocoding response: %w", err)
	}
	if body.Error != "" {
		return "", fmt.Errorf("%w: %s", ErrNoAddress, body.Error)
	}
	desc := describe(body)
	if desc == "" {
		return "", ErrNoAddress
	}
	return desc, nil
}

func describe(r nominatimResponse) string {
	a := r.Address
	street := firstNonEmpty(a.Road, a.Pedestrian)
	if street != "" && a.HouseNumber != "" {
		street = a.HouseNumber + " " + street
	}
	if street == "" {
		street = firstNonEmpty(r.Name, a.Neighbourhood, a.Suburb)
	}
	locality := firstNonEmpty(a.City, a.Town, a.Village)

	switch {
	case street != "" && locality != "":
		return street + ", " + locality
	case street != "":
		return street
	case locality != "":
		return locality
	}
	// Fall back to the first two components of the display name.
	parts := strings.Split(r.DisplayName, ",")
	if len(parts) > 2 {
		parts = parts[:2]
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return strings.Trim(strings.Join(parts, ", "), ", ")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
