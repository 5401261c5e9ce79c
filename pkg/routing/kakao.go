// Package routing wraps the Kakao Mobility directions API and the Kakao Local
// geocoding API used to price instructor travel.
package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/noah-isme/instructor-dispatch-api/pkg/config"
)

var (
	// ErrNoRoute is returned when the provider answers without a usable route.
	ErrNoRoute = errors.New("routing: no route found")
	// ErrAddressNotFound is returned when geocoding yields no documents.
	ErrAddressNotFound = errors.New("routing: address not found")
	// ErrNotConfigured is returned when the API key for a call is missing.
	ErrNotConfigured = errors.New("routing: api key not configured")
)

// Coordinates is a WGS84 point.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// RouteSummary is the driving distance and duration between two points.
type RouteSummary struct {
	DistanceMeters  int `json:"distanceMeters"`
	DurationSeconds int `json:"durationSeconds"`
}

// GeocodeResult is the resolved coordinate for an address.
type GeocodeResult struct {
	Coordinates
	Address string `json:"address"`
}

// Options customise the client; zero values fall back to config defaults.
type Options struct {
	HTTPClient *http.Client
	Limiter    *rate.Limiter
}

// KakaoClient talks to the Kakao APIs. It is safe for concurrent use.
type KakaoClient struct {
	http        *http.Client
	limiter     *rate.Limiter
	mobilityKey string
	localKey    string
	mobilityURL string
	localURL    string
}

// NewKakaoClient builds a client from configuration.
func NewKakaoClient(cfg config.DistanceConfig, opts Options) *KakaoClient {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := cfg.ProviderTimeout
		if timeout <= 0 {
			timeout = 3 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	limiter := opts.Limiter
	if limiter == nil {
		rps := cfg.RequestsPerSecond
		if rps <= 0 {
			rps = 10
		}
		limiter = rate.NewLimiter(rate.Limit(rps), int(rps)+1)
	}
	return &KakaoClient{
		http:        httpClient,
		limiter:     limiter,
		mobilityKey: cfg.MobilityAPIKey,
		localKey:    cfg.LocalAPIKey,
		mobilityURL: strings.TrimRight(cfg.MobilityBaseURL, "/"),
		localURL:    strings.TrimRight(cfg.LocalBaseURL, "/"),
	}
}

type directionsResponse struct {
	Routes []struct {
		ResultCode int    `json:"result_code"`
		ResultMsg  string `json:"result_msg"`
		Summary    struct {
			Distance int `json:"distance"`
			Duration int `json:"duration"`
		} `json:"summary"`
	} `json:"routes"`
}

// Route returns the recommended driving route summary from origin to destination.
func (c *KakaoClient) Route(ctx context.Context, origin, destination Coordinates) (RouteSummary, error) {
	if c.mobilityKey == "" {
		return RouteSummary{}, ErrNotConfigured
	}
	params := url.Values{}
	// Kakao expects "lng,lat".
	params.Set("origin", formatPoint(origin))
	params.Set("destination", formatPoint(destination))
	params.Set("priority", "RECOMMEND")
	params.Set("car_fuel", "GASOLINE")
	params.Set("alternatives", "false")
	params.Set("road_details", "false")

	var payload directionsResponse
	if err := c.get(ctx, c.mobilityURL+"/directions?"+params.Encode(), c.mobilityKey, &payload); err != nil {
		return RouteSummary{}, err
	}
	if len(payload.Routes) == 0 || payload.Routes[0].ResultCode != 0 {
		return RouteSummary{}, ErrNoRoute
	}
	summary := payload.Routes[0].Summary
	return RouteSummary{DistanceMeters: summary.Distance, DurationSeconds: summary.Duration}, nil
}

type addressResponse struct {
	Documents []struct {
		AddressName string `json:"address_name"`
		X           string `json:"x"`
		Y           string `json:"y"`
	} `json:"documents"`
}

// Geocode converts a free-form address into coordinates.
func (c *KakaoClient) Geocode(ctx context.Context, address string) (GeocodeResult, error) {
	if c.localKey == "" {
		return GeocodeResult{}, ErrNotConfigured
	}
	address = strings.TrimSpace(address)
	if address == "" {
		return GeocodeResult{}, ErrAddressNotFound
	}
	params := url.Values{}
	params.Set("query", address)

	var payload addressResponse
	if err := c.get(ctx, c.localURL+"/search/address.json?"+params.Encode(), c.localKey, &payload); err != nil {
		return GeocodeResult{}, err
	}
	if len(payload.Documents) == 0 {
		return GeocodeResult{}, ErrAddressNotFound
	}
	doc := payload.Documents[0]
	lng, err := strconv.ParseFloat(doc.X, 64)
	if err != nil {
		return GeocodeResult{}, fmt.Errorf("parse longitude %q: %w", doc.X, err)
	}
	lat, err := strconv.ParseFloat(doc.Y, 64)
	if err != nil {
		return GeocodeResult{}, fmt.Errorf("parse latitude %q: %w", doc.Y, err)
	}
	return GeocodeResult{Coordinates: Coordinates{Lat: lat, Lng: lng}, Address: doc.AddressName}, nil
}

func (c *KakaoClient) get(ctx context.Context, endpoint, key string, dest interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("routing rate limit: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build kakao request: %w", err)
	}
	req.Header.Set("Authorization", "KakaoAK "+key)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("kakao request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read kakao response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("decode kakao response: %w", err)
	}
	return nil
}

// StatusError reports a non-200 answer from Kakao.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("kakao responded %d: %s", e.StatusCode, e.Body)
}

func formatPoint(p Coordinates) string {
	return strconv.FormatFloat(p.Lng, 'f', -1, 64) + "," + strconv.FormatFloat(p.Lat, 'f', -1, 64)
}
