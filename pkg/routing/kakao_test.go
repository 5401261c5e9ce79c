package routing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/instructor-dispatch-api/pkg/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *KakaoClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewKakaoClient(config.DistanceConfig{
		MobilityAPIKey:    "mobility-key",
		LocalAPIKey:       "local-key",
		MobilityBaseURL:   srv.URL + "/v1/",
		LocalBaseURL:      srv.URL + "/v2/local",
		ProviderTimeout:   time.Second,
		RequestsPerSecond: 100,
	}, Options{})
}

func TestRouteParsesSummary(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/directions", r.URL.Path)
		assert.Equal(t, "KakaoAK mobility-key", r.Header.Get("Authorization"))
		assert.Equal(t, "127.1,37.5", r.URL.Query().Get("origin"))
		assert.Equal(t, "129.05,35.15", r.URL.Query().Get("destination"))
		_, _ = w.Write([]byte(`{"routes":[{"result_code":0,"summary":{"distance":325000,"duration":14400}}]}`))
	})

	summary, err := client.Route(context.Background(), Coordinates{Lat: 37.5, Lng: 127.1}, Coordinates{Lat: 35.15, Lng: 129.05})
	require.NoError(t, err)
	assert.Equal(t, 325000, summary.DistanceMeters)
	assert.Equal(t, 14400, summary.DurationSeconds)
}

func TestRouteNoRoute(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"routes":[{"result_code":104,"result_msg":"too close"}]}`))
	})

	_, err := client.Route(context.Background(), Coordinates{}, Coordinates{})
	assert.ErrorIs(t, err, ErrNoRoute)
}

func TestRouteUpstreamStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := client.Route(context.Background(), Coordinates{}, Coordinates{})
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusTooManyRequests, statusErr.StatusCode)
}

func TestRouteHonoursContextDeadline(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := client.Route(ctx, Coordinates{}, Coordinates{})
	require.Error(t, err)
}

func TestGeocode(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/local/search/address.json", r.URL.Path)
		assert.Equal(t, "KakaoAK local-key", r.Header.Get("Authorization"))
		if r.URL.Query().Get("query") == "nowhere" {
			_, _ = w.Write([]byte(`{"documents":[]}`))
			return
		}
		_, _ = w.Write([]byte(`{"documents":[{"address_name":"Seoul Jung-gu","x":"126.978","y":"37.566"}]}`))
	})

	result, err := client.Geocode(context.Background(), "Seoul City Hall")
	require.NoError(t, err)
	assert.InDelta(t, 37.566, result.Lat, 1e-9)
	assert.InDelta(t, 126.978, result.Lng, 1e-9)
	assert.Equal(t, "Seoul Jung-gu", result.Address)

	_, err = client.Geocode(context.Background(), "nowhere")
	assert.ErrorIs(t, err, ErrAddressNotFound)
}

func TestMissingKeys(t *testing.T) {
	client := NewKakaoClient(config.DistanceConfig{}, Options{})
	_, err := client.Route(context.Background(), Coordinates{}, Coordinates{})
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, err = client.Geocode(context.Background(), "x")
	assert.ErrorIs(t, err, ErrNotConfigured)
}
