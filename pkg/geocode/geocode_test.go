package geocode

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/sells-group/carefinder-cli/internal/resilience"
)

func fastRetry() resilience.Policy {
	return resilience.Policy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

// newTestGeocoder points both providers at test servers. An empty URL keeps
// the production endpoint, which the test must never reach.
func newTestGeocoder(censusURL, googleURL, googleKey string) *geocoder {
	if censusURL == "" {
		censusURL = censusOneLineURL
	}
	if googleURL == "" {
		googleURL = googleGeocodeURL
	}
	return &geocoder{
		httpClient: &http.Client{Timeout: 2 * time.Second},
		googleKey:  googleKey,
		limiter:    rate.NewLimiter(rate.Inf, 1),
		retry:      fastRetry(),
		censusURL:  censusURL,
		googleURL:  googleURL,
	}
}

func TestGeocode_CensusMatch(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1 Main St, Cheyenne, WY", r.URL.Query().Get("address"))
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		w.Write([]byte(`{"result":{"addressMatches":[{"coordinates":{"x":-104.82,"y":41.14},"matchedAddress":"1 MAIN ST"}]}}`)) //nolint:errcheck
	}))
	defer ts.Close()

	g := newTestGeocoder(ts.URL, "", "")
	res := g.Geocode(context.Background(), "1 Main St, Cheyenne, WY")
	require.NotNil(t, res)
	assert.InDelta(t, 41.14, res.Latitude, 1e-9)
	assert.InDelta(t, -104.82, res.Longitude, 1e-9)
	assert.Equal(t, "census", res.Source)
}

func TestGeocode_RetriesTransientCensusFailure(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"result":{"addressMatches":[{"coordinates":{"x":-71.06,"y":42.36}}]}}`)) //nolint:errcheck
	}))
	defer ts.Close()

	g := newTestGeocoder(ts.URL, "", "")
	res := g.Geocode(context.Background(), "1 City Hall Sq, Boston, MA")
	require.NotNil(t, res)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGeocode_FallsBackToGoogle(t *testing.T) {
	census := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"result":{"addressMatches":[]}}`)) //nolint:errcheck
	}))
	defer census.Close()
	google := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "gkey", r.URL.Query().Get("key"))
		w.Write([]byte(`{"status":"OK","results":[{"geometry":{"location":{"lat":21.3,"lng":-157.85},"location_type":"RANGE_INTERPOLATED"}}]}`)) //nolint:errcheck
	}))
	defer google.Close()

	g := newTestGeocoder(census.URL, google.URL, "gkey")

	res := g.Geocode(context.Background(), "1 Beach Rd, Honolulu, HI")
	require.NotNil(t, res)
	assert.Equal(t, "google", res.Source)
	assert.Equal(t, "range", res.Quality)
}

func TestGeocode_NoMatchReturnsNil(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer ts.Close()

	g := newTestGeocoder(ts.URL, "", "")
	assert.Nil(t, g.Geocode(context.Background(), "nowhere"))
	assert.Nil(t, g.Geocode(context.Background(), ""))
}

func TestGoogleLocationTypeToQuality(t *testing.T) {
	assert.Equal(t, "rooftop", googleLocationTypeToQuality("rooftop"))
	assert.Equal(t, "centroid", googleLocationTypeToQuality("GEOMETRIC_CENTER"))
	assert.Equal(t, "approximate", googleLocationTypeToQuality("other"))
}

func TestNewClient_Options(t *testing.T) {
	c := NewClient(WithGoogleAPIKey("k"), WithRateLimit(0.5), WithRetry(fastRetry()))
	g, ok := c.(*geocoder)
	require.True(t, ok)
	assert.Equal(t, "k", g.googleKey)
	assert.Equal(t, 1, g.limiter.Burst())
	assert.Equal(t, 3, g.retry.MaxAttempts)
}
