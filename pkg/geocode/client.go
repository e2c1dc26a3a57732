// Package geocode turns free-text clinic addresses into coordinates using the
// Census geocoder, with Google as an optional fallback.
package geocode

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/carefinder-cli/internal/resilience"
)

// Client geocodes a single address. A nil Result means no provider could
// place the address; failures are logged, not returned.
type Client interface {
	Geocode(ctx context.Context, address string) *Result
}

// Result is a matched location.
type Result struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Source    string  `json:"source"`  // "census" or "google"
	Quality   string  `json:"quality"` // "rooftop", "range", "centroid", "approximate"
}

// Option configures the geocoder.
type Option func(*geocoder)

// WithGoogleAPIKey enables Google Geocoding API as a fallback.
func WithGoogleAPIKey(key string) Option {
	return func(g *geocoder) {
		g.googleKey = key
	}
}

// WithHTTPClient sets a custom HTTP client for both providers.
func WithHTTPClient(hc *http.Client) Option {
	return func(g *geocoder) {
		g.httpClient = hc
	}
}

// WithRateLimit sets the requests-per-second limit shared by both providers.
func WithRateLimit(rps float64) Option {
	return func(g *geocoder) {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithRetry sets the retry policy applied to each provider call.
func WithRetry(p resilience.Policy) Option {
	return func(g *geocoder) {
		g.retry = p
	}
}

type geocoder struct {
	httpClient *http.Client
	googleKey  string
	limiter    *rate.Limiter
	retry      resilience.Policy
	censusURL  string
	googleURL  string
}

// NewClient creates a geocoding Client with the given options.
func NewClient(opts ...Option) Client {
	g := &geocoder{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    rate.NewLimiter(5, 5),
		retry:      resilience.DefaultPolicy(),
		censusURL:  censusOneLineURL,
		googleURL:  googleGeocodeURL,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Geocode tries Census first, then Google if configured.
func (g *geocoder) Geocode(ctx context.Context, address string) *Result {
	if address == "" {
		return nil
	}

	res, err := resilience.DoVal(ctx, g.retry.With(nil, resilience.RetryLogger("census", "geocode")),
		func(ctx context.Context) (*Result, error) { return g.geocodeCensus(ctx, address) })
	if err != nil {
		zap.L().Warn("geocode: census failed", zap.String("address", address), zap.Error(err))
	}
	if res != nil {
		return res
	}

	if g.googleKey == "" {
		return nil
	}
	res, err = resilience.DoVal(ctx, g.retry.With(nil, resilience.RetryLogger("google", "geocode")),
		func(ctx context.Context) (*Result, error) { return g.geocodeGoogle(ctx, address) })
	if err != nil {
		zap.L().Warn("geocode: google failed", zap.String("address", address), zap.Error(err))
	}
	return res
}
