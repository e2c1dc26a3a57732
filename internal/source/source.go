// Package source holds the per-source clients that turn one state's pages or
// API responses into partial records.
package source

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/carefinder-cli/internal/model"
	"github.com/sells-group/carefinder-cli/internal/resilience"
)

// LegalSource produces one state's legal-information partial.
type LegalSource interface {
	Name() string
	FetchLegal(ctx context.Context, state model.State) (*model.LegalInfoPartial, error)
}

// ClinicSource lists clinics for one state. Returned clinics may lack
// coordinates; the caller geocodes and validates them.
type ClinicSource interface {
	Name() string
	FetchClinics(ctx context.Context, state model.State) ([]model.Clinic, error)
}

// Slug strategies for the government site URL.
const (
	SlugPrefix2 = "prefix2"
	SlugPostal  = "postal"
)

// GovSlug returns the path slug for a state. prefix2 takes the first two
// letters of the name, so Colorado and Connecticut share "co"; postal uses the
// USPS code.
func GovSlug(strategy string, state model.State) string {
	if strategy == SlugPostal {
		return strings.ToLower(state.Code)
	}
	name := strings.ToLower(strings.ReplaceAll(state.Name, " ", ""))
	if len(name) < 2 {
		return name
	}
	return name[:2]
}

// jsonClient is the shared JSON-over-HTTP helper for API sources.
type jsonClient struct {
	http      *http.Client
	userAgent string
}

func newJSONClient(timeout time.Duration, userAgent string) *jsonClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &jsonClient{http: &http.Client{Timeout: timeout}, userAgent: userAgent}
}

// get fetches reqURL and decodes the JSON body into out. Non-2xx statuses
// come back as classified resilience errors.
func (c *jsonClient) get(ctx context.Context, reqURL string, header http.Header, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return eris.Wrap(err, "source: create request")
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrapf(err, "source: get %s", reqURL)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resilience.HTTPError(reqURL, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return eris.Wrapf(err, "source: decode %s", reqURL)
	}
	return nil
}
