// Package firecrawl provides a client for the Firecrawl scrape API, the last
// fetch tier for pages that neither a direct fetch nor the Jina reader can
// render.
package firecrawl

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/carefinder-cli/internal/resilience"
)

const defaultBaseURL = "https://api.firecrawl.dev/v1"

// Client defines the Firecrawl operations the scrape chain uses.
type Client interface {
	// Scrape renders a single page.
	Scrape(ctx context.Context, req ScrapeRequest) (*ScrapeResponse, error)
}

// ScrapeRequest is the body for POST /scrape.
type ScrapeRequest struct {
	URL             string   `json:"url"`
	Formats         []string `json:"formats,omitempty"`
	OnlyMainContent bool     `json:"onlyMainContent,omitempty"`
	WaitFor         int      `json:"waitFor,omitempty"`
}

// ScrapeResponse is the response from POST /scrape.
type ScrapeResponse struct {
	Success bool     `json:"success"`
	Error   string   `json:"error,omitempty"`
	Data    PageData `json:"data"`
}

// PageData is one rendered page.
type PageData struct {
	Markdown string   `json:"markdown"`
	HTML     string   `json:"html,omitempty"`
	Metadata Metadata `json:"metadata"`
}

// Metadata carries what Firecrawl learned about the page.
type Metadata struct {
	Title      string `json:"title"`
	SourceURL  string `json:"sourceURL"`
	StatusCode int    `json:"statusCode"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRetry sets the retry policy for scrape requests.
func WithRetry(p resilience.Policy) Option {
	return func(c *httpClient) {
		c.retry = p
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	retry   resilience.Policy
}

// NewClient creates a Firecrawl client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		retry: resilience.NewPolicy(2, 2000, 8000, 2, 0.25),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Scrape(ctx context.Context, req ScrapeRequest) (*ScrapeResponse, error) {
	buf, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "firecrawl: marshal request")
	}

	body, err := resilience.DoVal(ctx, c.retry.With(nil, resilience.RetryLogger("firecrawl", "scrape")),
		func(ctx context.Context) ([]byte, error) { return c.post(ctx, "/scrape", buf) })
	if err != nil {
		return nil, err
	}

	var resp ScrapeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, eris.Wrap(err, "firecrawl: decode response")
	}
	if !resp.Success {
		return nil, eris.Errorf("firecrawl: scrape %s: %s", req.URL, resp.Error)
	}
	return &resp, nil
}

// post sends one request. Non-2xx responses come back as classified
// resilience errors.
func (c *httpClient) post(ctx context.Context, path string, buf []byte) ([]byte, error) {
	reqURL := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(buf))
	if err != nil {
		return nil, eris.Wrap(err, "firecrawl: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "firecrawl: request failed")
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "firecrawl: read response body")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resilience.HTTPError(reqURL, resp.StatusCode)
	}
	return data, nil
}
