package scrape

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/carefinder-cli/pkg/firecrawl"
)

// FirecrawlAdapter wraps a Firecrawl client as the last-resort Scraper.
type FirecrawlAdapter struct {
	client firecrawl.Client
}

// NewFirecrawlAdapter creates a FirecrawlAdapter.
func NewFirecrawlAdapter(client firecrawl.Client) *FirecrawlAdapter {
	return &FirecrawlAdapter{client: client}
}

func (f *FirecrawlAdapter) Name() string { return "firecrawl" }

// Supports accepts any URL.
func (f *FirecrawlAdapter) Supports(_ string) bool { return true }

// Scrape renders targetURL as markdown. Firecrawl returns the HTML alongside
// when it has it, so selector extraction works on the real markup.
func (f *FirecrawlAdapter) Scrape(ctx context.Context, targetURL string) (*Result, error) {
	resp, err := f.client.Scrape(ctx, firecrawl.ScrapeRequest{
		URL:             targetURL,
		Formats:         []string{"markdown", "html"},
		OnlyMainContent: true,
	})
	if err != nil {
		return nil, err
	}
	if resp.Data.Markdown == "" && resp.Data.HTML == "" {
		return nil, eris.Errorf("firecrawl: empty page for %s", targetURL)
	}

	pageURL := resp.Data.Metadata.SourceURL
	if pageURL == "" {
		pageURL = targetURL
	}
	status := resp.Data.Metadata.StatusCode
	if status == 0 {
		status = 200
	}
	return &Result{
		Page: Page{
			URL:        pageURL,
			Title:      resp.Data.Metadata.Title,
			HTML:       resp.Data.HTML,
			Text:       resp.Data.Markdown,
			StatusCode: status,
		},
		Source: "firecrawl",
	}, nil
}
