package scrape

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/carefinder-cli/internal/resilience"
	"github.com/sells-group/carefinder-cli/pkg/jina"
)

// JinaAdapter wraps a Jina Reader client as a Scraper behind a breaker.
type JinaAdapter struct {
	client  jina.Client
	breaker *resilience.Breaker
}

// NewJinaAdapter creates a JinaAdapter. Three consecutive failures open the
// breaker for 60s, sending every request straight to the error path.
func NewJinaAdapter(client jina.Client) *JinaAdapter {
	return &JinaAdapter{
		client: client,
		breaker: resilience.NewBreaker("jina", resilience.BreakerConfig{
			FailureThreshold: 3,
			Cooldown:         resilience.DefaultBreakerConfig().Cooldown,
		}),
	}
}

func (j *JinaAdapter) Name() string { return "jina" }

// Supports returns true unless the breaker is open.
func (j *JinaAdapter) Supports(_ string) bool {
	return j.breaker.State() != resilience.BreakerOpen
}

// Scrape fetches a URL via Jina Reader and validates the response.
func (j *JinaAdapter) Scrape(ctx context.Context, targetURL string) (*Result, error) {
	return resilience.CallVal(ctx, j.breaker, func(ctx context.Context) (*Result, error) {
		resp, err := j.client.Read(ctx, targetURL)
		if err != nil {
			return nil, err
		}
		if needsFallback(resp) {
			return nil, eris.Errorf("jina: unusable response for %s", targetURL)
		}

		pageURL := resp.Data.URL
		if pageURL == "" {
			pageURL = targetURL
		}
		return &Result{
			Page: Page{
				URL:        pageURL,
				Title:      resp.Data.Title,
				Text:       resp.Data.Content,
				StatusCode: 200,
			},
			Source: "jina",
		}, nil
	})
}

var challengeSignatures = []string{
	"checking your browser",
	"enable javascript",
	"please enable cookies",
	"access denied",
	"403 forbidden",
	"just a moment",
	"cloudflare",
	"attention required",
}

// needsFallback reports whether a Jina response is empty or a rendered
// challenge page rather than content.
func needsFallback(resp *jina.ReadResponse) bool {
	if resp == nil {
		return true
	}
	if resp.Code != 0 && resp.Code != 200 {
		return true
	}

	content := strings.TrimSpace(resp.Data.Content)
	if len(content) < 100 {
		return true
	}

	lower := strings.ToLower(content)
	for _, sig := range challengeSignatures {
		if strings.Contains(lower, sig) && len(content) < 1000 {
			return true
		}
	}
	return false
}
