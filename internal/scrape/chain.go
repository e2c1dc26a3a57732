// Package scrape fetches source pages through an ordered chain of
// scrapers: a plain HTTP fetch first, then rendering services (Jina,
// Firecrawl) when the page is walled off.
package scrape

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/carefinder-cli/internal/resilience"
)

// Chain tries scrapers in priority order, returning the first success.
type Chain struct {
	PathMatcher *PathMatcher
	scrapers    []Scraper
}

// NewChain creates a Chain with the given path matcher and scrapers.
func NewChain(matcher *PathMatcher, scrapers ...Scraper) *Chain {
	if matcher == nil {
		matcher = NewPathMatcher(nil)
	}
	return &Chain{
		PathMatcher: matcher,
		scrapers:    scrapers,
	}
}

// Scrape tries each scraper in order for a single URL. A 404 or 410 from the
// origin is final and returned as is, so callers can apply their own retry
// policy to it. Other failures move on to the next scraper; when all fail
// the last error is returned unwrapped to keep its classification.
func (c *Chain) Scrape(ctx context.Context, targetURL string) (*Result, error) {
	if c.PathMatcher.IsExcluded(targetURL) {
		return nil, eris.Errorf("scrape: url excluded by path matcher: %s", targetURL)
	}

	var lastErr error
	for _, s := range c.scrapers {
		if !s.Supports(targetURL) {
			continue
		}
		result, err := s.Scrape(ctx, targetURL)
		if err == nil && result != nil {
			return result, nil
		}
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return nil, err
		}
		zap.L().Debug("scrape: scraper failed, trying next",
			zap.String("scraper", s.Name()),
			zap.String("url", targetURL),
			zap.Error(err),
		)
		lastErr = err
		if isGone(err) {
			break
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, eris.Errorf("scrape: no suitable scraper for url: %s", targetURL)
}

func isGone(err error) bool {
	var se *resilience.StatusError
	if errors.As(err, &se) {
		return se.StatusCode == 404 || se.StatusCode == 410
	}
	return false
}
