package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/carefinder-cli/internal/config"
	"github.com/sells-group/carefinder-cli/internal/enrich"
	"github.com/sells-group/carefinder-cli/internal/fallback"
	"github.com/sells-group/carefinder-cli/internal/notify"
	"github.com/sells-group/carefinder-cli/internal/pipeline"
	"github.com/sells-group/carefinder-cli/internal/queue"
	"github.com/sells-group/carefinder-cli/internal/resilience"
	"github.com/sells-group/carefinder-cli/internal/scrape"
	"github.com/sells-group/carefinder-cli/internal/source"
	"github.com/sells-group/carefinder-cli/internal/store"
	anthropicpkg "github.com/sells-group/carefinder-cli/pkg/anthropic"
	"github.com/sells-group/carefinder-cli/pkg/firecrawl"
	"github.com/sells-group/carefinder-cli/pkg/geocode"
	"github.com/sells-group/carefinder-cli/pkg/google"
	"github.com/sells-group/carefinder-cli/pkg/jina"
)

// pipelineEnv holds the store and driver used by the crawl, generate and
// serve commands.
type pipelineEnv struct {
	Store  store.Store
	Driver *pipeline.Driver
	Queue  *queue.Queue

	cancel context.CancelFunc
}

// Close stops the queue and releases the store.
func (pe *pipelineEnv) Close() {
	if pe.cancel != nil {
		pe.cancel()
	}
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initPipeline validates config for mode, opens the store and builds the
// driver. Callers should defer env.Close().
func initPipeline(ctx context.Context, mode string) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	qctx, cancel := context.WithCancel(ctx)
	deps, err := buildDeps(qctx, cfg, st)
	if err != nil {
		cancel()
		_ = st.Close()
		return nil, err
	}

	return &pipelineEnv{
		Store:  st,
		Driver: pipeline.NewDriver(deps),
		Queue:  deps.Queue,
		cancel: cancel,
	}, nil
}

// buildDeps wires every source and client from config. The queue runs under
// ctx. Sources without an endpoint are left out.
func buildDeps(ctx context.Context, c *config.Config, st store.Store) (pipeline.Deps, error) {
	retry := resilience.NewPolicy(
		c.Retry.MaxAttempts,
		c.Retry.InitialBackoffMs,
		c.Retry.MaxBackoffMs,
		c.Retry.Multiplier,
		c.Retry.JitterFraction,
	)
	timeout := time.Duration(c.Sources.TimeoutSecs) * time.Second

	scrapers := []scrape.Scraper{scrape.NewLocalScraper(c.Sources.UserAgent, timeout)}
	if c.Jina.BaseURL != "" {
		jc := jina.NewClient(c.Jina.Key, jina.WithBaseURL(c.Jina.BaseURL), jina.WithRetry(retry))
		scrapers = append(scrapers, scrape.NewJinaAdapter(jc))
	}
	if c.Firecrawl.Key != "" {
		fc := firecrawl.NewClient(c.Firecrawl.Key, firecrawl.WithBaseURL(c.Firecrawl.BaseURL), firecrawl.WithRetry(retry))
		scrapers = append(scrapers, scrape.NewFirecrawlAdapter(fc))
	}
	chain := scrape.NewChain(nil, scrapers...)

	deps := pipeline.Deps{
		Queue: queue.New(ctx, queue.Options{
			Concurrency: c.Queue.Concurrency,
			Interval:    time.Duration(c.Queue.IntervalMs) * time.Millisecond,
		}),
		Store:         st,
		Breakers:      resilience.NewBreakers(resilience.NewBreakerConfig(c.Circuit.FailureThreshold, c.Circuit.CooldownSecs)),
		ClinicKey:     c.Pipeline.ClinicKey,
		GenerateCount: c.Pipeline.GenerateCount,
	}

	// Legal sources in priority order: government, advocacy, news.
	if c.Sources.GovURLTemplate != "" {
		deps.LegalSources = append(deps.LegalSources,
			source.NewGov(chain, retry, c.Sources.GovURLTemplate, c.Sources.GovSlug))
	}
	var adv *source.Advocacy
	if c.Sources.AdvocacyBaseURL != "" {
		adv = source.NewAdvocacy(chain, retry, c.Sources.AdvocacyBaseURL)
		deps.LegalSources = append(deps.LegalSources, adv)
	}
	if c.Sources.NewsBaseURL != "" && c.Sources.NewsKey != "" {
		deps.LegalSources = append(deps.LegalSources,
			source.NewNews(c.Sources.NewsBaseURL, c.Sources.NewsKey, timeout, c.Sources.UserAgent, retry))
	}

	// Clinic sources: the directory, then Places search, then advocacy listings.
	if c.Sources.ClinicDirBaseURL != "" {
		deps.ClinicSources = append(deps.ClinicSources, source.NewClinicDirectory(
			c.Sources.ClinicDirBaseURL,
			c.Sources.ClinicDirKey,
			time.Duration(c.Sources.ClinicDetailDelayMs)*time.Millisecond,
			timeout,
			c.Sources.UserAgent,
			retry,
		))
	}
	if c.Sources.PlacesKey != "" {
		gc := google.NewClient(c.Sources.PlacesKey, google.WithRetry(retry))
		deps.ClinicSources = append(deps.ClinicSources, source.NewPlaces(gc, c.Sources.PlacesQuery))
	}
	if adv != nil {
		deps.ClinicSources = append(deps.ClinicSources, adv)
	}

	geoOpts := []geocode.Option{geocode.WithRateLimit(c.Geocode.RateLimit), geocode.WithRetry(retry)}
	if c.Geocode.GoogleKey != "" {
		geoOpts = append(geoOpts, geocode.WithGoogleAPIKey(c.Geocode.GoogleKey))
	}
	deps.Geocoder = geocode.NewClient(geoOpts...)

	if c.Anthropic.Key != "" {
		ai := anthropicpkg.NewClient(c.Anthropic.Key, anthropicpkg.WithMaxRetries(c.Anthropic.MaxRetries))
		if c.Pipeline.Enrich {
			deps.Enricher = enrich.NewEnricher(ai, c.Anthropic.Model, c.Anthropic.MaxTokens)
		}
		deps.Generator = enrich.NewClinicGenerator(ai, c.Anthropic.Model, c.Anthropic.MaxTokens, c.Pipeline.GenerateAttempts)
	} else {
		zap.L().Debug("CAREFINDER_ANTHROPIC_KEY not set, enrichment and clinic generation disabled")
	}

	fb, err := fallback.Load(c.Pipeline.FallbackFile)
	if err != nil {
		return pipeline.Deps{}, err
	}
	deps.Fallback = fb

	deps.Notifier = notify.New(st, time.Duration(c.Notify.TimeoutSecs)*time.Second)

	zap.L().Info("pipeline initialized",
		zap.Int("legal_sources", len(deps.LegalSources)),
		zap.Int("clinic_sources", len(deps.ClinicSources)),
		zap.Bool("enrich", deps.Enricher != nil),
		zap.Bool("generate", deps.Generator != nil),
		zap.Int("fallback_states", fb.States()),
	)
	return deps, nil
}
