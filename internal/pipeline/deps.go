// Package pipeline drives per-state ingestion runs: fetch from every source,
// merge, fall back, enrich, and upsert into the store.
package pipeline

import (
	"context"
	"time"

	"github.com/sells-group/carefinder-cli/internal/model"
	"github.com/sells-group/carefinder-cli/internal/notify"
	"github.com/sells-group/carefinder-cli/internal/queue"
	"github.com/sells-group/carefinder-cli/internal/resilience"
	"github.com/sells-group/carefinder-cli/internal/source"
	"github.com/sells-group/carefinder-cli/internal/store"
	"github.com/sells-group/carefinder-cli/pkg/geocode"
)

// LegalEnricher supplements a merged legal record. It never fails; on error
// it returns its input.
type LegalEnricher interface {
	Enrich(ctx context.Context, state model.State, merged model.LegalInfo) model.LegalInfo
}

// ClinicGenerator synthesizes clinics for a state.
type ClinicGenerator interface {
	Generate(ctx context.Context, state model.State, count int) ([]model.Clinic, error)
}

// FallbackProvider serves canned records by state name.
type FallbackProvider interface {
	Legal(state string) (model.LegalInfo, bool)
	Clinics(state string) []model.Clinic
}

// LegalNotifier is told about legal-update changes after a write.
type LegalNotifier interface {
	LegalUpdated(ctx context.Context, state string, prev, next []model.LegalUpdate) notify.Result
}

// Deps is everything a Driver needs, built once per process. Optional
// collaborators may be nil.
type Deps struct {
	Queue    *queue.Queue
	Store    store.Store
	Breakers *resilience.Breakers

	// LegalSources and ClinicSources are in priority order: earlier
	// sources win scalar ties during merge.
	LegalSources  []source.LegalSource
	ClinicSources []source.ClinicSource

	Geocoder  geocode.Client
	Enricher  LegalEnricher
	Generator ClinicGenerator
	Fallback  FallbackProvider
	Notifier  LegalNotifier

	// ClinicKey is ClinicKeyName or ClinicKeyNameAddress.
	ClinicKey string
	// GenerateCount is how many clinics generation asks for per state.
	GenerateCount int

	// States overrides the 50-state universe; used by tests.
	States []model.State
	Now    func() time.Time
}

func (d *Deps) defaults() {
	if d.Breakers == nil {
		d.Breakers = resilience.NewBreakers(resilience.DefaultBreakerConfig())
	}
	if d.GenerateCount <= 0 {
		d.GenerateCount = 10
	}
	if len(d.States) == 0 {
		d.States = model.States()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
}
