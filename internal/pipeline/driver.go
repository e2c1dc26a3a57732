package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/carefinder-cli/internal/enrich"
	"github.com/sells-group/carefinder-cli/internal/merge"
	"github.com/sells-group/carefinder-cli/internal/model"
	"github.com/sells-group/carefinder-cli/internal/resilience"
)

// ErrUnavailable means a run kind has nothing to run with, such as
// generation without a completion client.
var ErrUnavailable = eris.New("pipeline: run kind unavailable")

// Driver submits one task per state to the queue and tracks each run to
// completion. A state's failure never affects its siblings.
type Driver struct {
	deps     Deps
	upserter *Upserter

	mu   sync.Mutex
	last map[model.RunKind]*Run
}

// NewDriver creates a Driver. deps.Queue and deps.Store are required.
func NewDriver(deps Deps) *Driver {
	deps.defaults()
	return &Driver{
		deps:     deps,
		upserter: NewUpserter(deps.Store, deps.ClinicKey, deps.Now),
		last:     make(map[model.RunKind]*Run),
	}
}

// Run is one pass over every state.
type Run struct {
	Kind    model.RunKind
	Started time.Time

	tracker *Tracker
	wg      sync.WaitGroup
	done    chan struct{}
	report  *Report
	now     func() time.Time
}

// Done is closed when every state reached a terminal state or the run was
// abandoned.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the run completes and returns its report.
func (r *Run) Wait(ctx context.Context) (*Report, error) {
	select {
	case <-r.done:
		return r.report, nil
	case <-ctx.Done():
		return nil, eris.Wrap(ctx.Err(), "pipeline: wait for run")
	}
}

// Report returns the final report, or a live snapshot while running.
func (r *Run) Report() *Report {
	select {
	case <-r.done:
		return r.report
	default:
		return r.tracker.report(r.Started, r.now().Sub(r.Started))
	}
}

// Last returns the most recent run of kind, or nil.
func (d *Driver) Last(kind model.RunKind) *Run {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last[kind]
}

// Start launches a run of kind and returns at once. The run keeps going
// until every state is done or ctx is cancelled.
func (d *Driver) Start(ctx context.Context, kind model.RunKind) (*Run, error) {
	switch kind {
	case model.RunKindLegal:
		return d.StartLegal(ctx)
	case model.RunKindClinics:
		return d.StartClinics(ctx)
	case model.RunKindGeneration:
		return d.StartGeneration(ctx)
	default:
		return nil, eris.Errorf("pipeline: unknown run kind %q", kind)
	}
}

// Populate runs kind to completion and returns the number of stored records
// of that kind afterwards.
func (d *Driver) Populate(ctx context.Context, kind model.RunKind) (int, *Report, error) {
	switch kind {
	case model.RunKindLegal:
		return d.PopulateLegal(ctx)
	case model.RunKindClinics:
		return d.PopulateClinics(ctx)
	case model.RunKindGeneration:
		return d.PopulateGeneration(ctx)
	default:
		return 0, nil, eris.Errorf("pipeline: unknown run kind %q", kind)
	}
}

// StartLegal launches a legal-info crawl.
func (d *Driver) StartLegal(ctx context.Context) (*Run, error) {
	if len(d.deps.LegalSources) == 0 && d.deps.Fallback == nil {
		return nil, eris.Wrap(ErrUnavailable, "no legal sources configured")
	}
	return d.start(ctx, model.RunKindLegal, d.processLegal), nil
}

// PopulateLegal crawls legal info and returns the stored record count.
func (d *Driver) PopulateLegal(ctx context.Context) (int, *Report, error) {
	run, err := d.StartLegal(ctx)
	if err != nil {
		return 0, nil, err
	}
	return d.await(ctx, run, d.deps.Store.CountLegalInfo)
}

// StartClinics launches a clinic crawl.
func (d *Driver) StartClinics(ctx context.Context) (*Run, error) {
	if len(d.deps.ClinicSources) == 0 && d.deps.Fallback == nil {
		return nil, eris.Wrap(ErrUnavailable, "no clinic sources configured")
	}
	return d.start(ctx, model.RunKindClinics, d.processClinics), nil
}

// PopulateClinics crawls clinics and returns the stored clinic count.
func (d *Driver) PopulateClinics(ctx context.Context) (int, *Report, error) {
	run, err := d.StartClinics(ctx)
	if err != nil {
		return 0, nil, err
	}
	return d.await(ctx, run, d.deps.Store.CountClinics)
}

// StartGeneration launches AI clinic generation.
func (d *Driver) StartGeneration(ctx context.Context) (*Run, error) {
	if d.deps.Generator == nil {
		return nil, eris.Wrap(ErrUnavailable, "no clinic generator configured")
	}
	return d.start(ctx, model.RunKindGeneration, d.processGeneration), nil
}

// PopulateGeneration generates clinics and returns the stored clinic count.
func (d *Driver) PopulateGeneration(ctx context.Context) (int, *Report, error) {
	run, err := d.StartGeneration(ctx)
	if err != nil {
		return 0, nil, err
	}
	return d.await(ctx, run, d.deps.Store.CountClinics)
}

func (d *Driver) await(ctx context.Context, run *Run, count func(context.Context) (int, error)) (int, *Report, error) {
	report, err := run.Wait(ctx)
	if err != nil {
		return 0, run.Report(), err
	}
	n, err := count(ctx)
	if err != nil {
		return 0, report, eris.Wrap(err, "pipeline: count stored records")
	}
	return n, report, nil
}

// stateFunc processes one state and returns its terminal state.
type stateFunc func(ctx context.Context, run *Run, st model.State) (model.EntityState, error)

func (d *Driver) start(ctx context.Context, kind model.RunKind, fn stateFunc) *Run {
	names := make([]string, len(d.deps.States))
	for i, st := range d.deps.States {
		names[i] = st.Name
	}
	run := &Run{
		Kind:    kind,
		Started: d.deps.Now(),
		tracker: NewTracker(kind, names),
		done:    make(chan struct{}),
		now:     d.deps.Now,
	}

	d.mu.Lock()
	d.last[kind] = run
	d.mu.Unlock()

	zap.L().Info("pipeline: run started",
		zap.String("kind", string(kind)),
		zap.Int("states", len(names)),
	)

	run.wg.Add(len(d.deps.States))
	for _, st := range d.deps.States {
		d.deps.Queue.Submit(fmt.Sprintf("%s:%s", kind, st.Name), func(taskCtx context.Context) error {
			defer run.wg.Done()
			// The task stops with whichever ends first: the queue or the run.
			taskCtx, cancel := context.WithCancel(taskCtx)
			defer cancel()
			stop := context.AfterFunc(ctx, cancel)
			defer stop()
			return d.runState(taskCtx, run, st, fn)
		})
	}

	go d.finish(ctx, run)
	return run
}

// finish waits for every state, or for ctx to end the run early. States a
// cancelled run never reached are marked failed.
func (d *Driver) finish(ctx context.Context, run *Run) {
	all := make(chan struct{})
	go func() {
		run.wg.Wait()
		close(all)
	}()

	select {
	case <-all:
	case <-ctx.Done():
		for name, s := range run.tracker.Snapshot() {
			if !s.Terminal() {
				run.tracker.Set(name, model.EntityFailed)
			}
		}
		zap.L().Warn("pipeline: run abandoned", zap.String("kind", string(run.Kind)), zap.Error(ctx.Err()))
	}

	run.report = run.tracker.report(run.Started, run.now().Sub(run.Started))
	close(run.done)

	zap.L().Info("pipeline: run complete",
		zap.String("kind", string(run.Kind)),
		zap.Int("succeeded", run.report.Succeeded),
		zap.Int("failed", run.report.Failed),
		zap.Int("skipped", run.report.Skipped),
		zap.Duration("duration", run.report.Duration),
	)
}

// runState is the task boundary: every error and panic below it marks the
// state failed and stops there.
func (d *Driver) runState(ctx context.Context, run *Run, st model.State, fn stateFunc) (err error) {
	log := zap.L().With(zap.String("kind", string(run.Kind)), zap.String("state", st.Name))
	defer func() {
		if r := recover(); r != nil {
			run.tracker.Set(st.Name, model.EntityFailed)
			err = eris.Errorf("pipeline: %s panicked: %v", st.Name, r)
		}
	}()

	// An abandoned run's states are already failed; nothing more is fetched
	// or written for them.
	if err := ctx.Err(); err != nil {
		run.tracker.Set(st.Name, model.EntityFailed)
		return eris.Wrapf(err, "pipeline: %s not started", st.Name)
	}

	final, err := fn(ctx, run, st)
	if err != nil {
		run.tracker.Set(st.Name, model.EntityFailed)
		log.Error("pipeline: state failed", zap.Error(err))
		return eris.Wrapf(err, "pipeline: %s", st.Name)
	}
	run.tracker.Set(st.Name, final)
	log.Info("pipeline: state finished", zap.String("result", string(final)))
	return nil
}

func (d *Driver) processLegal(ctx context.Context, run *Run, st model.State) (model.EntityState, error) {
	log := zap.L().With(zap.String("state", st.Name))

	run.tracker.Set(st.Name, model.EntityFetching)
	partials := d.fetchLegal(ctx, st)

	run.tracker.Set(st.Name, model.EntityMerging)
	info := merge.Legal(d.deps.Now(), partials...)

	// A record with nothing but provenance is replaced wholesale by the
	// fallback, so a page that loads without legal content (or a slug that
	// resolves to another state's page) cannot mask it.
	fromFallback := false
	if !info.HasFacts() {
		if fb, ok := d.fallbackLegal(st.Name); ok {
			log.Info("pipeline: using fallback legal record")
			info = fb
			fromFallback = true
		}
	}

	if !fromFallback && !info.IsEmpty() && d.deps.Enricher != nil {
		run.tracker.Set(st.Name, model.EntityEnriching)
		info = d.deps.Enricher.Enrich(ctx, st, info)
	}

	if !info.HasFacts() {
		log.Warn("pipeline: no legal facts from any source and no fallback")
		return model.EntitySkipped, nil
	}

	run.tracker.Set(st.Name, model.EntityPersisting)
	res, err := d.upserter.UpsertLegalInfo(ctx, st.Name, info)
	if err != nil {
		return model.EntityFailed, err
	}

	if d.deps.Notifier != nil {
		var prev []model.LegalUpdate
		if res.Previous != nil {
			prev = res.Previous.RecentUpdates
		}
		d.deps.Notifier.LegalUpdated(ctx, st.Name, prev, info.RecentUpdates)
	}
	return model.EntityDone, nil
}

// fetchLegal calls every legal source concurrently. A failed source only
// loses its own contribution. Results keep source-priority order.
func (d *Driver) fetchLegal(ctx context.Context, st model.State) []model.LegalInfoPartial {
	results := make([]*model.LegalInfoPartial, len(d.deps.LegalSources))

	var g errgroup.Group
	for i, src := range d.deps.LegalSources {
		g.Go(func() error {
			p, err := resilience.CallVal(ctx, d.deps.Breakers.Get(src.Name()),
				func(ctx context.Context) (*model.LegalInfoPartial, error) {
					return src.FetchLegal(ctx, st)
				})
			if err != nil {
				sourceUnavailable(src.Name(), st, err)
				return nil
			}
			results[i] = p
			return nil
		})
	}
	_ = g.Wait()

	partials := make([]model.LegalInfoPartial, 0, len(results))
	for _, p := range results {
		if p != nil {
			partials = append(partials, *p)
		}
	}
	return partials
}

func (d *Driver) processClinics(ctx context.Context, run *Run, st model.State) (model.EntityState, error) {
	log := zap.L().With(zap.String("state", st.Name))

	run.tracker.Set(st.Name, model.EntityFetching)
	lists := d.fetchClinics(ctx, st)

	// Only placed, complete clinics take part in the dedup, so an incomplete
	// copy from a higher-priority source cannot shadow a complete one.
	run.tracker.Set(st.Name, model.EntityMerging)
	valid := merge.Clinics(d.validLists(ctx, st, lists)...)
	if len(valid) == 0 {
		fb := d.fallbackClinics(st.Name)
		if len(fb) == 0 {
			log.Warn("pipeline: no clinics from any source and no fallback")
			return model.EntitySkipped, nil
		}
		log.Info("pipeline: using fallback clinics", zap.Int("count", len(fb)))
		valid = d.locateAndValidate(ctx, st, merge.Clinics(fb))
		if len(valid) == 0 {
			log.Warn("pipeline: no valid fallback clinics", zap.Int("candidates", len(fb)))
			return model.EntitySkipped, nil
		}
	}

	run.tracker.Set(st.Name, model.EntityPersisting)
	return d.persistClinics(ctx, st, valid)
}

// validLists geocodes and validates each source list in priority order.
// A clinic already accepted from an earlier list is not located again.
func (d *Driver) validLists(ctx context.Context, st model.State, lists [][]model.Clinic) [][]model.Clinic {
	accepted := make(map[string]struct{})
	out := make([][]model.Clinic, 0, len(lists))
	for _, l := range lists {
		pending := make([]model.Clinic, 0, len(l))
		for _, c := range l {
			if _, ok := accepted[merge.ClinicKey(c)]; !ok {
				pending = append(pending, c)
			}
		}
		valid := d.locateAndValidate(ctx, st, pending)
		for _, c := range valid {
			accepted[merge.ClinicKey(c)] = struct{}{}
		}
		out = append(out, valid)
	}
	return out
}

// fetchClinics calls every clinic source concurrently, keeping
// source-priority order.
func (d *Driver) fetchClinics(ctx context.Context, st model.State) [][]model.Clinic {
	results := make([][]model.Clinic, len(d.deps.ClinicSources))

	var g errgroup.Group
	for i, src := range d.deps.ClinicSources {
		g.Go(func() error {
			clinics, err := resilience.CallVal(ctx, d.deps.Breakers.Get(src.Name()),
				func(ctx context.Context) ([]model.Clinic, error) {
					return src.FetchClinics(ctx, st)
				})
			if err != nil {
				sourceUnavailable(src.Name(), st, err)
				// A cancelled directory walk still returns what it had.
				if len(clinics) == 0 {
					return nil
				}
			}
			results[i] = clinics
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (d *Driver) processGeneration(ctx context.Context, run *Run, st model.State) (model.EntityState, error) {
	log := zap.L().With(zap.String("state", st.Name))

	run.tracker.Set(st.Name, model.EntityFetching)
	clinics, err := d.deps.Generator.Generate(ctx, st, d.deps.GenerateCount)
	if errors.Is(err, enrich.ErrShortfall) {
		log.Warn("pipeline: clinic generation shortfall",
			zap.Int("requested", d.deps.GenerateCount),
			zap.Error(err),
		)
		return model.EntitySkipped, nil
	}
	if err != nil {
		return model.EntityFailed, eris.Wrap(err, "generate clinics")
	}

	run.tracker.Set(st.Name, model.EntityEnriching)
	valid := d.locateAndValidate(ctx, st, clinics)
	if len(valid) == 0 {
		log.Warn("pipeline: no generated clinic could be placed", zap.Int("generated", len(clinics)))
		return model.EntitySkipped, nil
	}

	run.tracker.Set(st.Name, model.EntityPersisting)
	return d.persistClinics(ctx, st, valid)
}

// locateAndValidate geocodes clinics without coordinates and drops any
// clinic that is still incomplete.
func (d *Driver) locateAndValidate(ctx context.Context, st model.State, clinics []model.Clinic) []model.Clinic {
	valid := make([]model.Clinic, 0, len(clinics))
	for _, c := range clinics {
		if c.State == "" {
			c.State = st.Code
		}
		if !c.HasCoordinates() && d.deps.Geocoder != nil && c.Address != "" {
			if loc := d.deps.Geocoder.Geocode(ctx, c.Address); loc != nil {
				c.Latitude = loc.Latitude
				c.Longitude = loc.Longitude
			}
		}
		if err := c.Validate(); err != nil {
			zap.L().Info("pipeline: dropping clinic",
				zap.String("state", st.Name),
				zap.String("source", c.Source),
				zap.Error(err),
			)
			continue
		}
		valid = append(valid, c)
	}
	return valid
}

func (d *Driver) persistClinics(ctx context.Context, st model.State, clinics []model.Clinic) (model.EntityState, error) {
	var inserted, skipped int
	var errs []error
	for _, c := range clinics {
		outcome, err := d.upserter.UpsertClinic(ctx, c)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if outcome == OutcomeInserted {
			inserted++
		} else {
			skipped++
		}
	}

	zap.L().Info("pipeline: clinics persisted",
		zap.String("state", st.Name),
		zap.Int("inserted", inserted),
		zap.Int("existing", skipped),
		zap.Int("errors", len(errs)),
	)
	if len(errs) > 0 {
		return model.EntityFailed, errors.Join(errs...)
	}
	return model.EntityDone, nil
}

func (d *Driver) fallbackLegal(state string) (model.LegalInfo, bool) {
	if d.deps.Fallback == nil {
		return model.LegalInfo{}, false
	}
	return d.deps.Fallback.Legal(state)
}

func (d *Driver) fallbackClinics(state string) []model.Clinic {
	if d.deps.Fallback == nil {
		return nil
	}
	return d.deps.Fallback.Clinics(state)
}

func sourceUnavailable(name string, st model.State, err error) {
	zap.L().Warn("pipeline: source unavailable",
		zap.String("source", name),
		zap.String("state", st.Name),
		zap.Error(err),
	)
}
