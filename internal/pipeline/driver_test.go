package pipeline

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/carefinder-cli/internal/enrich"
	"github.com/sells-group/carefinder-cli/internal/model"
	"github.com/sells-group/carefinder-cli/internal/notify"
	"github.com/sells-group/carefinder-cli/internal/resilience"
	"github.com/sells-group/carefinder-cli/internal/scrape"
	"github.com/sells-group/carefinder-cli/internal/source"
	"github.com/sells-group/carefinder-cli/internal/store"
	"github.com/sells-group/carefinder-cli/pkg/geocode"
	geomocks "github.com/sells-group/carefinder-cli/pkg/geocode/mocks"
)

func partial(src string, info model.LegalInfo) *model.LegalInfoPartial {
	return &model.LegalInfoPartial{Source: src, LegalInfo: info}
}

func TestPopulateLegal_MergesInSourcePriorityOrder(t *testing.T) {
	ca := mustState(t, "California")
	st := newTestStore(t)

	gov := &mockLegalSource{name: "gov"}
	gov.On("FetchLegal", mock.Anything, ca).Return(partial("gov", model.LegalInfo{
		Restrictions: []string{"A", "B"},
		StateWebsite: "https://www.ca.gov",
	}), nil)
	adv := &mockLegalSource{name: "advocacy"}
	adv.On("FetchLegal", mock.Anything, ca).Return(partial("advocacy", model.LegalInfo{
		Restrictions: []string{"B", "C"},
		StateWebsite: "https://advocacy.example.org/california",
	}), nil)

	d := NewDriver(Deps{
		Queue:        newTestQueue(t, 2),
		Store:        st,
		LegalSources: []source.LegalSource{gov, adv},
		States:       []model.State{ca},
	})

	n, report, err := d.PopulateLegal(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, model.RunStatusComplete, report.Status)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, model.EntityDone, report.States["California"])

	got, err := st.FindLegalInfo(context.Background(), "California")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []string{"A", "B", "C"}, got.Restrictions)
	assert.Equal(t, "https://www.ca.gov", got.StateWebsite)

	gov.AssertExpectations(t)
	adv.AssertExpectations(t)
}

func TestPopulateLegal_FailingSourceOnlyLosesItsContribution(t *testing.T) {
	tx := mustState(t, "Texas")
	st := newTestStore(t)

	gov := &mockLegalSource{name: "gov"}
	gov.On("FetchLegal", mock.Anything, tx).Return(nil, resilience.HTTPError("https://www.te.gov", 503))
	news := &mockLegalSource{name: "news"}
	news.On("FetchLegal", mock.Anything, tx).Return(partial("news", model.LegalInfo{
		NewsArticles: []model.NewsArticle{{Title: "Ruling", URL: "https://news.example.com/1", Date: "2025-01-02"}},
	}), nil)

	enricher := &mockEnricher{}
	enricher.On("Enrich", mock.Anything, tx, mock.Anything).Return(model.LegalInfo{
		Restrictions: []string{"From AI"},
		NewsArticles: []model.NewsArticle{{Title: "Ruling", URL: "https://news.example.com/1", Date: "2025-01-02"}},
	})

	d := NewDriver(Deps{
		Queue:        newTestQueue(t, 1),
		Store:        st,
		LegalSources: []source.LegalSource{gov, news},
		Enricher:     enricher,
		States:       []model.State{tx},
	})

	_, report, err := d.PopulateLegal(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)

	got, err := st.FindLegalInfo(context.Background(), "Texas")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []string{"From AI"}, got.Restrictions)
	require.Len(t, got.NewsArticles, 1)
	enricher.AssertExpectations(t)
}

func TestPopulateLegal_FallbackWhenNothingSourced(t *testing.T) {
	ca := mustState(t, "California")
	oh := mustState(t, "Ohio")
	st := newTestStore(t)

	gov := &mockLegalSource{name: "gov"}
	gov.On("FetchLegal", mock.Anything, mock.Anything).Return(nil, errors.New("parse failure"))
	empty := &mockLegalSource{name: "advocacy"}
	empty.On("FetchLegal", mock.Anything, mock.Anything).Return(partial("advocacy", model.LegalInfo{}), nil)

	canned := model.LegalInfo{
		Restrictions:      []string{"Legal until viability"},
		EmergencyContacts: []model.EmergencyContact{{Name: "Hotline", Phone: "1-800-772-9100"}},
	}

	// The enricher has no expectations: fallback records must not be enriched.
	enricher := &mockEnricher{}

	d := NewDriver(Deps{
		Queue:        newTestQueue(t, 2),
		Store:        st,
		LegalSources: []source.LegalSource{gov, empty},
		Enricher:     enricher,
		Fallback:     stubFallback{legal: map[string]model.LegalInfo{"California": canned}},
		States:       []model.State{ca, oh},
	})

	n, report, err := d.PopulateLegal(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, model.EntityDone, report.States["California"])
	assert.Equal(t, model.EntitySkipped, report.States["Ohio"])

	got, err := st.FindLegalInfo(context.Background(), "California")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, canned, got.LegalInfo)
	enricher.AssertNotCalled(t, "Enrich", mock.Anything, mock.Anything, mock.Anything)
}

func TestPopulateLegal_FallbackWhenGovPageHasNoFacts(t *testing.T) {
	ca := mustState(t, "California")
	st := newTestStore(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><head><title>Welcome | State Portal</title></head>
<body><main><p>Find services, pay taxes and renew your license.</p></main></body></html>`))
	}))
	defer srv.Close()

	chain := scrape.NewChain(nil, scrape.NewLocalScraper("carefinder-test", 2*time.Second))
	retry := resilience.Policy{MaxAttempts: 1, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
	gov := source.NewGov(chain, retry, srv.URL+"/{slug}", source.SlugPrefix2)

	canned := model.LegalInfo{Restrictions: []string{"Canned restriction"}}

	d := NewDriver(Deps{
		Queue:        newTestQueue(t, 1),
		Store:        st,
		LegalSources: []source.LegalSource{gov},
		Fallback:     stubFallback{legal: map[string]model.LegalInfo{"California": canned}},
		States:       []model.State{ca},
	})

	n, report, err := d.PopulateLegal(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, model.EntityDone, report.States["California"])

	got, err := st.FindLegalInfo(context.Background(), "California")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, canned, got.LegalInfo)
}

func TestPopulateLegal_ProvenanceOnlyWithoutFallbackIsSkipped(t *testing.T) {
	oh := mustState(t, "Ohio")
	st := newTestStore(t)

	gov := &mockLegalSource{name: "gov"}
	gov.On("FetchLegal", mock.Anything, oh).Return(partial("gov", model.LegalInfo{
		SourceURLs:   []string{"https://www.oh.gov/health"},
		StateWebsite: "https://www.oh.gov",
	}), nil)

	d := NewDriver(Deps{
		Queue:        newTestQueue(t, 1),
		Store:        st,
		LegalSources: []source.LegalSource{gov},
		States:       []model.State{oh},
	})

	n, report, err := d.PopulateLegal(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, model.EntitySkipped, report.States["Ohio"])

	got, err := st.FindLegalInfo(context.Background(), "Ohio")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPopulateLegal_UpdateRefreshesAndNotifies(t *testing.T) {
	fl := mustState(t, "Florida")
	st := newTestStore(t)
	ctx := context.Background()

	created := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	oldUpdates := []model.LegalUpdate{{Date: "2024-05-01", Description: "Six-week ban took effect"}}
	require.NoError(t, st.InsertLegalInfo(ctx, &model.StoredLegalInfo{
		State: "Florida",
		LegalInfo: model.LegalInfo{
			Restrictions:  []string{"Old restriction"},
			RecentUpdates: oldUpdates,
		},
		EffectiveDate: created,
		LastVerified:  created,
		CreatedAt:     created,
		UpdatedAt:     created,
	}))

	newUpdates := []model.LegalUpdate{
		{Date: "2024-11-05", Description: "Amendment 4 failed"},
		{Date: "2024-05-01", Description: "Six-week ban took effect"},
	}
	gov := &mockLegalSource{name: "gov"}
	gov.On("FetchLegal", mock.Anything, fl).Return(partial("gov", model.LegalInfo{
		Restrictions:  []string{"Six-week ban"},
		RecentUpdates: newUpdates,
	}), nil)

	notifier := &mockNotifier{}
	notifier.On("LegalUpdated", mock.Anything, "Florida", oldUpdates, newUpdates).
		Return(notify.Result{Delivered: 1}).Once()

	now := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	d := NewDriver(Deps{
		Queue:        newTestQueue(t, 1),
		Store:        st,
		LegalSources: []source.LegalSource{gov},
		Notifier:     notifier,
		States:       []model.State{fl},
		Now:          fixedClock(now),
	})

	_, _, err := d.PopulateLegal(ctx)
	require.NoError(t, err)

	got, err := st.FindLegalInfo(ctx, "Florida")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []string{"Six-week ban"}, got.Restrictions)
	assert.True(t, got.LastVerified.Equal(now))
	assert.True(t, got.CreatedAt.Equal(created))
	notifier.AssertExpectations(t)
}

func TestPopulateLegal_StoreFailureFailsOnlyThatState(t *testing.T) {
	ca := mustState(t, "California")
	tx := mustState(t, "Texas")
	st := &failingStore{Store: newTestStore(t), failState: "Texas"}

	gov := &mockLegalSource{name: "gov"}
	gov.On("FetchLegal", mock.Anything, mock.Anything).Return(partial("gov", model.LegalInfo{
		Restrictions: []string{"Something"},
	}), nil)

	d := NewDriver(Deps{
		Queue:        newTestQueue(t, 2),
		Store:        st,
		LegalSources: []source.LegalSource{gov},
		States:       []model.State{ca, tx},
	})

	n, report, err := d.PopulateLegal(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, model.EntityDone, report.States["California"])
	assert.Equal(t, model.EntityFailed, report.States["Texas"])
	assert.Equal(t, 1, report.Failed)
}

func TestPopulateLegal_OpenBreakerSkipsSource(t *testing.T) {
	states := []model.State{mustState(t, "Alabama"), mustState(t, "Alaska"), mustState(t, "Arizona")}
	st := newTestStore(t)

	down := &mockLegalSource{name: "gov"}
	down.On("FetchLegal", mock.Anything, mock.Anything).
		Return(nil, resilience.HTTPError("https://www.al.gov", 500)).Once()
	up := &mockLegalSource{name: "advocacy"}
	up.On("FetchLegal", mock.Anything, mock.Anything).Return(partial("advocacy", model.LegalInfo{
		Requirements: []string{"Waiting period"},
	}), nil)

	d := NewDriver(Deps{
		Queue:        newTestQueue(t, 1),
		Store:        st,
		Breakers:     resilience.NewBreakers(resilience.BreakerConfig{FailureThreshold: 1, Cooldown: time.Hour}),
		LegalSources: []source.LegalSource{down, up},
		States:       states,
	})

	n, report, err := d.PopulateLegal(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, report.Succeeded)
	down.AssertNumberOfCalls(t, "FetchLegal", 1)
	up.AssertNumberOfCalls(t, "FetchLegal", 3)
}

func TestPopulateClinics_GeocodeDedupAndExisting(t *testing.T) {
	wy := mustState(t, "Wyoming")
	st := newTestStore(t)
	ctx := context.Background()

	existing := testClinic("Cheyenne Family Planning", "100 Capitol Ave, Cheyenne, WY")
	existing.State = "WY"
	require.NoError(t, st.InsertClinic(ctx, &model.StoredClinic{Clinic: existing}))

	noCoords := testClinic("Laramie Health", "5 Grand Ave, Laramie, WY")
	noCoords.Latitude, noCoords.Longitude = 0, 0
	noPhone := testClinic("Nowhere Clinic", "1 Lost Rd, Rawlins, WY")
	noPhone.Phone = ""

	dir := &mockClinicSource{name: "clinic_directory"}
	dir.On("FetchClinics", mock.Anything, wy).Return([]model.Clinic{
		testClinic("Casper Health", "1 Main Street, Casper, WY"),
		noCoords,
		existing,
		noPhone,
	}, nil)
	adv := &mockClinicSource{name: "advocacy"}
	adv.On("FetchClinics", mock.Anything, wy).Return([]model.Clinic{
		testClinic("CASPER HEALTH", "1 Main St., Casper, WY"),
	}, nil)

	geo := geomocks.NewMockClient(t)
	geo.On("Geocode", mock.Anything, "5 Grand Ave, Laramie, WY").
		Return(&geocode.Result{Latitude: 41.31, Longitude: -105.59, Source: "census"})

	d := NewDriver(Deps{
		Queue:         newTestQueue(t, 1),
		Store:         st,
		ClinicSources: []source.ClinicSource{dir, adv},
		Geocoder:      geo,
		States:        []model.State{wy},
	})

	n, report, err := d.PopulateClinics(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.EntityDone, report.States["Wyoming"])
	// existing + Casper + Laramie; the duplicate Casper and the phoneless
	// clinic are not stored.
	assert.Equal(t, 3, n)

	laramie, err := st.FindClinic(ctx, store.ClinicFilter{Name: "Laramie Health"})
	require.NoError(t, err)
	require.NotNil(t, laramie)
	assert.InDelta(t, 41.31, laramie.Latitude, 1e-9)
	assert.Equal(t, "WY", laramie.State)
}

func TestPopulateClinics_IncompleteCopyDoesNotShadowCompleteOne(t *testing.T) {
	wy := mustState(t, "Wyoming")
	st := newTestStore(t)
	ctx := context.Background()

	incomplete := testClinic("Cheyenne Health", "1 Main St, Cheyenne, WY")
	incomplete.Phone = ""
	incomplete.Latitude, incomplete.Longitude = 0, 0

	complete := testClinic("Cheyenne Health", "1 Main Street, Cheyenne, WY")
	complete.Source = "places"

	dir := &mockClinicSource{name: "clinic_directory"}
	dir.On("FetchClinics", mock.Anything, wy).Return([]model.Clinic{incomplete}, nil)
	places := &mockClinicSource{name: "places"}
	places.On("FetchClinics", mock.Anything, wy).Return([]model.Clinic{complete}, nil)

	geo := geomocks.NewMockClient(t)
	geo.On("Geocode", mock.Anything, "1 Main St, Cheyenne, WY").
		Return(&geocode.Result{Latitude: 41.14, Longitude: -104.82, Source: "census"})

	d := NewDriver(Deps{
		Queue:         newTestQueue(t, 1),
		Store:         st,
		ClinicSources: []source.ClinicSource{dir, places},
		Geocoder:      geo,
		States:        []model.State{wy},
	})

	n, report, err := d.PopulateClinics(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.EntityDone, report.States["Wyoming"])
	assert.Equal(t, 1, n)

	got, err := st.FindClinic(ctx, store.ClinicFilter{Name: "Cheyenne Health"})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "places", got.Source)
	assert.Equal(t, "(307) 555-0100", got.Phone)
}

func TestPopulateClinics_FallbackAndSkip(t *testing.T) {
	wy := mustState(t, "Wyoming")
	ut := mustState(t, "Utah")
	st := newTestStore(t)

	dir := &mockClinicSource{name: "clinic_directory"}
	dir.On("FetchClinics", mock.Anything, mock.Anything).Return(nil, resilience.HTTPError("https://dir", 401))

	canned := testClinic("Fallback Clinic", "2 Main St, Casper, WY")
	canned.State = "WY"
	canned.Source = "fallback"

	d := NewDriver(Deps{
		Queue:         newTestQueue(t, 2),
		Store:         st,
		ClinicSources: []source.ClinicSource{dir},
		Fallback:      stubFallback{clinics: map[string][]model.Clinic{"Wyoming": {canned}}},
		States:        []model.State{wy, ut},
	})

	n, report, err := d.PopulateClinics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, model.EntityDone, report.States["Wyoming"])
	assert.Equal(t, model.EntitySkipped, report.States["Utah"])
}

func TestPopulateGeneration_Outcomes(t *testing.T) {
	wy := mustState(t, "Wyoming")
	tx := mustState(t, "Texas")
	ca := mustState(t, "California")
	st := newTestStore(t)

	generated := []model.Clinic{
		testClinic("Generated One", "1 First St, Casper, WY"),
		testClinic("Generated Two", "2 Second St, Casper, WY"),
	}
	gen := &mockGenerator{}
	gen.On("Generate", mock.Anything, wy, 2).Return(generated, nil)
	gen.On("Generate", mock.Anything, tx, 2).
		Return(nil, eris.Wrapf(enrich.ErrShortfall, "%s after %d attempts", "Texas", 3))
	gen.On("Generate", mock.Anything, ca, 2).Return(nil, errors.New("completion failed"))

	d := NewDriver(Deps{
		Queue:         newTestQueue(t, 3),
		Store:         st,
		Generator:     gen,
		GenerateCount: 2,
		States:        []model.State{wy, tx, ca},
	})

	n, report, err := d.PopulateGeneration(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, model.EntityDone, report.States["Wyoming"])
	assert.Equal(t, model.EntitySkipped, report.States["Texas"])
	assert.Equal(t, model.EntityFailed, report.States["California"])
	gen.AssertExpectations(t)
}

func TestStart_Unavailable(t *testing.T) {
	d := NewDriver(Deps{Queue: newTestQueue(t, 1), Store: newTestStore(t)})

	_, err := d.StartGeneration(context.Background())
	assert.True(t, errors.Is(err, ErrUnavailable))
	_, err = d.StartLegal(context.Background())
	assert.True(t, errors.Is(err, ErrUnavailable))

	_, err = d.Start(context.Background(), model.RunKind("bogus"))
	require.Error(t, err)
}

func TestStart_ReturnsImmediately(t *testing.T) {
	ca := mustState(t, "California")
	release := make(chan struct{})

	gov := &mockLegalSource{name: "gov"}
	gov.On("FetchLegal", mock.Anything, ca).
		Run(func(mock.Arguments) { <-release }).
		Return(partial("gov", model.LegalInfo{Restrictions: []string{"A"}}), nil)

	d := NewDriver(Deps{
		Queue:        newTestQueue(t, 1),
		Store:        newTestStore(t),
		LegalSources: []source.LegalSource{gov},
		States:       []model.State{ca},
	})

	run, err := d.Start(context.Background(), model.RunKindLegal)
	require.NoError(t, err)
	assert.Same(t, run, d.Last(model.RunKindLegal))

	select {
	case <-run.Done():
		t.Fatal("run finished before the source answered")
	default:
	}
	assert.Equal(t, model.RunStatusRunning, run.Report().Status)

	close(release)
	report, err := run.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, report.Status)
}

func TestRun_AbandonedOnCancel(t *testing.T) {
	ca := mustState(t, "California")
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })

	gov := &mockLegalSource{name: "gov"}
	gov.On("FetchLegal", mock.Anything, ca).
		Run(func(mock.Arguments) { <-block }).
		Return(nil, errors.New("late"))

	d := NewDriver(Deps{
		Queue:        newTestQueue(t, 1),
		Store:        newTestStore(t),
		LegalSources: []source.LegalSource{gov},
		States:       []model.State{ca},
	})

	ctx, cancel := context.WithCancel(context.Background())
	run, err := d.StartLegal(ctx)
	require.NoError(t, err)
	cancel()

	report, err := run.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.EntityFailed, report.States["California"])
}

func TestRun_AbandonedStopsStates(t *testing.T) {
	ca := mustState(t, "California")
	tx := mustState(t, "Texas")
	st := newTestStore(t)
	q := newTestQueue(t, 1)

	fetching := make(chan struct{})
	gov := &mockLegalSource{name: "gov"}
	gov.On("FetchLegal", mock.Anything, ca).
		Run(func(args mock.Arguments) {
			close(fetching)
			<-args.Get(0).(context.Context).Done()
		}).
		Return(partial("gov", model.LegalInfo{Restrictions: []string{"Late"}}), nil)
	gov.On("FetchLegal", mock.Anything, tx).
		Return(partial("gov", model.LegalInfo{Restrictions: []string{"Never"}}), nil).Maybe()

	d := NewDriver(Deps{
		Queue:        q,
		Store:        st,
		LegalSources: []source.LegalSource{gov},
		States:       []model.State{ca, tx},
	})

	ctx, cancel := context.WithCancel(context.Background())
	run, err := d.StartLegal(ctx)
	require.NoError(t, err)
	<-fetching
	cancel()

	report, err := run.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.EntityFailed, report.States["Texas"])

	require.NoError(t, q.Idle(context.Background()))
	gov.AssertNotCalled(t, "FetchLegal", mock.Anything, tx)

	n, err := st.CountLegalInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
