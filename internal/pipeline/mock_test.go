package pipeline

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/carefinder-cli/internal/model"
	"github.com/sells-group/carefinder-cli/internal/notify"
)

// --- Legal source mock ---

type mockLegalSource struct {
	mock.Mock
	name string
}

func (m *mockLegalSource) Name() string { return m.name }

func (m *mockLegalSource) FetchLegal(ctx context.Context, st model.State) (*model.LegalInfoPartial, error) {
	args := m.Called(ctx, st)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.LegalInfoPartial), args.Error(1)
}

// --- Clinic source mock ---

type mockClinicSource struct {
	mock.Mock
	name string
}

func (m *mockClinicSource) Name() string { return m.name }

func (m *mockClinicSource) FetchClinics(ctx context.Context, st model.State) ([]model.Clinic, error) {
	args := m.Called(ctx, st)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Clinic), args.Error(1)
}

// --- Enricher mock ---

type mockEnricher struct {
	mock.Mock
}

func (m *mockEnricher) Enrich(ctx context.Context, st model.State, merged model.LegalInfo) model.LegalInfo {
	args := m.Called(ctx, st, merged)
	return args.Get(0).(model.LegalInfo)
}

// --- Generator mock ---

type mockGenerator struct {
	mock.Mock
}

func (m *mockGenerator) Generate(ctx context.Context, st model.State, count int) ([]model.Clinic, error) {
	args := m.Called(ctx, st, count)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Clinic), args.Error(1)
}

// --- Notifier mock ---

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) LegalUpdated(ctx context.Context, state string, prev, next []model.LegalUpdate) notify.Result {
	args := m.Called(ctx, state, prev, next)
	return args.Get(0).(notify.Result)
}

// --- Fallback stub ---

type stubFallback struct {
	legal   map[string]model.LegalInfo
	clinics map[string][]model.Clinic
}

func (s stubFallback) Legal(state string) (model.LegalInfo, bool) {
	info, ok := s.legal[state]
	return info, ok
}

func (s stubFallback) Clinics(state string) []model.Clinic {
	return s.clinics[state]
}
