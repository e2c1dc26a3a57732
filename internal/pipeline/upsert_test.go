package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sells-group/carefinder-cli/internal/model"
	"github.com/sells-group/carefinder-cli/internal/store"
)

func observeLogs(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.InfoLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	t.Cleanup(restore)
	return logs
}

func TestUpsertLegalInfo_InsertThenUpdate(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	first := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	u := NewUpserter(st, "", fixedClock(first))

	res, err := u.UpsertLegalInfo(ctx, "Texas", model.LegalInfo{
		Restrictions:  []string{"Old"},
		RecentUpdates: []model.LegalUpdate{{Date: "2024-01-01", Description: "old"}},
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeInserted, res.Outcome)
	assert.Nil(t, res.Previous)

	second := first.Add(48 * time.Hour)
	u.now = fixedClock(second)
	res, err = u.UpsertLegalInfo(ctx, "Texas", model.LegalInfo{
		Restrictions: []string{"New A", "New B"},
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeUpdated, res.Outcome)
	require.NotNil(t, res.Previous)
	assert.Equal(t, []string{"Old"}, res.Previous.Restrictions)

	got, err := st.FindLegalInfo(ctx, "Texas")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []string{"New A", "New B"}, got.Restrictions)
	assert.Empty(t, got.RecentUpdates)
	assert.True(t, got.LastVerified.Equal(second), "last verified %v", got.LastVerified)
	assert.True(t, got.EffectiveDate.Equal(first), "effective date %v", got.EffectiveDate)

	n, err := st.CountLegalInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestUpsertClinic_NameKeySkipsExisting(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	u := NewUpserter(st, ClinicKeyName, nil)

	out, err := u.UpsertClinic(ctx, testClinic("Casper Health", "1 Main St, Casper, WY"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeInserted, out)

	logs := observeLogs(t)
	out, err = u.UpsertClinic(ctx, testClinic("Casper Health", "99 Other Rd, Casper, WY"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, out)
	assert.Equal(t, 1, logs.FilterMessage("upsert: clinic already exists").Len())

	n, err := st.CountClinics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestUpsertClinic_NameAddressKey(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	u := NewUpserter(st, ClinicKeyNameAddress, nil)

	for _, addr := range []string{"1 Main St, Casper, WY", "99 Other Rd, Casper, WY", "1 Main St, Casper, WY"} {
		_, err := u.UpsertClinic(ctx, testClinic("Casper Health", addr))
		require.NoError(t, err)
	}

	clinics, err := st.ListClinics(ctx, store.ClinicFilter{Name: "Casper Health"})
	require.NoError(t, err)
	assert.Len(t, clinics, 2)
}
