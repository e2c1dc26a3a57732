package pipeline

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/carefinder-cli/internal/model"
	"github.com/sells-group/carefinder-cli/internal/queue"
	"github.com/sells-group/carefinder-cli/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func newTestQueue(t *testing.T, concurrency int) *queue.Queue {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return queue.New(ctx, queue.Options{Concurrency: concurrency})
}

func mustState(t *testing.T, name string) model.State {
	t.Helper()
	st, ok := model.LookupState(name)
	require.True(t, ok, name)
	return st
}

func fixedClock(ts time.Time) func() time.Time {
	return func() time.Time { return ts }
}

func testClinic(name, address string) model.Clinic {
	return model.Clinic{
		Name:      name,
		Address:   address,
		Phone:     "(307) 555-0100",
		Services:  []string{"Contraception"},
		Latitude:  41.14,
		Longitude: -104.82,
		Source:    "clinic_directory",
	}
}

// failingStore fails legal-info inserts for one state.
type failingStore struct {
	store.Store
	failState string
}

func (f *failingStore) InsertLegalInfo(ctx context.Context, rec *model.StoredLegalInfo) error {
	if rec.State == f.failState {
		return context.DeadlineExceeded
	}
	return f.Store.InsertLegalInfo(ctx, rec)
}
