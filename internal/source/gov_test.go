package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/carefinder-cli/internal/model"
)

var california = model.State{Name: "California", Code: "CA"}

func TestGovSlug(t *testing.T) {
	assert.Equal(t, "ca", GovSlug(SlugPrefix2, california))
	assert.Equal(t, "ne", GovSlug(SlugPrefix2, model.State{Name: "New York", Code: "NY"}))
	assert.Equal(t, "co", GovSlug(SlugPrefix2, model.State{Name: "Colorado", Code: "CO"}))
	assert.Equal(t, "co", GovSlug(SlugPrefix2, model.State{Name: "Connecticut", Code: "CT"}))
	assert.Equal(t, "ct", GovSlug(SlugPostal, model.State{Name: "Connecticut", Code: "CT"}))
}

func TestGov_URL(t *testing.T) {
	g := NewGov(newTestChain(), fastRetry(), "https://www.{slug}.gov/health", SlugPostal)
	assert.Equal(t, "https://www.ca.gov/health", g.URL(california))
	assert.Equal(t, "gov", g.Name())
}

func TestGov_FetchLegal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ca/health", r.URL.Path)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(govPage))
	}))
	defer srv.Close()

	g := NewGov(newTestChain(), fastRetry(), srv.URL+"/{slug}/health", SlugPrefix2)
	p, err := g.FetchLegal(context.Background(), california)
	require.NoError(t, err)

	assert.Equal(t, "gov", p.Source)
	assert.Equal(t, []string{"No abortion after viability.", "Public funding limited."}, p.Restrictions)
	assert.Equal(t, []string{"Parental consent for minors under 16."}, p.Requirements)
	require.Len(t, p.RecentUpdates, 2)
	assert.Equal(t, model.LegalUpdate{Date: "2024-03-03", Description: "Shield law expanded."}, p.RecentUpdates[0])
	assert.Equal(t, "2023-06-01", p.RecentUpdates[1].Date)

	require.Len(t, p.OfficialDocuments, 2)
	assert.Equal(t, model.OfficialDocument{Title: "Health and Safety Code 123", URL: srv.URL + "/docs/hsc-123.pdf", Type: "pdf"}, p.OfficialDocuments[0])
	assert.Equal(t, "regulation", p.OfficialDocuments[1].Type)

	require.Len(t, p.LegalResources, 1)
	assert.Equal(t, model.LegalResource{Name: "Help Line", URL: "https://help.example.org", Description: "free legal advice"}, p.LegalResources[0])

	require.Len(t, p.EmergencyContacts, 1)
	assert.Equal(t, model.EmergencyContact{Name: "Crisis Line", Phone: "(800) 555-1212"}, p.EmergencyContacts[0])

	assert.Equal(t, []string{srv.URL + "/ca/health"}, p.SourceURLs)
	assert.Equal(t, srv.URL, p.StateWebsite)
	assert.Equal(t, model.HealthDeptInfo{
		Name:    "California Department of Public Health",
		Website: srv.URL,
		Phone:   "(916) 555-0100",
		Email:   "info@cdph.example.gov",
	}, p.HealthDept)
}

func TestGov_RetriesNotFound(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(govPage))
	}))
	defer srv.Close()

	g := NewGov(newTestChain(), fastRetry(), srv.URL+"/{slug}", SlugPrefix2)
	p, err := g.FetchLegal(context.Background(), california)
	require.NoError(t, err)
	assert.NotEmpty(t, p.Restrictions)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGov_GivesUpAfterAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	g := NewGov(newTestChain(), fastRetry(), srv.URL+"/{slug}", SlugPrefix2)
	_, err := g.FetchLegal(context.Background(), california)
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())
}
