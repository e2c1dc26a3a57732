package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStates(t *testing.T) {
	t.Parallel()

	all := States()
	require.Len(t, all, 50)
	assert.Equal(t, "Alabama", all[0].Name)
	assert.Equal(t, "Wyoming", all[49].Name)

	seen := make(map[string]bool)
	for _, s := range all {
		assert.False(t, seen[s.Code], "duplicate code %s", s.Code)
		seen[s.Code] = true
	}

	all[0].Name = "changed"
	assert.Equal(t, "Alabama", States()[0].Name)
}

func TestLookupState(t *testing.T) {
	t.Parallel()

	s, ok := LookupState("new york")
	require.True(t, ok)
	assert.Equal(t, "NY", s.Code)
	assert.Equal(t, "new-york", s.Slug())

	s, ok = LookupState(" tx ")
	require.True(t, ok)
	assert.Equal(t, "Texas", s.Name)

	_, ok = LookupState("Puerto Rico")
	assert.False(t, ok)
}

func TestLegalInfoIsEmpty(t *testing.T) {
	t.Parallel()

	assert.True(t, LegalInfo{}.IsEmpty())
	assert.False(t, LegalInfo{Restrictions: []string{"A"}}.IsEmpty())
	assert.False(t, LegalInfo{HealthDept: HealthDeptInfo{Phone: "555"}}.IsEmpty())
	assert.False(t, LegalInfo{AdditionalNotes: "n"}.IsEmpty())
}

func TestLegalInfoHasFacts(t *testing.T) {
	t.Parallel()

	provenance := LegalInfo{
		SourceURLs:   []string{"https://www.ca.gov/health"},
		StateWebsite: "https://www.ca.gov",
		HealthDept:   HealthDeptInfo{Name: "State Portal", Website: "https://www.ca.gov"},
	}
	assert.False(t, LegalInfo{}.HasFacts())
	assert.False(t, provenance.HasFacts())
	assert.False(t, provenance.IsEmpty())

	withNews := provenance
	withNews.NewsArticles = []NewsArticle{{Title: "Ruling", URL: "https://news.example.com/1"}}
	assert.True(t, withNews.HasFacts())
	assert.True(t, LegalInfo{Requirements: []string{"Waiting period"}}.HasFacts())
	assert.True(t, LegalInfo{AdditionalNotes: "n"}.HasFacts())
}

func TestLegalInfoJSONFieldNames(t *testing.T) {
	t.Parallel()

	b, err := json.Marshal(StoredLegalInfo{State: "Ohio", LegalInfo: LegalInfo{StateWebsite: "https://ohio.gov"}})
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(b, &raw))
	for _, k := range []string{"state", "restrictions", "recentUpdates", "sourceUrls", "officialDocuments",
		"legalResources", "stateWebsite", "healthDeptInfo", "newsArticles", "lastVerified", "effectiveDate"} {
		assert.Contains(t, raw, k)
	}
}

func TestClinicValidate(t *testing.T) {
	t.Parallel()

	valid := Clinic{
		Name:      "Downtown Health",
		Address:   "1 Main St, Cheyenne, WY 82001",
		Phone:     "(307) 555-0100",
		Latitude:  41.14,
		Longitude: -104.82,
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(c *Clinic)
		want   string
	}{
		{"no name", func(c *Clinic) { c.Name = " " }, "name"},
		{"no address", func(c *Clinic) { c.Address = "" }, "address"},
		{"no phone", func(c *Clinic) { c.Phone = "" }, "phone"},
		{"no coordinates", func(c *Clinic) { c.Latitude, c.Longitude = 0, 0 }, "coordinates"},
		{"outside us", func(c *Clinic) { c.Latitude, c.Longitude = 51.5, -0.12 }, "coordinates"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := valid
			tt.mutate(&c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestClinicHasCoordinates(t *testing.T) {
	t.Parallel()

	assert.True(t, Clinic{Latitude: 21.3, Longitude: -157.85}.HasCoordinates(), "honolulu")
	assert.True(t, Clinic{Latitude: 61.2, Longitude: -149.9}.HasCoordinates(), "anchorage")
	assert.False(t, Clinic{Latitude: -104.8, Longitude: 41.1}.HasCoordinates(), "swapped")

	p := Clinic{Latitude: 41.14, Longitude: -104.82}.Point()
	assert.Equal(t, 4326, p.SRID())
	assert.InDelta(t, -104.82, p.X(), 1e-9)
	assert.InDelta(t, 41.14, p.Y(), 1e-9)
}

func TestParseRunKind(t *testing.T) {
	t.Parallel()

	k, ok := ParseRunKind("clinics-ai")
	assert.True(t, ok)
	assert.Equal(t, RunKindGeneration, k)

	_, ok = ParseRunKind("bogus")
	assert.False(t, ok)
}

func TestEntityStateTerminal(t *testing.T) {
	t.Parallel()

	assert.True(t, EntityDone.Terminal())
	assert.True(t, EntityFailed.Terminal())
	assert.True(t, EntitySkipped.Terminal())
	assert.False(t, EntityFetching.Terminal())
}
