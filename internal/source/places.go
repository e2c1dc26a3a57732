package source

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/carefinder-cli/internal/model"
	"github.com/sells-group/carefinder-cli/pkg/google"
)

// DefaultPlacesQuery is the search phrase; the state name is appended.
const DefaultPlacesQuery = "reproductive health clinic in"

const placesMaxPages = 3

// Places discovers clinics through Google Places text search. It ranks
// below the directory because listings there carry no services or insurance.
type Places struct {
	client google.Client
	query  string
}

// NewPlaces creates the Places source. An empty query uses DefaultPlacesQuery.
func NewPlaces(client google.Client, query string) *Places {
	if query == "" {
		query = DefaultPlacesQuery
	}
	return &Places{client: client, query: query}
}

func (p *Places) Name() string { return "places" }

// FetchClinics pages through the search results. Hits outside the state and
// permanently closed places are dropped. A failure after the first page keeps
// what was already collected.
func (p *Places) FetchClinics(ctx context.Context, state model.State) ([]model.Clinic, error) {
	req := google.TextSearchRequest{
		TextQuery:  p.query + " " + state.Name,
		RegionCode: "US",
		PageSize:   20,
	}
	inState := stateAddressPattern(state.Code)

	var clinics []model.Clinic
	for page := 0; page < placesMaxPages; page++ {
		resp, err := p.client.TextSearch(ctx, req)
		if err != nil {
			if page == 0 {
				return nil, err
			}
			zap.L().Warn("places: later page failed, keeping earlier results",
				zap.String("state", state.Name),
				zap.Int("page", page),
				zap.Error(err),
			)
			break
		}
		for _, pl := range resp.Places {
			if pl.BusinessStatus == "CLOSED_PERMANENTLY" || !inState.MatchString(pl.FormattedAddress) {
				continue
			}
			c := model.Clinic{
				Name:    strings.TrimSpace(pl.DisplayName.Text),
				Address: strings.TrimSuffix(pl.FormattedAddress, ", USA"),
				State:   state.Code,
				Phone:   pl.NationalPhoneNumber,
				Source:  p.Name(),
			}
			if pl.Location != nil {
				c.Latitude = pl.Location.Latitude
				c.Longitude = pl.Location.Longitude
			}
			clinics = append(clinics, c)
		}
		if resp.NextPageToken == "" {
			break
		}
		req.PageToken = resp.NextPageToken
	}
	return clinics, nil
}

// stateAddressPattern matches the ", XX 12345" tail of a formatted US address.
func stateAddressPattern(code string) *regexp.Regexp {
	return regexp.MustCompile(`,\s*` + regexp.QuoteMeta(code) + `\s+\d{5}`)
}
