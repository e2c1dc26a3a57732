package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/carefinder-cli/internal/model"
	"github.com/sells-group/carefinder-cli/internal/resilience"
)

// ClinicDirectory reads a commercial clinic directory API. Listing is one
// call per state; details are fetched one clinic at a time with a fixed
// delay because the directory rate-limits detail lookups harder than
// listings.
type ClinicDirectory struct {
	api         *jsonClient
	retry       resilience.Policy
	baseURL     string
	key         string
	detailDelay time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewClinicDirectory creates the directory client.
func NewClinicDirectory(baseURL, key string, detailDelay, timeout time.Duration, userAgent string, retry resilience.Policy) *ClinicDirectory {
	return &ClinicDirectory{
		api:         newJSONClient(timeout, userAgent),
		retry:       retry.With(nil, resilience.RetryLogger("clinic_directory", "fetch")),
		baseURL:     strings.TrimRight(baseURL, "/"),
		key:         key,
		detailDelay: detailDelay,
		sleep:       sleepCtx,
	}
}

func (d *ClinicDirectory) Name() string { return "clinic_directory" }

type directoryList struct {
	Clinics []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"clinics"`
}

type directoryDetail struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Address   string   `json:"address"`
	City      string   `json:"city"`
	State     string   `json:"state"`
	Zip       string   `json:"zip"`
	Phone     string   `json:"phone"`
	Services  []string `json:"services"`
	Insurance []string `json:"insurance"`
	Lat       float64  `json:"lat"`
	Lng       float64  `json:"lng"`
}

func (dd directoryDetail) fullAddress() string {
	if strings.Contains(dd.Address, ",") {
		return dd.Address
	}
	parts := []string{dd.Address}
	if dd.City != "" {
		parts = append(parts, dd.City)
	}
	if dd.State != "" || dd.Zip != "" {
		parts = append(parts, strings.TrimSpace(dd.State+" "+dd.Zip))
	}
	return strings.Join(parts, ", ")
}

func (d *ClinicDirectory) header() http.Header {
	h := http.Header{}
	if d.key != "" {
		h.Set("X-Api-Key", d.key)
	}
	return h
}

// FetchClinics lists the state's clinics, then fetches each detail record
// sequentially. A failed detail lookup drops that clinic only.
func (d *ClinicDirectory) FetchClinics(ctx context.Context, state model.State) ([]model.Clinic, error) {
	listURL := d.baseURL + "/clinics?" + url.Values{"state": {state.Code}}.Encode()
	var list directoryList
	err := resilience.Do(ctx, d.retry, func(ctx context.Context) error {
		return d.api.get(ctx, listURL, d.header(), &list)
	})
	if err != nil {
		return nil, err
	}

	clinics := make([]model.Clinic, 0, len(list.Clinics))
	for i, entry := range list.Clinics {
		if i > 0 && d.detailDelay > 0 {
			if err := d.sleep(ctx, d.detailDelay); err != nil {
				return clinics, err
			}
		}

		detailURL := fmt.Sprintf("%s/clinics/%s", d.baseURL, url.PathEscape(entry.ID))
		var detail directoryDetail
		err := resilience.Do(ctx, d.retry, func(ctx context.Context) error {
			return d.api.get(ctx, detailURL, d.header(), &detail)
		})
		if err != nil {
			if ctx.Err() != nil {
				return clinics, ctx.Err()
			}
			zap.L().Warn("clinic directory: detail fetch failed",
				zap.String("state", state.Name),
				zap.String("clinic_id", entry.ID),
				zap.Error(err),
			)
			continue
		}

		name := detail.Name
		if name == "" {
			name = entry.Name
		}
		clinics = append(clinics, model.Clinic{
			Name:              name,
			Address:           detail.fullAddress(),
			State:             state.Code,
			Phone:             detail.Phone,
			Services:          detail.Services,
			AcceptedInsurance: detail.Insurance,
			Latitude:          detail.Lat,
			Longitude:         detail.Lng,
			Source:            d.Name(),
		})
	}
	return clinics, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
