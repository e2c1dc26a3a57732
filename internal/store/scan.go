package store

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/carefinder-cli/internal/model"
)

type scannable interface {
	Scan(dest ...any) error
}

func scanLegalInfo(row scannable) (*model.StoredLegalInfo, error) {
	var rec model.StoredLegalInfo
	var data []byte
	if err := row.Scan(&rec.ID, &rec.State, &data, &rec.EffectiveDate, &rec.LastVerified, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &rec.LegalInfo); err != nil {
		return nil, eris.Wrapf(err, "unmarshal legal info %s", rec.State)
	}
	return &rec, nil
}

func scanClinic(row scannable) (*model.StoredClinic, error) {
	var rec model.StoredClinic
	var services, insurance []byte
	if err := row.Scan(&rec.ID, &rec.Name, &rec.Address, &rec.State, &rec.Phone, &services, &insurance,
		&rec.Latitude, &rec.Longitude, &rec.Source, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(services, &rec.Services); err != nil {
		return nil, eris.Wrapf(err, "unmarshal services for %q", rec.Name)
	}
	if err := json.Unmarshal(insurance, &rec.AcceptedInsurance); err != nil {
		return nil, eris.Wrapf(err, "unmarshal insurance for %q", rec.Name)
	}
	return &rec, nil
}

func marshalClinicLists(c model.Clinic) (services, insurance string, err error) {
	s, err := json.Marshal(nonNil(c.Services))
	if err != nil {
		return "", "", eris.Wrap(err, "marshal services")
	}
	i, err := json.Marshal(nonNil(c.AcceptedInsurance))
	if err != nil {
		return "", "", eris.Wrap(err, "marshal accepted insurance")
	}
	return string(s), string(i), nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// clinicQuery builds the clinic SELECT for filter. placeholder renders the
// n-th bind parameter (1-based) in the driver's syntax.
func clinicQuery(filter ClinicFilter, placeholder func(n int) string) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(col, val string) {
		if val == "" {
			return
		}
		args = append(args, val)
		where = append(where, fmt.Sprintf("%s = %s", col, placeholder(len(args))))
	}
	add("name", filter.Name)
	add("address", filter.Address)
	add("state", filter.State)

	query := `SELECT ` + clinicColumns + ` FROM clinics`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, listLimit(filter.Limit))
	query += ` ORDER BY state, name LIMIT ` + placeholder(len(args))
	return query, args
}

func sqlitePlaceholder(int) string { return "?" }

func postgresPlaceholder(n int) string { return fmt.Sprintf("$%d", n) }
