// Package export writes stored records to an XLSX workbook.
package export

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/carefinder-cli/internal/model"
	"github.com/sells-group/carefinder-cli/internal/store"
)

// Sheet names.
const (
	LegalSheet   = "Legal"
	ClinicsSheet = "Clinics"
)

// Kinds accepted by Write.
const (
	KindLegal   = "legal"
	KindClinics = "clinics"
	KindAll     = "all"
)

// Source is the part of the store export reads from.
type Source interface {
	ListLegalInfo(ctx context.Context) ([]model.StoredLegalInfo, error)
	ListClinics(ctx context.Context, filter store.ClinicFilter) ([]model.StoredClinic, error)
}

var legalHeader = []string{
	"State", "Restrictions", "Requirements", "Recent Updates", "Official Documents",
	"Legal Resources", "Emergency Contacts", "State Website", "Health Department",
	"Health Department Phone", "Source URLs", "Additional Notes", "Last Verified",
}

var clinicHeader = []string{
	"Name", "Address", "State", "Phone", "Services", "Accepted Insurance",
	"Latitude", "Longitude", "Source", "Created",
}

// Write exports the records of kind to an XLSX file at path and returns the
// number of rows written, headers excluded.
func Write(ctx context.Context, src Source, kind, path string) (int, error) {
	f := xlsx.NewFile()
	total := 0

	if kind == KindLegal || kind == KindAll {
		recs, err := src.ListLegalInfo(ctx)
		if err != nil {
			return 0, eris.Wrap(err, "export: list legal info")
		}
		if err := addLegalSheet(f, recs); err != nil {
			return 0, err
		}
		total += len(recs)
	}
	if kind == KindClinics || kind == KindAll {
		recs, err := src.ListClinics(ctx, store.ClinicFilter{Limit: 100000})
		if err != nil {
			return 0, eris.Wrap(err, "export: list clinics")
		}
		if err := addClinicSheet(f, recs); err != nil {
			return 0, err
		}
		total += len(recs)
	}
	if len(f.Sheets) == 0 {
		return 0, eris.Errorf("export: unknown kind %q", kind)
	}

	if err := f.Save(path); err != nil {
		return 0, eris.Wrapf(err, "export: save %s", path)
	}
	return total, nil
}

func addLegalSheet(f *xlsx.File, recs []model.StoredLegalInfo) error {
	sheet, err := f.AddSheet(LegalSheet)
	if err != nil {
		return eris.Wrap(err, "export: add legal sheet")
	}
	addRow(sheet, legalHeader)

	for _, r := range recs {
		updates := make([]string, 0, len(r.RecentUpdates))
		for _, u := range r.RecentUpdates {
			updates = append(updates, u.Date+": "+u.Description)
		}
		docs := make([]string, 0, len(r.OfficialDocuments))
		for _, d := range r.OfficialDocuments {
			docs = append(docs, d.Title+" <"+d.URL+">")
		}
		resources := make([]string, 0, len(r.LegalResources))
		for _, lr := range r.LegalResources {
			resources = append(resources, lr.Name+" <"+lr.URL+">")
		}
		contacts := make([]string, 0, len(r.EmergencyContacts))
		for _, c := range r.EmergencyContacts {
			contacts = append(contacts, c.Name+" "+c.Phone)
		}

		addRow(sheet, []string{
			r.State,
			join(r.Restrictions),
			join(r.Requirements),
			join(updates),
			join(docs),
			join(resources),
			join(contacts),
			r.StateWebsite,
			r.HealthDept.Name,
			r.HealthDept.Phone,
			join(r.SourceURLs),
			r.AdditionalNotes,
			formatTime(r.LastVerified),
		})
	}
	return nil
}

func addClinicSheet(f *xlsx.File, recs []model.StoredClinic) error {
	sheet, err := f.AddSheet(ClinicsSheet)
	if err != nil {
		return eris.Wrap(err, "export: add clinics sheet")
	}
	addRow(sheet, clinicHeader)

	for _, c := range recs {
		row := sheet.AddRow()
		for _, v := range []string{c.Name, c.Address, c.State, c.Phone, join(c.Services), join(c.AcceptedInsurance)} {
			row.AddCell().SetString(v)
		}
		row.AddCell().SetFloat(c.Latitude)
		row.AddCell().SetFloat(c.Longitude)
		row.AddCell().SetString(c.Source)
		row.AddCell().SetString(formatTime(c.CreatedAt))
	}
	return nil
}

func addRow(sheet *xlsx.Sheet, cells []string) {
	row := sheet.AddRow()
	for _, v := range cells {
		row.AddCell().SetString(v)
	}
}

func join(items []string) string {
	return strings.Join(items, "; ")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
