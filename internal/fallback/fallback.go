// Package fallback serves hand-curated records for states where every live
// source came back empty.
package fallback

import (
	_ "embed"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/carefinder-cli/internal/model"
)

//go:embed data.yaml
var embedded []byte

// Source tags records produced by this package.
const Source = "fallback"

type document struct {
	Legal   map[string]model.LegalInfo `yaml:"legal"`
	Clinics map[string][]model.Clinic  `yaml:"clinics"`
}

// Provider looks up canned records by state.
type Provider struct {
	legal   map[string]model.LegalInfo
	clinics map[string][]model.Clinic
}

// Load returns the embedded records, overlaid with the YAML file at path
// when path is non-empty. Entries in the file replace embedded entries for
// the same state.
func Load(path string) (*Provider, error) {
	p, err := Parse(embedded)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "fallback: read %s", path)
	}
	extra, err := Parse(data)
	if err != nil {
		return nil, err
	}
	for state, info := range extra.legal {
		p.legal[state] = info
	}
	for state, clinics := range extra.clinics {
		p.clinics[state] = clinics
	}
	return p, nil
}

// Parse reads fallback records from YAML. State keys may be names or postal
// codes; unknown states are rejected.
func Parse(data []byte) (*Provider, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrap(err, "fallback: parse yaml")
	}

	p := &Provider{
		legal:   make(map[string]model.LegalInfo, len(doc.Legal)),
		clinics: make(map[string][]model.Clinic, len(doc.Clinics)),
	}
	for key, info := range doc.Legal {
		st, ok := model.LookupState(key)
		if !ok {
			return nil, eris.Errorf("fallback: unknown state %q", key)
		}
		p.legal[st.Name] = info
	}
	for key, clinics := range doc.Clinics {
		st, ok := model.LookupState(key)
		if !ok {
			return nil, eris.Errorf("fallback: unknown state %q", key)
		}
		for i := range clinics {
			clinics[i].State = st.Code
			clinics[i].Source = Source
		}
		p.clinics[st.Name] = clinics
	}
	return p, nil
}

// Legal returns the canned legal record for a state name.
func (p *Provider) Legal(state string) (model.LegalInfo, bool) {
	info, ok := p.legal[state]
	return info, ok
}

// Clinics returns the canned clinics for a state name.
func (p *Provider) Clinics(state string) []model.Clinic {
	return p.clinics[state]
}

// States returns how many states have a legal record.
func (p *Provider) States() int {
	return len(p.legal)
}
