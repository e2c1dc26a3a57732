// Package model defines the records produced and persisted by the ingestion
// pipeline.
package model

import "strings"

// State is one of the fifty U.S. states the pipeline iterates over.
type State struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

var states = []State{
	{"Alabama", "AL"}, {"Alaska", "AK"}, {"Arizona", "AZ"}, {"Arkansas", "AR"},
	{"California", "CA"}, {"Colorado", "CO"}, {"Connecticut", "CT"}, {"Delaware", "DE"},
	{"Florida", "FL"}, {"Georgia", "GA"}, {"Hawaii", "HI"}, {"Idaho", "ID"},
	{"Illinois", "IL"}, {"Indiana", "IN"}, {"Iowa", "IA"}, {"Kansas", "KS"},
	{"Kentucky", "KY"}, {"Louisiana", "LA"}, {"Maine", "ME"}, {"Maryland", "MD"},
	{"Massachusetts", "MA"}, {"Michigan", "MI"}, {"Minnesota", "MN"}, {"Mississippi", "MS"},
	{"Missouri", "MO"}, {"Montana", "MT"}, {"Nebraska", "NE"}, {"Nevada", "NV"},
	{"New Hampshire", "NH"}, {"New Jersey", "NJ"}, {"New Mexico", "NM"}, {"New York", "NY"},
	{"North Carolina", "NC"}, {"North Dakota", "ND"}, {"Ohio", "OH"}, {"Oklahoma", "OK"},
	{"Oregon", "OR"}, {"Pennsylvania", "PA"}, {"Rhode Island", "RI"}, {"South Carolina", "SC"},
	{"South Dakota", "SD"}, {"Tennessee", "TN"}, {"Texas", "TX"}, {"Utah", "UT"},
	{"Vermont", "VT"}, {"Virginia", "VA"}, {"Washington", "WA"}, {"West Virginia", "WV"},
	{"Wisconsin", "WI"}, {"Wyoming", "WY"},
}

// States returns the fixed set of states in alphabetical order. The slice is
// a copy.
func States() []State {
	out := make([]State, len(states))
	copy(out, states)
	return out
}

// LookupState finds a state by name or postal code, case-insensitively.
func LookupState(key string) (State, bool) {
	key = strings.TrimSpace(key)
	for _, s := range states {
		if strings.EqualFold(s.Name, key) || strings.EqualFold(s.Code, key) {
			return s, true
		}
	}
	return State{}, false
}

// Slug returns the lowercase hyphenated name, e.g. "new-york".
func (s State) Slug() string {
	return strings.ReplaceAll(strings.ToLower(s.Name), " ", "-")
}
