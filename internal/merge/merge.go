// Package merge combines per-source partial records into one record per state
// and deduplicates clinics across sources.
package merge

import (
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/sells-group/carefinder-cli/internal/model"
)

// Legal merges partials supplied in source-priority order.
//
// Scalars take the first non-empty value. Lists are concatenated in order and
// deduplicated by natural key, keeping the first occurrence. RecentUpdates and
// NewsArticles are then stably sorted newest first; a date that cannot be
// parsed counts as now.
func Legal(now time.Time, partials ...model.LegalInfoPartial) model.LegalInfo {
	var (
		out model.LegalInfo

		restrictions = newSet[string](Text)
		requirements = newSet[string](Text)
		sourceURLs   = newSet[string](URL)
		updates      = newSet(updateKey)
		documents    = newSet(documentKey)
		resources    = newSet(resourceKey)
		news         = newSet(newsKey)
		contacts     = newSet(contactKey)
	)

	for _, p := range partials {
		out.Restrictions = restrictions.add(out.Restrictions, trimAll(p.Restrictions)...)
		out.Requirements = requirements.add(out.Requirements, trimAll(p.Requirements)...)
		out.SourceURLs = sourceURLs.add(out.SourceURLs, trimAll(p.SourceURLs)...)
		out.RecentUpdates = updates.add(out.RecentUpdates, p.RecentUpdates...)
		out.OfficialDocuments = documents.add(out.OfficialDocuments, p.OfficialDocuments...)
		out.LegalResources = resources.add(out.LegalResources, p.LegalResources...)
		out.NewsArticles = news.add(out.NewsArticles, p.NewsArticles...)
		out.EmergencyContacts = contacts.add(out.EmergencyContacts, p.EmergencyContacts...)

		out.StateWebsite = firstNonEmpty(out.StateWebsite, p.StateWebsite)
		out.AdditionalNotes = firstNonEmpty(out.AdditionalNotes, p.AdditionalNotes)
		out.HealthDept.Name = firstNonEmpty(out.HealthDept.Name, p.HealthDept.Name)
		out.HealthDept.Website = firstNonEmpty(out.HealthDept.Website, p.HealthDept.Website)
		out.HealthDept.Phone = firstNonEmpty(out.HealthDept.Phone, p.HealthDept.Phone)
		out.HealthDept.Email = firstNonEmpty(out.HealthDept.Email, p.HealthDept.Email)
	}

	sortByDateDesc(out.RecentUpdates, now, func(u model.LegalUpdate) string { return u.Date })
	sortByDateDesc(out.NewsArticles, now, func(a model.NewsArticle) string { return a.Date })
	return out
}

// Clinics deduplicates clinics from several sources as whole records keyed by
// normalized name and address. Lists are taken in source-priority order and
// the first occurrence wins. Clinics without a name are dropped.
func Clinics(lists ...[]model.Clinic) []model.Clinic {
	seen := newSet(ClinicKey)
	var out []model.Clinic
	for _, l := range lists {
		out = seen.add(out, l...)
	}
	return out
}

// ClinicKey is the cross-source identity of a clinic.
func ClinicKey(c model.Clinic) string {
	name := Text(c.Name)
	if name == "" {
		return ""
	}
	return name + "|" + Address(c.Address)
}

var addressAbbrev = map[string]string{
	"street": "st", "avenue": "ave", "road": "rd", "boulevard": "blvd",
	"drive": "dr", "suite": "ste", "lane": "ln", "court": "ct",
	"highway": "hwy", "parkway": "pkwy", "place": "pl", "north": "n",
	"south": "s", "east": "e", "west": "w",
}

// Address normalizes a street address for comparison.
func Address(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			return r
		}
		return ' '
	}, Text(s))
	words := strings.Fields(s)
	for i, w := range words {
		if a, ok := addressAbbrev[w]; ok {
			words[i] = a
		}
	}
	return strings.Join(words, " ")
}

type set[T any] struct {
	key  func(T) string
	seen map[string]struct{}
}

func newSet[T any](key func(T) string) *set[T] {
	return &set[T]{key: key, seen: make(map[string]struct{})}
}

// add appends the items whose key is non-empty and not yet seen.
func (s *set[T]) add(dst []T, items ...T) []T {
	for _, it := range items {
		k := s.key(it)
		if k == "" {
			continue
		}
		if _, dup := s.seen[k]; dup {
			continue
		}
		s.seen[k] = struct{}{}
		dst = append(dst, it)
	}
	return dst
}

func sortByDateDesc[T any](items []T, now time.Time, date func(T) string) {
	at := func(v T) time.Time {
		if t, ok := ParseDate(date(v)); ok {
			return t
		}
		return now
	}
	slices.SortStableFunc(items, func(a, b T) int {
		return at(b).Compare(at(a))
	})
}

func updateKey(u model.LegalUpdate) string {
	d := Text(u.Description)
	if d == "" {
		return ""
	}
	return Text(u.Date) + "|" + d
}

func documentKey(d model.OfficialDocument) string {
	return urlOr(d.URL, d.Title)
}

func resourceKey(r model.LegalResource) string {
	return urlOr(r.URL, r.Name)
}

func newsKey(a model.NewsArticle) string {
	return urlOr(a.URL, a.Title)
}

func contactKey(c model.EmergencyContact) string {
	name, phone := Text(c.Name), Digits(c.Phone)
	if name == "" && phone == "" {
		return ""
	}
	return name + "|" + phone
}

func urlOr(u, title string) string {
	if k := URL(u); k != "" {
		return k
	}
	if t := Text(title); t != "" {
		return "title:" + t
	}
	return ""
}

func firstNonEmpty(current, candidate string) string {
	if current != "" {
		return current
	}
	return strings.TrimSpace(candidate)
}

func trimAll(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.TrimSpace(s)
	}
	return out
}
