package source

import (
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/sells-group/carefinder-cli/internal/merge"
	"github.com/sells-group/carefinder-cli/internal/model"
)

// section is the content between one heading and the next.
type section struct {
	Heading string
	Items   []string
	Links   []link
}

type link struct {
	Text string
	URL  string
	Desc string
}

// sections walks headings in document order and gathers the list items,
// paragraphs and links that follow each one.
func sections(doc *goquery.Document, base *url.URL) []section {
	var out []section
	var cur *section
	root := doc.Find("main").First()
	if root.Length() == 0 {
		root = doc.Find("article").First()
	}
	if root.Length() == 0 {
		root = doc.Selection
	}
	root.Find("h1, h2, h3, h4, li, p, a[href]").Each(func(_ int, s *goquery.Selection) {
		if s.ParentsFiltered("nav, footer, header").Length() > 0 {
			return
		}
		switch goquery.NodeName(s) {
		case "h1", "h2", "h3", "h4":
			out = append(out, section{Heading: clean(s.Text())})
			cur = &out[len(out)-1]
		case "li", "p":
			if cur == nil {
				return
			}
			// Paragraphs inside list items are counted once, via the item.
			if goquery.NodeName(s) == "p" && s.ParentsFiltered("li").Length() > 0 {
				return
			}
			if text := clean(s.Text()); text != "" {
				cur.Items = append(cur.Items, text)
			}
		case "a":
			if cur == nil {
				return
			}
			href, _ := s.Attr("href")
			abs := resolve(base, href)
			if abs == "" {
				return
			}
			desc := ""
			if li := s.ParentsFiltered("li").First(); li.Length() > 0 {
				desc = strings.TrimSpace(strings.TrimPrefix(clean(li.Text()), clean(s.Text())))
				desc = strings.TrimLeft(desc, " -:")
			}
			cur.Links = append(cur.Links, link{Text: clean(s.Text()), URL: abs, Desc: desc})
		}
	})
	return out
}

// headingKind classifies a section heading.
func headingKind(h string) string {
	h = strings.ToLower(h)
	switch {
	case containsAny(h, "update", "recent", "change", "news", "timeline"):
		return "updates"
	case containsAny(h, "restriction", "ban", "limit", "prohibit"):
		return "restrictions"
	case containsAny(h, "requirement", "waiting", "consent", "counsel", "mandat"):
		return "requirements"
	case containsAny(h, "document", "statute", "law text", "regulation", "forms"):
		return "documents"
	case containsAny(h, "resource", "help", "support", "assistance"):
		return "resources"
	case containsAny(h, "contact", "hotline", "emergency"):
		return "contacts"
	default:
		return ""
	}
}

var (
	wsRe        = regexp.MustCompile(`\s+`)
	phoneRe     = regexp.MustCompile(`(?:\+?1[\s.-]?)?\(?\d{3}\)?[\s.-]?\d{3}[\s.-]?\d{4}`)
	leadDateRe  = regexp.MustCompile(`^((?:January|February|March|April|May|June|July|August|September|October|November|December|Jan|Feb|Mar|Apr|Jun|Jul|Aug|Sep|Sept|Oct|Nov|Dec)\.? \d{1,2}, \d{4}|\d{4}-\d{2}-\d{2}|\d{1,2}/\d{1,2}/\d{4})\s*[:\-–—]\s*`)
	documentExt = map[string]string{".pdf": "pdf", ".doc": "doc", ".docx": "doc"}
)

func clean(s string) string {
	return strings.TrimSpace(wsRe.ReplaceAllString(s, " "))
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func resolve(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "tel:") {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.String()
}

// parseUpdate splits "March 3, 2024: Six-week ban took effect" into a dated
// update. The date is normalised to YYYY-MM-DD when it parses. A <time>
// element's datetime wins over a leading date.
func parseUpdate(item, datetime string) model.LegalUpdate {
	u := model.LegalUpdate{Description: item}
	if m := leadDateRe.FindStringSubmatchIndex(item); m != nil {
		u.Date = item[m[2]:m[3]]
		u.Description = strings.TrimSpace(item[m[1]:])
	}
	if datetime != "" {
		u.Date = datetime
	}
	if t, ok := merge.ParseDate(u.Date); ok {
		u.Date = t.Format("2006-01-02")
	}
	return u
}

// documentType classifies a link as an official document, or "" if not.
func documentType(l link, inDocSection bool) string {
	if u, err := url.Parse(l.URL); err == nil {
		if t, ok := documentExt[strings.ToLower(path.Ext(u.Path))]; ok {
			return t
		}
	}
	lower := strings.ToLower(l.Text)
	switch {
	case strings.Contains(lower, "statute") || strings.Contains(lower, "code"):
		return "statute"
	case strings.Contains(lower, "regulation") || strings.Contains(lower, "rule"):
		return "regulation"
	case strings.Contains(lower, "form"):
		return "form"
	case inDocSection:
		return "webpage"
	}
	return ""
}

// firstPhone returns the first phone-like string in text.
func firstPhone(text string) string {
	return phoneRe.FindString(text)
}

// origin returns scheme://host of raw.
func origin(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// legalFromSections maps classified sections onto a partial.
func legalFromSections(secs []section, doc *goquery.Document) model.LegalInfo {
	var info model.LegalInfo
	times := map[string]string{}
	doc.Find("li time[datetime], p time[datetime]").Each(func(_ int, s *goquery.Selection) {
		dt, _ := s.Attr("datetime")
		parent := s.ParentsFiltered("li, p").First()
		times[clean(parent.Text())] = dt
	})

	for _, sec := range secs {
		kind := headingKind(sec.Heading)
		switch kind {
		case "restrictions":
			info.Restrictions = append(info.Restrictions, sec.Items...)
		case "requirements":
			info.Requirements = append(info.Requirements, sec.Items...)
		case "updates":
			for _, item := range sec.Items {
				info.RecentUpdates = append(info.RecentUpdates, parseUpdate(item, times[item]))
			}
		case "resources":
			for _, l := range sec.Links {
				info.LegalResources = append(info.LegalResources, model.LegalResource{Name: l.Text, URL: l.URL, Description: l.Desc})
			}
		case "contacts":
			for _, item := range sec.Items {
				phone := firstPhone(item)
				if phone == "" {
					continue
				}
				name := strings.TrimSpace(strings.TrimRight(strings.SplitN(item, phone, 2)[0], " :-–("))
				if name == "" {
					name = sec.Heading
				}
				info.EmergencyContacts = append(info.EmergencyContacts, model.EmergencyContact{Name: name, Phone: phone})
			}
		}
		for _, l := range sec.Links {
			if t := documentType(l, kind == "documents"); t != "" {
				info.OfficialDocuments = append(info.OfficialDocuments, model.OfficialDocument{Title: l.Text, URL: l.URL, Type: t})
			}
		}
	}
	return info
}

func attrFloat(s *goquery.Selection, attr string) float64 {
	v, ok := s.Attr(attr)
	if !ok {
		v = s.Text()
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0
	}
	return f
}
