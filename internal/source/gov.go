package source

import (
	"context"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"

	"github.com/sells-group/carefinder-cli/internal/model"
	"github.com/sells-group/carefinder-cli/internal/resilience"
	"github.com/sells-group/carefinder-cli/internal/scrape"
)

// Gov scrapes a state government reproductive-health page. The URL comes
// from a template with a {slug} placeholder.
type Gov struct {
	chain       *scrape.Chain
	retry       resilience.Policy
	urlTemplate string
	slug        string
}

// NewGov creates the government-site client. Fetches retry on 403 and 404
// as well as transient failures: several state sites answer those from an
// edge rule before serving the page.
func NewGov(chain *scrape.Chain, retry resilience.Policy, urlTemplate, slugStrategy string) *Gov {
	return &Gov{
		chain:       chain,
		retry:       retry.With(resilience.RetryStatuses(403, 404), resilience.RetryLogger("gov", "fetch")),
		urlTemplate: urlTemplate,
		slug:        slugStrategy,
	}
}

func (g *Gov) Name() string { return "gov" }

// URL returns the page URL for a state.
func (g *Gov) URL(state model.State) string {
	return strings.ReplaceAll(g.urlTemplate, "{slug}", GovSlug(g.slug, state))
}

// FetchLegal fetches and extracts the state page.
func (g *Gov) FetchLegal(ctx context.Context, state model.State) (*model.LegalInfoPartial, error) {
	pageURL := g.URL(state)
	res, err := resilience.DoVal(ctx, g.retry, func(ctx context.Context) (*scrape.Result, error) {
		return g.chain.Scrape(ctx, pageURL)
	})
	if err != nil {
		return nil, err
	}

	doc, err := res.Page.Document()
	if err != nil {
		return nil, err
	}
	base, err := url.Parse(res.Page.URL)
	if err != nil {
		return nil, eris.Wrapf(err, "gov: parse page url %s", res.Page.URL)
	}

	info := legalFromSections(sections(doc, base), doc)
	info.SourceURLs = []string{pageURL}
	info.StateWebsite = origin(pageURL)
	info.HealthDept = healthDept(doc, res.Page, info.StateWebsite)

	return &model.LegalInfoPartial{Source: g.Name(), LegalInfo: info}, nil
}

// healthDept reads the department's name and contact details from the page
// chrome: og:site_name or <title>, the first mailto link, and a phone number
// from the contact block or footer.
func healthDept(doc *goquery.Document, page scrape.Page, website string) model.HealthDeptInfo {
	h := model.HealthDeptInfo{Website: website}

	if name, ok := doc.Find(`meta[property="og:site_name"]`).Attr("content"); ok {
		h.Name = clean(name)
	}
	if h.Name == "" {
		title := page.Title
		if title == "" {
			title = doc.Find("title").First().Text()
		}
		// "Reproductive Health | Texas Department of State Health Services"
		for _, sep := range []string{" | ", " - ", " – "} {
			if i := strings.LastIndex(title, sep); i >= 0 {
				title = title[i+len(sep):]
				break
			}
		}
		h.Name = clean(title)
	}

	if href, ok := doc.Find(`a[href^="mailto:"]`).First().Attr("href"); ok {
		h.Email = strings.SplitN(strings.TrimPrefix(href, "mailto:"), "?", 2)[0]
	}

	for _, sel := range []string{".contact", "#contact", "address", "footer"} {
		if phone := firstPhone(doc.Find(sel).Text()); phone != "" {
			h.Phone = phone
			break
		}
	}
	if h.Phone == "" {
		if href, ok := doc.Find(`a[href^="tel:"]`).First().Attr("href"); ok {
			h.Phone = strings.TrimPrefix(href, "tel:")
		}
	}
	return h
}
