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

// Advocacy scrapes an advocacy organization's per-state policy page and its
// clinic listing.
type Advocacy struct {
	chain   *scrape.Chain
	retry   resilience.Policy
	baseURL string
}

// NewAdvocacy creates the advocacy-site client. Pages live at
// {baseURL}/{state-slug} and clinic listings at {baseURL}/{state-slug}/clinics.
func NewAdvocacy(chain *scrape.Chain, retry resilience.Policy, baseURL string) *Advocacy {
	return &Advocacy{
		chain:   chain,
		retry:   retry.With(resilience.RetryStatuses(403), resilience.RetryLogger("advocacy", "fetch")),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (a *Advocacy) Name() string { return "advocacy" }

func (a *Advocacy) fetch(ctx context.Context, pageURL string) (*goquery.Document, *url.URL, error) {
	res, err := resilience.DoVal(ctx, a.retry, func(ctx context.Context) (*scrape.Result, error) {
		return a.chain.Scrape(ctx, pageURL)
	})
	if err != nil {
		return nil, nil, err
	}
	doc, err := res.Page.Document()
	if err != nil {
		return nil, nil, err
	}
	base, err := url.Parse(res.Page.URL)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "advocacy: parse page url %s", res.Page.URL)
	}
	return doc, base, nil
}

// FetchLegal extracts restrictions, requirements, dated updates and
// resources from the state policy page.
func (a *Advocacy) FetchLegal(ctx context.Context, state model.State) (*model.LegalInfoPartial, error) {
	pageURL := a.baseURL + "/" + state.Slug()
	doc, base, err := a.fetch(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	info := legalFromSections(sections(doc, base), doc)
	info.SourceURLs = []string{pageURL}

	// Policy summaries carry their key facts in a definition table.
	doc.Find("table.policy-table tr, dl.policy-summary > div").Each(func(_ int, s *goquery.Selection) {
		label := strings.ToLower(clean(s.Find("th, dt").First().Text()))
		value := clean(s.Find("td, dd").First().Text())
		if value == "" {
			return
		}
		switch headingKind(label) {
		case "restrictions":
			info.Restrictions = append(info.Restrictions, value)
		case "requirements":
			info.Requirements = append(info.Requirements, value)
		}
	})

	return &model.LegalInfoPartial{Source: a.Name(), LegalInfo: info}, nil
}

// FetchClinics reads schema.org MedicalClinic entries from the listing page.
func (a *Advocacy) FetchClinics(ctx context.Context, state model.State) ([]model.Clinic, error) {
	doc, _, err := a.fetch(ctx, a.baseURL+"/"+state.Slug()+"/clinics")
	if err != nil {
		return nil, err
	}

	var clinics []model.Clinic
	doc.Find(`[itemtype$="MedicalClinic"]`).Each(func(_ int, s *goquery.Selection) {
		c := model.Clinic{
			Name:    clean(s.Find(`[itemprop="name"]`).First().Text()),
			Address: clean(s.Find(`[itemprop="address"]`).First().Text()),
			Phone:   clean(s.Find(`[itemprop="telephone"]`).First().Text()),
			State:   state.Code,
			Source:  a.Name(),
		}
		s.Find(`[itemprop="availableService"]`).Each(func(_ int, svc *goquery.Selection) {
			if t := clean(svc.Text()); t != "" {
				c.Services = append(c.Services, t)
			}
		})
		s.Find(`[itemprop="paymentAccepted"]`).Each(func(_ int, p *goquery.Selection) {
			for _, part := range strings.Split(p.Text(), ",") {
				if t := clean(part); t != "" {
					c.AcceptedInsurance = append(c.AcceptedInsurance, t)
				}
			}
		})
		if geo := s.Find(`[itemprop="geo"]`); geo.Length() > 0 {
			c.Latitude = attrFloat(geo.Find(`[itemprop="latitude"]`), "content")
			c.Longitude = attrFloat(geo.Find(`[itemprop="longitude"]`), "content")
		}
		if c.Name != "" {
			clinics = append(clinics, c)
		}
	})
	return clinics, nil
}
