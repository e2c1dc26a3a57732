package scrape

import (
	"context"
	"html"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
)

// Page is a fetched document. HTML is empty when the scraper could only
// return rendered text (Jina returns markdown).
type Page struct {
	URL        string
	Title      string
	HTML       string
	Text       string
	StatusCode int
}

// Result holds a scraped page with its source.
type Result struct {
	Page   Page
	Source string // "local_http", "jina" or "firecrawl"
}

// Scraper fetches a single URL and returns its content.
type Scraper interface {
	Scrape(ctx context.Context, url string) (*Result, error)
	Name() string
	Supports(url string) bool
}

// Document parses the page into a goquery document. Text-only pages are
// rendered into minimal HTML first: markdown headings become <h2>, list
// items become <li> and everything else a <p>, so selector-based extraction
// still finds something.
func (p *Page) Document() (*goquery.Document, error) {
	src := p.HTML
	if src == "" {
		src = textToHTML(p.Text)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(src))
	if err != nil {
		return nil, eris.Wrapf(err, "scrape: parse %s", p.URL)
	}
	return doc, nil
}

func textToHTML(text string) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	inList := false
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		isItem := strings.HasPrefix(line, "- ") || strings.HasPrefix(line, "* ")
		if isItem && !inList {
			b.WriteString("<ul>")
			inList = true
		}
		if !isItem && inList {
			b.WriteString("</ul>")
			inList = false
		}
		switch {
		case isItem:
			b.WriteString("<li>" + html.EscapeString(strings.TrimSpace(line[2:])) + "</li>")
		case strings.HasPrefix(line, "#"):
			b.WriteString("<h2>" + html.EscapeString(strings.TrimSpace(strings.TrimLeft(line, "#"))) + "</h2>")
		default:
			b.WriteString("<p>" + html.EscapeString(line) + "</p>")
		}
	}
	if inList {
		b.WriteString("</ul>")
	}
	b.WriteString("</body></html>")
	return b.String()
}
