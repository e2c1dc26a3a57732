package scrape

import (
	"context"
	"io"
	"mime"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/sells-group/carefinder-cli/internal/resilience"
)

// DefaultUserAgent identifies the crawler to source sites.
const DefaultUserAgent = "Mozilla/5.0 (compatible; CareFinderBot/1.0; +https://carefinder.org/bot)"

// maxBody caps how much of a page is read.
const maxBody = 2 << 20

// LocalScraper fetches HTML via net/http, detects blocks, and decodes the
// body to UTF-8. Falls through to Jina when blocked.
type LocalScraper struct {
	client    *http.Client
	userAgent string
}

// NewLocalScraper creates a LocalScraper. A zero timeout means 10s.
func NewLocalScraper(userAgent string, timeout time.Duration) *LocalScraper {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &LocalScraper{
		userAgent: userAgent,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: timeout,
				}).DialContext,
				TLSHandshakeTimeout: timeout,
			},
		},
	}
}

func (l *LocalScraper) Name() string           { return "local_http" }
func (l *LocalScraper) Supports(_ string) bool { return true }

// Scrape fetches a URL, detects blocks and returns both the HTML and a
// plaintext rendering. Non-2xx responses come back as resilience errors.
func (l *LocalScraper) Scrape(ctx context.Context, targetURL string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "local_http: create request")
	}
	req.Header.Set("User-Agent", l.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "local_http: fetch")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, eris.Wrap(err, "local_http: read body")
	}

	if blocked, blockType := DetectBlock(resp, body); blocked {
		return nil, &BlockedError{URL: targetURL, Type: blockType}
	}

	if resp.StatusCode >= 400 {
		return nil, resilience.HTTPError(targetURL, resp.StatusCode)
	}

	if len(body) < 100 {
		return nil, eris.Errorf("local_http: empty page %s", targetURL)
	}

	doc := decodeBody(body, resp.Header.Get("Content-Type"))
	return &Result{
		Page: Page{
			URL:        targetURL,
			Title:      extractTitle(doc),
			HTML:       doc,
			Text:       stripHTML(doc),
			StatusCode: resp.StatusCode,
		},
		Source: "local_http",
	}, nil
}

// BlockedError reports an anti-bot wall.
type BlockedError struct {
	URL  string
	Type BlockType
}

func (e *BlockedError) Error() string {
	return "local_http: blocked (" + string(e.Type) + ") at " + e.URL
}

var metaCharsetRe = regexp.MustCompile(`(?i)<meta[^>]+charset=["']?([a-z0-9_-]+)`)

// decodeBody converts body to UTF-8 using the Content-Type charset or a
// <meta charset> declaration. Some state sites still serve windows-1252.
func decodeBody(body []byte, contentType string) string {
	charset := ""
	if _, params, err := mime.ParseMediaType(contentType); err == nil {
		charset = params["charset"]
	}
	if charset == "" {
		head := body
		if len(head) > 4096 {
			head = head[:4096]
		}
		if m := metaCharsetRe.FindSubmatch(head); len(m) > 1 {
			charset = string(m[1])
		}
	}
	if charset == "" || strings.EqualFold(charset, "utf-8") {
		return string(body)
	}

	enc, err := htmlindex.Get(charset)
	if err != nil {
		zap.L().Debug("local_http: unknown charset", zap.String("charset", charset))
		return string(body)
	}
	out, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return string(body)
	}
	return string(out)
}

var titleRe = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)

// extractTitle pulls the <title> from HTML.
func extractTitle(body string) string {
	m := titleRe.FindStringSubmatch(body)
	if len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	return ""
}

var (
	dropBlockRes = func() []*regexp.Regexp {
		var out []*regexp.Regexp
		for _, tag := range []string{"script", "style", "nav", "footer", "noscript"} {
			out = append(out, regexp.MustCompile(`(?is)<`+tag+`[^>]*>.*?</`+tag+`>`))
		}
		return out
	}()
	blockTagRe = regexp.MustCompile(`(?i)</?(p|div|h[1-6]|li|ul|ol|tr|br|section|article)[^>]*>`)
	tagRe      = regexp.MustCompile(`<[^>]+>`)
	spaceRe    = regexp.MustCompile(`[ \t]+`)
	nlRe       = regexp.MustCompile(`\n\s*\n(\s*\n)+`)
	entities   = strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
		"&nbsp;", " ",
		"&rsquo;", "'",
		"&ndash;", "-",
	)
)

// stripHTML removes script, style and chrome blocks, turns block tags into
// line breaks, strips the rest and collapses whitespace.
func stripHTML(html string) string {
	for _, re := range dropBlockRes {
		html = re.ReplaceAllString(html, "")
	}
	html = blockTagRe.ReplaceAllString(html, "\n")
	html = tagRe.ReplaceAllString(html, " ")
	html = entities.Replace(html)
	html = spaceRe.ReplaceAllString(html, " ")
	html = nlRe.ReplaceAllString(html, "\n\n")

	lines := strings.Split(html, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
