package scrape

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/carefinder-cli/internal/resilience"
)

const longPara = "Abortion is legal before fetal viability. Minors need the consent of one parent or a judicial bypass."

func TestLocalScraper_CleanHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><head><title>Reproductive Health</title></head>
<body><nav>Menu</nav><h1>Welcome</h1><p>` + longPara + `</p>
<footer>Copyright 2025</footer></body></html>`))
	}))
	defer srv.Close()

	result, err := NewLocalScraper("test-agent", 0).Scrape(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "local_http", result.Source)
	assert.Equal(t, "Reproductive Health", result.Page.Title)
	assert.Equal(t, 200, result.Page.StatusCode)
	assert.Contains(t, result.Page.HTML, "<h1>Welcome</h1>")
	assert.Contains(t, result.Page.Text, "Welcome")
	assert.Contains(t, result.Page.Text, "judicial bypass")
	assert.NotContains(t, result.Page.Text, "Menu")
	assert.NotContains(t, result.Page.Text, "Copyright 2025")
}

func TestLocalScraper_DecodesLegacyCharset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=windows-1252")
		// 0xE9 is "é" in windows-1252.
		body := append([]byte("<html><body><p>Servicios de salud reproductiva en el Departamento de Salud P"), 0xE9)
		body = append(body, []byte("blica del estado.</p></body></html>")...)
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	result, err := NewLocalScraper("", 0).Scrape(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Contains(t, result.Page.Text, "Pé")
}

func TestLocalScraper_Cloudflare(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Cf-Ray", "abc123")
		w.WriteHeader(403)
		_, _ = w.Write([]byte(`<html><body>Access denied</body></html>`))
	}))
	defer srv.Close()

	_, err := NewLocalScraper("", 0).Scrape(context.Background(), srv.URL)
	var be *BlockedError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, BlockCloudflare, be.Type)
	assert.Contains(t, err.Error(), "blocked")
}

func TestLocalScraper_EmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html></html>`))
	}))
	defer srv.Close()

	_, err := NewLocalScraper("", 0).Scrape(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")
}

func TestLocalScraper_StatusClassified(t *testing.T) {
	for _, code := range []int{404, 503} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(code)
			_, _ = w.Write([]byte(strings.Repeat("x", 200)))
		}))

		_, err := NewLocalScraper("", 0).Scrape(context.Background(), srv.URL)
		var se *resilience.StatusError
		require.True(t, errors.As(err, &se), "status %d", code)
		assert.Equal(t, code, se.StatusCode)
		assert.Equal(t, code == 503, resilience.IsTransient(err))
		srv.Close()
	}
}

func TestStripHTML(t *testing.T) {
	input := `<html><head><style>body{color:red}</style></head>
<body><script>alert('hi')</script><h1>Hello</h1><p>World &amp; friends</p><ul><li>one</li><li>two</li></ul></body></html>`
	result := stripHTML(input)
	assert.Contains(t, result, "Hello")
	assert.Contains(t, result, "World & friends")
	assert.Contains(t, result, "one\n")
	assert.NotContains(t, result, "alert")
	assert.NotContains(t, result, "color:red")
	assert.NotContains(t, result, "<h1>")
	assert.NotContains(t, result, "\n\n\n")
}

func TestExtractTitle(t *testing.T) {
	assert.Equal(t, "My Page", extractTitle(`<html><head><title> My Page </title></head></html>`))
	assert.Equal(t, "", extractTitle(`<html><body>no title</body></html>`))
}

func TestPage_DocumentFromText(t *testing.T) {
	p := Page{URL: "https://a.gov", Text: "# Laws\nAbortion is legal.\n- Item one\n- Item <two>\n\nTrailing note"}
	doc, err := p.Document()
	require.NoError(t, err)
	assert.Equal(t, "Laws", doc.Find("h2").Text())
	assert.Equal(t, 2, doc.Find("ul li").Length())
	assert.Equal(t, "Item <two>", doc.Find("li").Last().Text())
	assert.Equal(t, 2, doc.Find("p").Length())
}

func TestPage_DocumentFromHTML(t *testing.T) {
	p := Page{HTML: `<html><body><div class="law">Text</div></body></html>`, Text: "ignored"}
	doc, err := p.Document()
	require.NoError(t, err)
	assert.Equal(t, "Text", doc.Find(".law").Text())
}
