package source

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sells-group/carefinder-cli/internal/model"
	"github.com/sells-group/carefinder-cli/internal/resilience"
)

// News queries a news search API for recent reproductive-health coverage of
// a state. The response follows the common {"articles":[...]} shape.
type News struct {
	api     *jsonClient
	retry   resilience.Policy
	baseURL string
	key     string
	query   string
}

// NewNews creates the news client.
func NewNews(baseURL, key string, timeout time.Duration, userAgent string, retry resilience.Policy) *News {
	return &News{
		api:     newJSONClient(timeout, userAgent),
		retry:   retry.With(nil, resilience.RetryLogger("news", "search")),
		baseURL: strings.TrimRight(baseURL, "/"),
		key:     key,
		query:   `(abortion OR contraception OR "reproductive health") AND (law OR bill OR court)`,
	}
}

func (n *News) Name() string { return "news" }

type newsResponse struct {
	Status   string        `json:"status"`
	Articles []newsArticle `json:"articles"`
}

type newsArticle struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
	PublishedAt string `json:"publishedAt"`
	Source      struct {
		Name string `json:"name"`
	} `json:"source"`
}

// FetchLegal returns the state's news articles as a partial.
func (n *News) FetchLegal(ctx context.Context, state model.State) (*model.LegalInfoPartial, error) {
	params := url.Values{
		"q":        {`"` + state.Name + `" AND ` + n.query},
		"language": {"en"},
		"sortBy":   {"publishedAt"},
		"pageSize": {"20"},
	}
	reqURL := n.baseURL + "/everything?" + params.Encode()
	header := http.Header{}
	if n.key != "" {
		header.Set("X-Api-Key", n.key)
	}

	var resp newsResponse
	err := resilience.Do(ctx, n.retry, func(ctx context.Context) error {
		return n.api.get(ctx, reqURL, header, &resp)
	})
	if err != nil {
		return nil, err
	}

	var info model.LegalInfo
	for _, a := range resp.Articles {
		if a.Title == "" || a.URL == "" || a.Title == "[Removed]" {
			continue
		}
		date := a.PublishedAt
		if len(date) >= 10 {
			date = date[:10]
		}
		info.NewsArticles = append(info.NewsArticles, model.NewsArticle{
			Title:   a.Title,
			URL:     a.URL,
			Source:  a.Source.Name,
			Date:    date,
			Summary: a.Description,
			State:   state.Name,
		})
	}
	return &model.LegalInfoPartial{Source: n.Name(), LegalInfo: info}, nil
}
