// Package enrich adds AI-sourced facts to merged legal information and
// generates clinic records when no source has any.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/carefinder-cli/internal/merge"
	"github.com/sells-group/carefinder-cli/internal/model"
	"github.com/sells-group/carefinder-cli/pkg/anthropic"
)

const legalSystemPrompt = `You are a legal research assistant tracking reproductive-health law in U.S. states.
Answer only with a single JSON object. Do not add commentary. Use ISO dates (YYYY-MM-DD).
Only include facts you are confident are current; leave a list empty rather than guess.`

const legalUserPrompt = `State: %s

Known facts (JSON):
%s

Return a JSON object with exactly these keys:
{
  "restrictions": [string],
  "requirements": [string],
  "recentUpdates": [{"date": string, "description": string, "impact": string}],
  "newsArticles": [{"title": string, "url": string, "source": string, "date": string, "summary": string}],
  "emergencyContacts": [{"name": string, "phone": string, "description": string}],
  "officialDocuments": [{"title": string, "url": string, "type": string}],
  "additionalNotes": string
}`

// aiLegal is the response schema. Decoding fails on wrong types, which
// counts as a schema mismatch.
type aiLegal struct {
	Restrictions      []string                 `json:"restrictions"`
	Requirements      []string                 `json:"requirements"`
	RecentUpdates     []model.LegalUpdate      `json:"recentUpdates"`
	NewsArticles      []model.NewsArticle      `json:"newsArticles"`
	EmergencyContacts []model.EmergencyContact `json:"emergencyContacts"`
	OfficialDocuments []model.OfficialDocument `json:"officialDocuments"`
	AdditionalNotes   string                   `json:"additionalNotes"`
}

// Enricher asks the completion service for facts the sources missed.
type Enricher struct {
	ai        anthropic.Client
	model     string
	maxTokens int64
	now       func() time.Time
}

// NewEnricher creates an Enricher.
func NewEnricher(ai anthropic.Client, modelName string, maxTokens int64) *Enricher {
	return &Enricher{ai: ai, model: modelName, maxTokens: maxTokens, now: time.Now}
}

// Enrich returns merged plus whatever the completion service adds. It never
// fails: a request error, unparseable output or a schema mismatch is logged
// and merged comes back unchanged. AI entries rank after sourced entries, so
// every sourced fact survives.
func (e *Enricher) Enrich(ctx context.Context, state model.State, merged model.LegalInfo) model.LegalInfo {
	log := zap.L().With(zap.String("state", state.Name))

	ai, err := e.request(ctx, state, merged)
	if err != nil {
		log.Warn("enrich: skipped", zap.Error(err))
		return merged
	}

	return merge.Legal(e.now(),
		model.LegalInfoPartial{Source: "sources", LegalInfo: merged},
		model.LegalInfoPartial{Source: "ai", LegalInfo: ai},
	)
}

func (e *Enricher) request(ctx context.Context, state model.State, merged model.LegalInfo) (model.LegalInfo, error) {
	known, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return model.LegalInfo{}, eris.Wrap(err, "enrich: marshal known facts")
	}

	resp, err := e.ai.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     e.model,
		MaxTokens: e.maxTokens,
		System:    anthropic.CachedSystem(legalSystemPrompt),
		Messages: []anthropic.Message{
			{Role: "user", Content: fmt.Sprintf(legalUserPrompt, state.Name, known)},
		},
	})
	if err != nil {
		return model.LegalInfo{}, eris.Wrap(err, "enrich: completion")
	}
	resp.Usage.LogUsage(e.model, "enrich")

	text := cleanJSON(resp.Text(), '{', '}')
	if !strings.HasPrefix(text, "{") {
		return model.LegalInfo{}, eris.New("enrich: response is not a JSON object")
	}
	var out aiLegal
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return model.LegalInfo{}, eris.Wrap(err, "enrich: parse response")
	}
	return out.toLegalInfo(state), nil
}

// toLegalInfo keeps only entries that carry their identity fields.
func (a aiLegal) toLegalInfo(state model.State) model.LegalInfo {
	info := model.LegalInfo{
		Restrictions:    nonBlank(a.Restrictions),
		Requirements:    nonBlank(a.Requirements),
		AdditionalNotes: strings.TrimSpace(a.AdditionalNotes),
	}
	for _, u := range a.RecentUpdates {
		if strings.TrimSpace(u.Description) != "" {
			info.RecentUpdates = append(info.RecentUpdates, u)
		}
	}
	for _, n := range a.NewsArticles {
		if strings.TrimSpace(n.Title) != "" && strings.TrimSpace(n.URL) != "" {
			if n.State == "" {
				n.State = state.Name
			}
			info.NewsArticles = append(info.NewsArticles, n)
		}
	}
	for _, c := range a.EmergencyContacts {
		if strings.TrimSpace(c.Name) != "" && strings.TrimSpace(c.Phone) != "" {
			info.EmergencyContacts = append(info.EmergencyContacts, c)
		}
	}
	for _, d := range a.OfficialDocuments {
		if strings.TrimSpace(d.URL) != "" {
			info.OfficialDocuments = append(info.OfficialDocuments, d)
		}
	}
	return info
}

func nonBlank(in []string) []string {
	var out []string
	for _, s := range in {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}
