package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/carefinder-cli/internal/merge"
	"github.com/sells-group/carefinder-cli/internal/model"
	"github.com/sells-group/carefinder-cli/pkg/anthropic"
)

// ErrShortfall means no attempt produced a complete batch.
var ErrShortfall = eris.New("enrich: clinic generation shortfall")

const clinicSystemPrompt = `You compile directories of reproductive-health clinics in U.S. states.
Answer only with a JSON array. Do not add commentary.`

const clinicUserPrompt = `List exactly %d reproductive-health clinics in %s.
Each element must be an object with these keys:
{"name": string, "address": string (street, city, state, zip), "phone": string formatted (XXX) XXX-XXXX,
 "services": [string], "acceptedInsurance": [string], "latitude": number, "longitude": number}`

type aiClinic struct {
	Name              string   `json:"name"`
	Address           string   `json:"address"`
	Phone             string   `json:"phone"`
	Services          []string `json:"services"`
	AcceptedInsurance []string `json:"acceptedInsurance"`
	Latitude          float64  `json:"latitude"`
	Longitude         float64  `json:"longitude"`
}

// ClinicGenerator synthesizes clinic records for a state.
type ClinicGenerator struct {
	ai          anthropic.Client
	model       string
	maxTokens   int64
	maxAttempts int
}

// NewClinicGenerator creates a ClinicGenerator. maxAttempts below 1 means 3.
func NewClinicGenerator(ai anthropic.Client, modelName string, maxTokens int64, maxAttempts int) *ClinicGenerator {
	if maxAttempts < 1 {
		maxAttempts = 3
	}
	return &ClinicGenerator{ai: ai, model: modelName, maxTokens: maxTokens, maxAttempts: maxAttempts}
}

// Generate returns exactly count clinics. A batch with the wrong length or
// any record lacking a name, address or usable phone is thrown away and the
// request repeated; after maxAttempts it returns ErrShortfall.
func (g *ClinicGenerator) Generate(ctx context.Context, state model.State, count int) ([]model.Clinic, error) {
	log := zap.L().With(zap.String("state", state.Name), zap.Int("count", count))

	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		clinics, err := g.attempt(ctx, state, count)
		if err == nil {
			return clinics, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Warn("enrich: clinic batch rejected", zap.Int("attempt", attempt), zap.Error(err))
	}
	return nil, eris.Wrapf(ErrShortfall, "%s after %d attempts", state.Name, g.maxAttempts)
}

func (g *ClinicGenerator) attempt(ctx context.Context, state model.State, count int) ([]model.Clinic, error) {
	resp, err := g.ai.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     g.model,
		MaxTokens: g.maxTokens,
		System:    anthropic.CachedSystem(clinicSystemPrompt),
		Messages: []anthropic.Message{
			{Role: "user", Content: fmt.Sprintf(clinicUserPrompt, count, state.Name)},
		},
	})
	if err != nil {
		return nil, eris.Wrap(err, "enrich: completion")
	}
	resp.Usage.LogUsage(g.model, "generate_clinics")

	var raw []aiClinic
	if err := json.Unmarshal([]byte(cleanJSON(resp.Text(), '[', ']')), &raw); err != nil {
		return nil, eris.Wrap(err, "enrich: parse clinic batch")
	}
	if len(raw) != count {
		return nil, eris.Errorf("enrich: got %d clinics, want %d", len(raw), count)
	}

	clinics := make([]model.Clinic, 0, count)
	for i, r := range raw {
		name, address := strings.TrimSpace(r.Name), strings.TrimSpace(r.Address)
		if name == "" || address == "" {
			return nil, eris.Errorf("enrich: clinic %d missing name or address", i)
		}
		phone, ok := NormalizePhone(r.Phone)
		if !ok {
			return nil, eris.Errorf("enrich: clinic %q has unusable phone %q", name, r.Phone)
		}
		clinics = append(clinics, model.Clinic{
			Name:              name,
			Address:           address,
			State:             state.Code,
			Phone:             phone,
			Services:          r.Services,
			AcceptedInsurance: r.AcceptedInsurance,
			Latitude:          r.Latitude,
			Longitude:         r.Longitude,
			Source:            "ai",
		})
	}
	return clinics, nil
}

// NormalizePhone formats a U.S. number as (XXX) XXX-XXXX. Eleven digits with
// a leading 1 are accepted; anything else is rejected.
func NormalizePhone(s string) (string, bool) {
	d := merge.Digits(s)
	if len(d) == 11 && d[0] == '1' {
		d = d[1:]
	}
	if len(d) != 10 {
		return "", false
	}
	return fmt.Sprintf("(%s) %s-%s", d[:3], d[3:6], d[6:]), true
}
