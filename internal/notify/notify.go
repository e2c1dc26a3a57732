// Package notify pushes legal-update events to subscribed webhooks.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/carefinder-cli/internal/model"
)

// EventLegalUpdate is sent when a state's legal record gains dated updates.
const EventLegalUpdate = "legal_update"

// Event is the webhook payload.
type Event struct {
	Type      string              `json:"type"`
	State     string              `json:"state"`
	Updates   []model.LegalUpdate `json:"updates"`
	Timestamp time.Time           `json:"timestamp"`
}

// Subscriptions is the part of the store the notifier needs.
type Subscriptions interface {
	ListSubscriptions(ctx context.Context, state string) ([]model.Subscription, error)
	DeleteSubscription(ctx context.Context, id string) error
}

// Result counts delivery outcomes for one broadcast.
type Result struct {
	Delivered int `json:"delivered"`
	Expired   int `json:"expired"`
	Failed    int `json:"failed"`
}

// ErrExpired means the endpoint is gone and the subscription should be
// removed.
var ErrExpired = eris.New("notify: subscription expired")

// Notifier delivers events to every subscription for a state plus the
// subscriptions that cover all states.
type Notifier struct {
	subs   Subscriptions
	client *http.Client
}

// New creates a Notifier whose deliveries time out after timeout.
func New(subs Subscriptions, timeout time.Duration) *Notifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Notifier{
		subs:   subs,
		client: &http.Client{Timeout: timeout},
	}
}

// LegalUpdated broadcasts the updates in next that prev did not carry. It
// does nothing when there are none.
func (n *Notifier) LegalUpdated(ctx context.Context, state string, prev, next []model.LegalUpdate) Result {
	added := NewUpdates(prev, next)
	if len(added) == 0 {
		return Result{}
	}
	return n.Broadcast(ctx, Event{
		Type:      EventLegalUpdate,
		State:     state,
		Updates:   added,
		Timestamp: time.Now().UTC(),
	})
}

// Broadcast sends ev to each matching subscription. Endpoints answering 404
// or 410 are unsubscribed. Delivery failures are logged and counted, never
// returned.
func (n *Notifier) Broadcast(ctx context.Context, ev Event) Result {
	var res Result

	subs, err := n.subs.ListSubscriptions(ctx, ev.State)
	if err != nil {
		zap.L().Error("notify: list subscriptions",
			zap.String("state", ev.State),
			zap.Error(err),
		)
		return res
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		zap.L().Error("notify: marshal event", zap.Error(err))
		return res
	}

	for _, sub := range subs {
		err := n.send(ctx, sub.Endpoint, payload)
		switch {
		case err == nil:
			res.Delivered++
		case eris.Is(err, ErrExpired):
			res.Expired++
			if derr := n.subs.DeleteSubscription(ctx, sub.ID); derr != nil {
				zap.L().Warn("notify: delete expired subscription",
					zap.String("id", sub.ID),
					zap.Error(derr),
				)
				continue
			}
			zap.L().Info("notify: removed expired subscription",
				zap.String("id", sub.ID),
				zap.String("endpoint", sub.Endpoint),
			)
		default:
			res.Failed++
			zap.L().Warn("notify: delivery failed",
				zap.String("endpoint", sub.Endpoint),
				zap.Error(err),
			)
		}
	}

	zap.L().Info("notify: broadcast complete",
		zap.String("state", ev.State),
		zap.Int("delivered", res.Delivered),
		zap.Int("expired", res.Expired),
		zap.Int("failed", res.Failed),
	)
	return res
}

func (n *Notifier) send(ctx context.Context, endpoint string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "notify: create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "notify: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	switch {
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusGone:
		return eris.Wrapf(ErrExpired, "status %d from %s", resp.StatusCode, endpoint)
	case resp.StatusCode >= 400:
		return eris.Errorf("notify: webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// NewUpdates returns the entries of next whose date and description do not
// appear in prev.
func NewUpdates(prev, next []model.LegalUpdate) []model.LegalUpdate {
	seen := make(map[string]bool, len(prev))
	for _, u := range prev {
		seen[updateKey(u)] = true
	}
	var out []model.LegalUpdate
	for _, u := range next {
		if !seen[updateKey(u)] {
			out = append(out, u)
		}
	}
	return out
}

func updateKey(u model.LegalUpdate) string {
	return u.Date + "|" + strings.ToLower(strings.Join(strings.Fields(u.Description), " "))
}
