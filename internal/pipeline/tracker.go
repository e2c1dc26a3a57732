package pipeline

import (
	"maps"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/carefinder-cli/internal/model"
)

// Tracker records where each state is in a run. Terminal states are final:
// later transitions are ignored.
type Tracker struct {
	kind model.RunKind

	mu     sync.Mutex
	states map[string]model.EntityState
}

// NewTracker creates a tracker with every name pending.
func NewTracker(kind model.RunKind, names []string) *Tracker {
	t := &Tracker{kind: kind, states: make(map[string]model.EntityState, len(names))}
	for _, n := range names {
		t.states[n] = model.EntityPending
	}
	return t
}

// Set moves name to state. It reports whether the transition happened.
func (t *Tracker) Set(name string, state model.EntityState) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur := t.states[name]; cur.Terminal() {
		return false
	}
	t.states[name] = state
	zap.L().Debug("pipeline: state transition",
		zap.String("kind", string(t.kind)),
		zap.String("state", name),
		zap.String("to", string(state)),
	)
	return true
}

// Get returns the current state of name.
func (t *Tracker) Get(name string) model.EntityState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.states[name]
}

// Snapshot copies the current states.
func (t *Tracker) Snapshot() map[string]model.EntityState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return maps.Clone(t.states)
}

// Report is the outcome of one run.
type Report struct {
	Kind      model.RunKind                `json:"kind"`
	Status    model.RunStatus              `json:"status"`
	Total     int                          `json:"total"`
	Succeeded int                          `json:"succeeded"`
	Failed    int                          `json:"failed"`
	Skipped   int                          `json:"skipped"`
	StartedAt time.Time                    `json:"started_at"`
	Duration  time.Duration                `json:"duration_ns"`
	States    map[string]model.EntityState `json:"states"`
}

// report summarizes the tracker. Names still in flight count as neither
// succeeded nor failed and leave the run status running.
func (t *Tracker) report(started time.Time, elapsed time.Duration) *Report {
	states := t.Snapshot()
	r := &Report{
		Kind:      t.kind,
		Status:    model.RunStatusComplete,
		Total:     len(states),
		StartedAt: started,
		Duration:  elapsed,
		States:    states,
	}
	for _, s := range states {
		switch s {
		case model.EntityDone:
			r.Succeeded++
		case model.EntityFailed:
			r.Failed++
		case model.EntitySkipped:
			r.Skipped++
		default:
			r.Status = model.RunStatusRunning
		}
	}
	return r
}
