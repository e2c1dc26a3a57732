package model

import "time"

// RunKind names one of the pipeline's run types.
type RunKind string

const (
	RunKindLegal      RunKind = "legal"
	RunKindClinics    RunKind = "clinics"
	RunKindGeneration RunKind = "clinics-ai"
)

// ParseRunKind validates a run kind from user input.
func ParseRunKind(s string) (RunKind, bool) {
	switch k := RunKind(s); k {
	case RunKindLegal, RunKindClinics, RunKindGeneration:
		return k, true
	default:
		return "", false
	}
}

// EntityState is the position of one state's work in a run.
type EntityState string

const (
	EntityPending    EntityState = "pending"
	EntityFetching   EntityState = "fetching"
	EntityMerging    EntityState = "merging"
	EntityEnriching  EntityState = "enriching"
	EntityPersisting EntityState = "persisting"
	EntityDone       EntityState = "done"
	EntitySkipped    EntityState = "skipped"
	EntityFailed     EntityState = "failed"
)

// Terminal reports whether no further transition is possible.
func (s EntityState) Terminal() bool {
	return s == EntityDone || s == EntitySkipped || s == EntityFailed
}

// RunStatus is the run-level status.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
)

// Subscription is a webhook endpoint that wants legal-update notifications.
// An empty State subscribes to every state.
type Subscription struct {
	ID        string    `json:"id"`
	Endpoint  string    `json:"endpoint"`
	State     string    `json:"state,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
