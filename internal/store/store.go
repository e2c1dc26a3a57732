// Package store persists legal-information rows, clinics, and notification
// subscriptions.
package store

import (
	"context"

	"github.com/sells-group/carefinder-cli/internal/model"
)

// ClinicFilter narrows clinic lookups. Empty fields match everything.
type ClinicFilter struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address,omitempty"`
	State   string `json:"state,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

// Store is the record store behind the ingestion pipeline and the read API.
// Find methods return nil and no error when nothing matches.
type Store interface {
	// Legal information, keyed by state name.
	FindLegalInfo(ctx context.Context, state string) (*model.StoredLegalInfo, error)
	ListLegalInfo(ctx context.Context) ([]model.StoredLegalInfo, error)
	CountLegalInfo(ctx context.Context) (int, error)
	InsertLegalInfo(ctx context.Context, rec *model.StoredLegalInfo) error
	UpdateLegalInfo(ctx context.Context, rec *model.StoredLegalInfo) error

	// Clinics
	FindClinic(ctx context.Context, filter ClinicFilter) (*model.StoredClinic, error)
	ListClinics(ctx context.Context, filter ClinicFilter) ([]model.StoredClinic, error)
	CountClinics(ctx context.Context) (int, error)
	InsertClinic(ctx context.Context, rec *model.StoredClinic) error

	// Notification subscriptions
	AddSubscription(ctx context.Context, sub *model.Subscription) error
	ListSubscriptions(ctx context.Context, state string) ([]model.Subscription, error)
	DeleteSubscription(ctx context.Context, id string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 1000

func listLimit(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	return n
}

var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
