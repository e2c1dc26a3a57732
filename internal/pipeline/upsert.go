package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/carefinder-cli/internal/model"
	"github.com/sells-group/carefinder-cli/internal/store"
)

// Outcome is what an upsert did.
type Outcome string

const (
	OutcomeInserted Outcome = "inserted"
	OutcomeUpdated  Outcome = "updated"
	OutcomeSkipped  Outcome = "skipped"
)

// Clinic existence keys.
const (
	ClinicKeyName        = "name"
	ClinicKeyNameAddress = "name_address"
)

// Upserter decides insert versus update by natural key and writes through to
// the store. Writes are never retried.
type Upserter struct {
	store     store.Store
	clinicKey string
	now       func() time.Time
}

// NewUpserter creates an Upserter. clinicKey is ClinicKeyName (default) or
// ClinicKeyNameAddress.
func NewUpserter(st store.Store, clinicKey string, now func() time.Time) *Upserter {
	if clinicKey != ClinicKeyNameAddress {
		clinicKey = ClinicKeyName
	}
	if now == nil {
		now = time.Now
	}
	return &Upserter{store: st, clinicKey: clinicKey, now: now}
}

// LegalResult describes a legal-info upsert. Previous is the row as it was
// before an update, nil after an insert.
type LegalResult struct {
	Outcome  Outcome
	Record   *model.StoredLegalInfo
	Previous *model.StoredLegalInfo
}

// UpsertLegalInfo writes info for the state name. An existing row has every
// content field replaced and LastVerified refreshed; otherwise a row is
// inserted with fresh timestamps.
func (u *Upserter) UpsertLegalInfo(ctx context.Context, state string, info model.LegalInfo) (*LegalResult, error) {
	existing, err := u.store.FindLegalInfo(ctx, state)
	if err != nil {
		return nil, eris.Wrapf(err, "upsert: find legal info %s", state)
	}

	now := u.now().UTC()
	if existing != nil {
		prev := *existing
		rec := *existing
		rec.LegalInfo = info
		rec.LastVerified = now
		rec.UpdatedAt = now
		if err := u.store.UpdateLegalInfo(ctx, &rec); err != nil {
			return nil, eris.Wrapf(err, "upsert: update legal info %s", state)
		}
		zap.L().Info("upsert: legal info updated", zap.String("state", state))
		return &LegalResult{Outcome: OutcomeUpdated, Record: &rec, Previous: &prev}, nil
	}

	rec := &model.StoredLegalInfo{
		State:         state,
		LegalInfo:     info,
		EffectiveDate: now,
		LastVerified:  now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := u.store.InsertLegalInfo(ctx, rec); err != nil {
		return nil, eris.Wrapf(err, "upsert: insert legal info %s", state)
	}
	zap.L().Info("upsert: legal info inserted", zap.String("state", state))
	return &LegalResult{Outcome: OutcomeInserted, Record: rec}, nil
}

// UpsertClinic inserts c unless a clinic with the same key already exists,
// in which case nothing is written.
func (u *Upserter) UpsertClinic(ctx context.Context, c model.Clinic) (Outcome, error) {
	filter := store.ClinicFilter{Name: c.Name}
	if u.clinicKey == ClinicKeyNameAddress {
		filter.Address = c.Address
	}

	existing, err := u.store.FindClinic(ctx, filter)
	if err != nil {
		return "", eris.Wrapf(err, "upsert: find clinic %q", c.Name)
	}
	if existing != nil {
		zap.L().Info("upsert: clinic already exists",
			zap.String("name", c.Name),
			zap.String("id", existing.ID),
		)
		return OutcomeSkipped, nil
	}

	now := u.now().UTC()
	rec := &model.StoredClinic{Clinic: c, CreatedAt: now, UpdatedAt: now}
	if err := u.store.InsertClinic(ctx, rec); err != nil {
		return "", eris.Wrapf(err, "upsert: insert clinic %q", c.Name)
	}
	return OutcomeInserted, nil
}
