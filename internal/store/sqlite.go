package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/carefinder-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It is the default
// for local runs.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn in WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS legal_info (
	id             TEXT PRIMARY KEY,
	state          TEXT NOT NULL UNIQUE,
	data           TEXT NOT NULL,
	effective_date DATETIME NOT NULL,
	last_verified  DATETIME NOT NULL,
	created_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS clinics (
	id                 TEXT PRIMARY KEY,
	name               TEXT NOT NULL,
	address            TEXT NOT NULL,
	state              TEXT NOT NULL,
	phone              TEXT NOT NULL,
	services           TEXT NOT NULL DEFAULT '[]',
	accepted_insurance TEXT NOT NULL DEFAULT '[]',
	latitude           REAL NOT NULL,
	longitude          REAL NOT NULL,
	source             TEXT NOT NULL DEFAULT '',
	created_at         DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at         DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS subscriptions (
	id         TEXT PRIMARY KEY,
	endpoint   TEXT NOT NULL UNIQUE,
	state      TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_clinics_name ON clinics(name);
CREATE INDEX IF NOT EXISTS idx_clinics_state ON clinics(state);
CREATE INDEX IF NOT EXISTS idx_subscriptions_state ON subscriptions(state);
`

// Migrate creates the schema if it does not exist.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const legalColumns = `id, state, data, effective_date, last_verified, created_at, updated_at`

func (s *SQLiteStore) FindLegalInfo(ctx context.Context, state string) (*model.StoredLegalInfo, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+legalColumns+` FROM legal_info WHERE state = ?`, state)
	rec, err := scanLegalInfo(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: find legal info %s", state)
	}
	return rec, nil
}

func (s *SQLiteStore) ListLegalInfo(ctx context.Context) ([]model.StoredLegalInfo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+legalColumns+` FROM legal_info ORDER BY state`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list legal info")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.StoredLegalInfo
	for rows.Next() {
		rec, err := scanLegalInfo(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan legal info")
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list legal info iterate")
}

func (s *SQLiteStore) CountLegalInfo(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM legal_info`).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count legal info")
}

func (s *SQLiteStore) InsertLegalInfo(ctx context.Context, rec *model.StoredLegalInfo) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	data, err := json.Marshal(rec.LegalInfo)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal legal info")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO legal_info (`+legalColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.State, string(data), rec.EffectiveDate, rec.LastVerified, rec.CreatedAt, rec.UpdatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert legal info %s", rec.State)
}

func (s *SQLiteStore) UpdateLegalInfo(ctx context.Context, rec *model.StoredLegalInfo) error {
	data, err := json.Marshal(rec.LegalInfo)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal legal info")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE legal_info SET data = ?, last_verified = ?, updated_at = ? WHERE state = ?`,
		string(data), rec.LastVerified, rec.UpdatedAt, rec.State,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update legal info %s", rec.State)
	}
	return checkRowsAffected(res, "legal info", rec.State)
}

const clinicColumns = `id, name, address, state, phone, services, accepted_insurance, latitude, longitude, source, created_at, updated_at`

func (s *SQLiteStore) FindClinic(ctx context.Context, filter ClinicFilter) (*model.StoredClinic, error) {
	filter.Limit = 1
	query, args := clinicQuery(filter, sqlitePlaceholder)
	rec, err := scanClinic(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: find clinic %q", filter.Name)
	}
	return rec, nil
}

func (s *SQLiteStore) ListClinics(ctx context.Context, filter ClinicFilter) ([]model.StoredClinic, error) {
	query, args := clinicQuery(filter, sqlitePlaceholder)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list clinics")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.StoredClinic
	for rows.Next() {
		rec, err := scanClinic(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan clinic")
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list clinics iterate")
}

func (s *SQLiteStore) CountClinics(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM clinics`).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count clinics")
}

func (s *SQLiteStore) InsertClinic(ctx context.Context, rec *model.StoredClinic) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	services, insurance, err := marshalClinicLists(rec.Clinic)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO clinics (`+clinicColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Name, rec.Address, rec.State, rec.Phone, services, insurance,
		rec.Latitude, rec.Longitude, rec.Source, rec.CreatedAt, rec.UpdatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert clinic %q", rec.Name)
}

func (s *SQLiteStore) AddSubscription(ctx context.Context, sub *model.Subscription) error {
	if sub.ID == "" {
		sub.ID = uuid.New().String()
	}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO subscriptions (id, endpoint, state, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(endpoint) DO UPDATE SET state = excluded.state
		 RETURNING id, created_at`,
		sub.ID, sub.Endpoint, sub.State, sub.CreatedAt,
	).Scan(&sub.ID, &sub.CreatedAt)
	return eris.Wrapf(err, "sqlite: add subscription %s", sub.Endpoint)
}

func (s *SQLiteStore) ListSubscriptions(ctx context.Context, state string) ([]model.Subscription, error) {
	query := `SELECT id, endpoint, state, created_at FROM subscriptions`
	var args []any
	if state != "" {
		query += ` WHERE state = '' OR state = ?`
		args = append(args, state)
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list subscriptions")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Subscription
	for rows.Next() {
		var sub model.Subscription
		if err := rows.Scan(&sub.ID, &sub.Endpoint, &sub.State, &sub.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan subscription")
		}
		out = append(out, sub)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list subscriptions iterate")
}

func (s *SQLiteStore) DeleteSubscription(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete subscription %s", id)
	}
	return checkRowsAffected(res, "subscription", id)
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}
