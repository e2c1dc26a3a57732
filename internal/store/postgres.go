package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/ewkb"

	"github.com/sells-group/carefinder-cli/internal/db"
	"github.com/sells-group/carefinder-cli/internal/model"
)

// PostgresStore implements Store using pgxpool. Clinic locations are kept in
// a PostGIS point column next to the plain coordinates.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE EXTENSION IF NOT EXISTS postgis;

CREATE TABLE IF NOT EXISTS legal_info (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	state          TEXT NOT NULL UNIQUE,
	data           JSONB NOT NULL,
	effective_date TIMESTAMPTZ NOT NULL,
	last_verified  TIMESTAMPTZ NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS clinics (
	id                 TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name               TEXT NOT NULL,
	address            TEXT NOT NULL,
	state              TEXT NOT NULL,
	phone              TEXT NOT NULL,
	services           JSONB NOT NULL DEFAULT '[]',
	accepted_insurance JSONB NOT NULL DEFAULT '[]',
	latitude           DOUBLE PRECISION NOT NULL,
	longitude          DOUBLE PRECISION NOT NULL,
	location           geometry(Point, 4326),
	source             TEXT NOT NULL DEFAULT '',
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS subscriptions (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	endpoint   TEXT NOT NULL UNIQUE,
	state      TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_clinics_name ON clinics(name);
CREATE INDEX IF NOT EXISTS idx_clinics_state ON clinics(state);
CREATE INDEX IF NOT EXISTS idx_clinics_location ON clinics USING GIST(location);
CREATE INDEX IF NOT EXISTS idx_subscriptions_state ON subscriptions(state);
`

// Migrate creates the schema in one transaction.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, postgresMigration)
		return err
	})
	return eris.Wrap(err, "postgres: migrate")
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) FindLegalInfo(ctx context.Context, state string) (*model.StoredLegalInfo, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+legalColumns+` FROM legal_info WHERE state = $1`, state)
	rec, err := scanLegalInfo(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: find legal info %s", state)
	}
	return rec, nil
}

func (s *PostgresStore) ListLegalInfo(ctx context.Context) ([]model.StoredLegalInfo, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+legalColumns+` FROM legal_info ORDER BY state`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list legal info")
	}
	defer rows.Close()

	var out []model.StoredLegalInfo
	for rows.Next() {
		rec, err := scanLegalInfo(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan legal info")
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list legal info iterate")
}

func (s *PostgresStore) CountLegalInfo(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM legal_info`).Scan(&n)
	return n, eris.Wrap(err, "postgres: count legal info")
}

func (s *PostgresStore) InsertLegalInfo(ctx context.Context, rec *model.StoredLegalInfo) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO legal_info (`+legalColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, rec.State, rec.LegalInfo, rec.EffectiveDate, rec.LastVerified, rec.CreatedAt, rec.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: insert legal info %s", rec.State)
}

func (s *PostgresStore) UpdateLegalInfo(ctx context.Context, rec *model.StoredLegalInfo) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE legal_info SET data = $1, last_verified = $2, updated_at = $3 WHERE state = $4`,
		rec.LegalInfo, rec.LastVerified, rec.UpdatedAt, rec.State,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update legal info %s", rec.State)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("legal info not found: %s", rec.State)
	}
	return nil
}

func (s *PostgresStore) FindClinic(ctx context.Context, filter ClinicFilter) (*model.StoredClinic, error) {
	filter.Limit = 1
	query, args := clinicQuery(filter, postgresPlaceholder)
	rec, err := scanClinic(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: find clinic %q", filter.Name)
	}
	return rec, nil
}

func (s *PostgresStore) ListClinics(ctx context.Context, filter ClinicFilter) ([]model.StoredClinic, error) {
	query, args := clinicQuery(filter, postgresPlaceholder)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list clinics")
	}
	defer rows.Close()

	var out []model.StoredClinic
	for rows.Next() {
		rec, err := scanClinic(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan clinic")
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list clinics iterate")
}

func (s *PostgresStore) CountClinics(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM clinics`).Scan(&n)
	return n, eris.Wrap(err, "postgres: count clinics")
}

func (s *PostgresStore) InsertClinic(ctx context.Context, rec *model.StoredClinic) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	services, insurance, err := marshalClinicLists(rec.Clinic)
	if err != nil {
		return err
	}
	location, err := ewkb.Marshal(rec.Point(), ewkb.NDR)
	if err != nil {
		return eris.Wrapf(err, "postgres: encode location for %q", rec.Name)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO clinics (`+clinicColumns+`, location)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, ST_GeomFromEWKB($13))`,
		rec.ID, rec.Name, rec.Address, rec.State, rec.Phone, services, insurance,
		rec.Latitude, rec.Longitude, rec.Source, rec.CreatedAt, rec.UpdatedAt, location,
	)
	return eris.Wrapf(err, "postgres: insert clinic %q", rec.Name)
}

func (s *PostgresStore) AddSubscription(ctx context.Context, sub *model.Subscription) error {
	if sub.ID == "" {
		sub.ID = uuid.New().String()
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO subscriptions (id, endpoint, state, created_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (endpoint) DO UPDATE SET state = excluded.state
		 RETURNING id, created_at`,
		sub.ID, sub.Endpoint, sub.State, sub.CreatedAt,
	).Scan(&sub.ID, &sub.CreatedAt)
	return eris.Wrapf(err, "postgres: add subscription %s", sub.Endpoint)
}

func (s *PostgresStore) ListSubscriptions(ctx context.Context, state string) ([]model.Subscription, error) {
	query := `SELECT id, endpoint, state, created_at FROM subscriptions`
	var args []any
	if state != "" {
		query += ` WHERE state = '' OR state = $1`
		args = append(args, state)
	}
	query += ` ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list subscriptions")
	}
	defer rows.Close()

	var out []model.Subscription
	for rows.Next() {
		var sub model.Subscription
		if err := rows.Scan(&sub.ID, &sub.Endpoint, &sub.State, &sub.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan subscription")
		}
		out = append(out, sub)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list subscriptions iterate")
}

func (s *PostgresStore) DeleteSubscription(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM subscriptions WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete subscription %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("subscription not found: %s", id)
	}
	return nil
}
