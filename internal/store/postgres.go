package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/sportsfeed/internal/model"
	"github.com/sells-group/sportsfeed/internal/quality"
)

// Pool is the subset of pgxpool.Pool the store uses.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
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
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS snapshots (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	query_key  TEXT NOT NULL,
	domain     TEXT NOT NULL,
	source     TEXT NOT NULL,
	payload    JSONB NOT NULL,
	fetched_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS quality_reports (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	domain      TEXT NOT NULL,
	source      TEXT NOT NULL DEFAULT '',
	confidence  DOUBLE PRECISION NOT NULL,
	trust_level TEXT NOT NULL,
	report      JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_snapshots_key_fetched ON snapshots(query_key, fetched_at DESC);
CREATE INDEX IF NOT EXISTS idx_quality_reports_domain_created ON quality_reports(domain, created_at DESC);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	prepareSnapshot(snap)
	payload, err := json.Marshal(snap.Payload)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal payload")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO snapshots (id, query_key, domain, source, payload, fetched_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		snap.ID, snap.Key, string(snap.Domain), snap.Source, payload, snap.FetchedAt,
	)
	return eris.Wrapf(err, "postgres: insert snapshot %s", snap.Key)
}

func (s *PostgresStore) LatestSnapshot(ctx context.Context, key string) (*Snapshot, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, query_key, domain, source, payload, fetched_at FROM snapshots WHERE query_key = $1 ORDER BY fetched_at DESC LIMIT 1`,
		key,
	)
	var (
		snap    Snapshot
		domain  string
		payload []byte
	)
	err := row.Scan(&snap.ID, &snap.Key, &domain, &snap.Source, &payload, &snap.FetchedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get snapshot %s", key)
	}
	snap.Domain = model.Domain(domain)
	snap.FetchedAt = snap.FetchedAt.UTC()
	if snap.Payload, err = decodePayload(payload); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *PostgresStore) PruneSnapshots(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM snapshots WHERE fetched_at < $1`, before)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: prune snapshots")
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) SaveReport(ctx context.Context, r quality.Report) error {
	prepareReport(&r)
	body, err := json.Marshal(r)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal report")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO quality_reports (id, domain, source, confidence, trust_level, report, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ID, string(r.Domain), r.Source, r.Confidence, string(r.TrustLevel), body, r.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert report %s", r.ID)
}

func (s *PostgresStore) ListReports(ctx context.Context, f ReportFilter) ([]quality.Report, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT report FROM quality_reports
		WHERE ($1 = '' OR domain = $1) AND created_at >= $2
		ORDER BY created_at DESC LIMIT $3`,
		string(f.Domain), f.Since, f.limit(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list reports")
	}
	defer rows.Close()

	var out []quality.Report
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, eris.Wrap(err, "postgres: scan report")
		}
		r, err := decodeReport(body)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate reports")
}
