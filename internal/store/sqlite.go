package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/sportsfeed/internal/model"
	"github.com/sells-group/sportsfeed/internal/quality"
)

// SQLiteStore implements Store using modernc.org/sqlite. Timestamps are
// stored as Unix milliseconds.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
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
CREATE TABLE IF NOT EXISTS snapshots (
	id         TEXT PRIMARY KEY,
	query_key  TEXT NOT NULL,
	domain     TEXT NOT NULL,
	source     TEXT NOT NULL,
	payload    TEXT NOT NULL,
	fetched_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS quality_reports (
	id          TEXT PRIMARY KEY,
	domain      TEXT NOT NULL,
	source      TEXT NOT NULL DEFAULT '',
	confidence  REAL NOT NULL,
	trust_level TEXT NOT NULL,
	report      TEXT NOT NULL,
	created_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_snapshots_key_fetched ON snapshots(query_key, fetched_at);
CREATE INDEX IF NOT EXISTS idx_quality_reports_domain_created ON quality_reports(domain, created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	prepareSnapshot(snap)
	payload, err := json.Marshal(snap.Payload)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal payload")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO snapshots (id, query_key, domain, source, payload, fetched_at) VALUES (?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.Key, string(snap.Domain), snap.Source, string(payload), snap.FetchedAt.UnixMilli(),
	)
	return eris.Wrapf(err, "sqlite: insert snapshot %s", snap.Key)
}

func (s *SQLiteStore) LatestSnapshot(ctx context.Context, key string) (*Snapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, query_key, domain, source, payload, fetched_at FROM snapshots WHERE query_key = ? ORDER BY fetched_at DESC LIMIT 1`,
		key,
	)
	var (
		snap    Snapshot
		domain  string
		payload string
		fetched int64
	)
	err := row.Scan(&snap.ID, &snap.Key, &domain, &snap.Source, &payload, &fetched)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get snapshot %s", key)
	}
	snap.Domain = model.Domain(domain)
	snap.FetchedAt = time.UnixMilli(fetched).UTC()
	if snap.Payload, err = decodePayload([]byte(payload)); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *SQLiteStore) PruneSnapshots(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE fetched_at < ?`, before.UnixMilli())
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prune snapshots")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: rows affected")
	}
	return n, nil
}

func (s *SQLiteStore) SaveReport(ctx context.Context, r quality.Report) error {
	prepareReport(&r)
	body, err := json.Marshal(r)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal report")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO quality_reports (id, domain, source, confidence, trust_level, report, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, string(r.Domain), r.Source, r.Confidence, string(r.TrustLevel), string(body), r.CreatedAt.UnixMilli(),
	)
	return eris.Wrapf(err, "sqlite: insert report %s", r.ID)
}

func (s *SQLiteStore) ListReports(ctx context.Context, f ReportFilter) ([]quality.Report, error) {
	q := `SELECT report FROM quality_reports WHERE created_at >= ?`
	args := []any{f.Since.UnixMilli()}
	if f.Since.IsZero() {
		args[0] = int64(0)
	}
	if f.Domain != "" {
		q += ` AND domain = ?`
		args = append(args, string(f.Domain))
	}
	q += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, f.limit())

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list reports")
	}
	defer rows.Close() //nolint:errcheck

	var out []quality.Report
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan report")
		}
		r, err := decodeReport([]byte(body))
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate reports")
}

func prepareSnapshot(s *Snapshot) {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.FetchedAt.IsZero() {
		s.FetchedAt = time.Now()
	}
	s.FetchedAt = s.FetchedAt.UTC()
}

func prepareReport(r *quality.Report) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
}

func decodePayload(data []byte) (*model.Payload, error) {
	var p model.Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, eris.Wrap(err, "store: decode payload")
	}
	return &p, nil
}

func decodeReport(data []byte) (quality.Report, error) {
	var r quality.Report
	if err := json.Unmarshal(data, &r); err != nil {
		return r, eris.Wrap(err, "store: decode report")
	}
	return r, nil
}
