// Package snapshot caches whole-table fetches from the statistics source
// in a local SQLite file, keyed by logical table name. A snapshot is
// written in a single upsert so concurrent readers never observe a
// partial file, and first-use population is deduplicated.
package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/upjong-lab/district-cli/internal/model"
)

// Store persists table snapshots in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore opens the snapshot database at the given path and configures
// WAL mode.
func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "snapshot: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "snapshot: exec %s", pragma)
		}
	}
	return &Store{db: db}, nil
}

// timeLayout is fixed-width so lexical comparison of stored timestamps
// matches chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const migration = `
CREATE TABLE IF NOT EXISTS table_snapshots (
	name       TEXT PRIMARY KEY,
	id         TEXT NOT NULL,
	rows       TEXT NOT NULL,
	row_count  INTEGER NOT NULL,
	fetched_at TEXT NOT NULL,
	expires_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_table_snapshots_expires_at ON table_snapshots(expires_at);
`

// Migrate creates the snapshot table.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, migration)
	return eris.Wrap(err, "snapshot: migrate")
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the cached rows for a table name, or ok=false when the
// snapshot is absent or expired.
func (s *Store) Get(ctx context.Context, name string) ([]model.MetricRow, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT rows FROM table_snapshots WHERE name = ? AND expires_at > ?`,
		name, time.Now().UTC().Format(timeLayout),
	)

	var rowsJSON string
	err := row.Scan(&rowsJSON)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrapf(err, "snapshot: get %s", name)
	}

	var rows []model.MetricRow
	if err := json.Unmarshal([]byte(rowsJSON), &rows); err != nil {
		return nil, false, eris.Wrapf(err, "snapshot: unmarshal %s", name)
	}
	return rows, true, nil
}

// Set stores a snapshot, replacing any previous one atomically.
func (s *Store) Set(ctx context.Context, name string, rows []model.MetricRow, ttl time.Duration) error {
	rowsJSON, err := json.Marshal(rows)
	if err != nil {
		return eris.Wrapf(err, "snapshot: marshal %s", name)
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO table_snapshots (name, id, rows, row_count, fetched_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (name) DO UPDATE SET
			id = excluded.id,
			rows = excluded.rows,
			row_count = excluded.row_count,
			fetched_at = excluded.fetched_at,
			expires_at = excluded.expires_at`,
		name, uuid.New().String(), string(rowsJSON), len(rows),
		now.Format(timeLayout), now.Add(ttl).Format(timeLayout),
	)
	return eris.Wrapf(err, "snapshot: set %s", name)
}

// Entry describes one cached snapshot for status listings.
type Entry struct {
	Name      string    `json:"name"`
	RowCount  int       `json:"row_count"`
	FetchedAt time.Time `json:"fetched_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Entries lists all snapshots, newest first.
func (s *Store) Entries(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, row_count, fetched_at, expires_at FROM table_snapshots ORDER BY fetched_at DESC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "snapshot: list entries")
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var fetched, expires string
		if err := rows.Scan(&e.Name, &e.RowCount, &fetched, &expires); err != nil {
			return nil, eris.Wrap(err, "snapshot: scan entry")
		}
		if e.FetchedAt, err = time.Parse(timeLayout, fetched); err != nil {
			return nil, eris.Wrap(err, "snapshot: parse fetched_at")
		}
		if e.ExpiresAt, err = time.Parse(timeLayout, expires); err != nil {
			return nil, eris.Wrap(err, "snapshot: parse expires_at")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "snapshot: iterate entries")
}

// Clear removes expired snapshots, or every snapshot when all is true.
// Returns the number of rows removed.
func (s *Store) Clear(ctx context.Context, all bool) (int, error) {
	query := `DELETE FROM table_snapshots WHERE expires_at <= ?`
	args := []any{time.Now().UTC().Format(timeLayout)}
	if all {
		query = `DELETE FROM table_snapshots`
		args = nil
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, eris.Wrap(err, "snapshot: clear")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "snapshot: rows affected")
}
