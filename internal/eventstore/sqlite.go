package eventstore

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS history (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	batch_id TEXT    NOT NULL,
	type     TEXT    NOT NULL,
	package  TEXT    NOT NULL DEFAULT '',
	at_ms    INTEGER NOT NULL,
	payload  BLOB    NOT NULL
);
CREATE INDEX IF NOT EXISTS history_batch ON history(batch_id);
CREATE INDEX IF NOT EXISTS history_at ON history(at_ms);
CREATE INDEX IF NOT EXISTS history_package ON history(package, id);
`

const selectColumns = `SELECT id, batch_id, type, package, at_ms, payload FROM history`

// SQLiteStore is the Store behind history.path. ":memory:" keeps history for
// the life of the process only.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the database at path and its parent directory.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, storeError(err, "could not create history directory")
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, storeError(err, "could not open history database")
	}
	// One connection: ":memory:" stays a single database and writes are serialized.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, storeError(err, "failed to create history schema")
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Append(ctx context.Context, e *Event) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO history (batch_id, type, package, at_ms, payload) VALUES (?, ?, ?, ?, ?)`,
		e.BatchID, e.Type, e.Package, e.At.UnixMilli(), e.Payload)
	if err != nil {
		return storeError(err, "failed to append history event")
	}
	if e.ID, err = res.LastInsertId(); err != nil {
		return storeError(err, "failed to read history event id")
	}
	return nil
}

func (s *SQLiteStore) Batch(ctx context.Context, batchID string) ([]Event, error) {
	return s.query(ctx, selectColumns+` WHERE batch_id = ? ORDER BY id`, batchID)
}

func (s *SQLiteStore) Since(ctx context.Context, from time.Time) ([]Event, error) {
	return s.query(ctx, selectColumns+` WHERE at_ms >= ? ORDER BY id`, from.UnixMilli())
}

func (s *SQLiteStore) Package(ctx context.Context, name string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = -1 // no LIMIT in SQLite
	}
	return s.query(ctx, selectColumns+` WHERE package = ? ORDER BY id DESC LIMIT ?`, name, limit)
}

func (s *SQLiteStore) query(ctx context.Context, q string, args ...any) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, storeError(err, "failed to query history")
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var atMS int64
		if err := rows.Scan(&e.ID, &e.BatchID, &e.Type, &e.Package, &atMS, &e.Payload); err != nil {
			return nil, storeError(err, "failed to read history row")
		}
		e.At = time.UnixMilli(atMS)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError(err, "failed to read history rows")
	}
	return out, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
