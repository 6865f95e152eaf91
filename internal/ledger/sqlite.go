package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rflorenc/content-migration-workbench/internal/models"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps the ledger in a SQLite database. Each Put is its own
// committed statement.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the ledger database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite ledger needs a path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating ledger dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}
	// One connection serializes writers.
	db.SetMaxOpenConns(1)
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS ledger (
        source_id TEXT PRIMARY KEY,
        remote_id INTEGER NOT NULL,
        content_hash TEXT NOT NULL,
        action TEXT NOT NULL,
        entity_type TEXT NOT NULL DEFAULT '',
        slug TEXT NOT NULL DEFAULT '',
        timestamp TEXT NOT NULL
    );`
	if _, err := s.db.ExecContext(context.Background(), query); err != nil {
		return fmt.Errorf("migrating ledger: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, sourceID string) (Entry, bool, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT remote_id, content_hash, action, entity_type, slug, timestamp
        FROM ledger
        WHERE source_id = ?`, sourceID)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("reading ledger entry %s: %w", sourceID, err)
	}
	return e, true, nil
}

func (s *SQLiteStore) All(ctx context.Context) (map[string]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT source_id, remote_id, content_hash, action, entity_type, slug, timestamp
        FROM ledger`)
	if err != nil {
		return nil, fmt.Errorf("listing ledger: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]Entry)
	for rows.Next() {
		var (
			id     string
			e      Entry
			action string
			ts     string
		)
		if err := rows.Scan(&id, &e.RemoteID, &e.ContentHash, &action, &e.EntityType, &e.Slug, &ts); err != nil {
			return nil, err
		}
		e.Action = models.Action(action)
		if e.Timestamp, err = parseTimestamp(ts); err != nil {
			return nil, fmt.Errorf("ledger entry %s: %w", id, err)
		}
		out[id] = e
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Put(ctx context.Context, sourceID string, e Entry) error {
	query := `INSERT INTO ledger (source_id, remote_id, content_hash, action, entity_type, slug, timestamp)
        VALUES (?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(source_id) DO UPDATE SET
            remote_id = excluded.remote_id,
            content_hash = excluded.content_hash,
            action = excluded.action,
            entity_type = excluded.entity_type,
            slug = excluded.slug,
            timestamp = excluded.timestamp`
	_, err := s.db.ExecContext(ctx, query,
		sourceID, e.RemoteID, e.ContentHash, string(e.Action), e.EntityType, e.Slug,
		e.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("%s: %v: %w", sourceID, err, ErrLedgerWrite)
	}
	return nil
}

// Flush is a no-op: every Put is committed.
func (s *SQLiteStore) Flush(context.Context) error { return nil }

func (s *SQLiteStore) Close() error { return s.db.Close() }

func scanEntry(row *sql.Row) (Entry, error) {
	var (
		e      Entry
		action string
		ts     string
	)
	if err := row.Scan(&e.RemoteID, &e.ContentHash, &action, &e.EntityType, &e.Slug, &ts); err != nil {
		return Entry{}, err
	}
	e.Action = models.Action(action)
	var err error
	if e.Timestamp, err = parseTimestamp(ts); err != nil {
		return Entry{}, err
	}
	return e, nil
}

func parseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}
