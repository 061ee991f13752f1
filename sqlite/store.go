// Package sqlite keeps the search history in a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/Tpgainz/companyatlas/atlas"
)

var _ atlas.History = (*Store)(nil)

const schema = `CREATE TABLE IF NOT EXISTS searches (
	id           TEXT PRIMARY KEY,
	query        TEXT NOT NULL,
	capability   TEXT NOT NULL,
	backend_used TEXT NOT NULL DEFAULT '',
	total        INTEGER NOT NULL DEFAULT 0,
	errors       TEXT NOT NULL DEFAULT '[]',
	created_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS searches_created_at_idx ON searches (created_at DESC);`

// timeLayout sorts lexically in chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

type Store struct {
	db   *sql.DB
	path string
}

// DefaultPath is ~/.companyatlas/history.db.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}

	return filepath.Join(home, ".companyatlas", "history.db"), nil
}

// Open opens or creates the database at path. An empty path means
// DefaultPath.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		var err error

		path, err = DefaultPath()
		if err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Record(ctx context.Context, outcome atlas.Outcome) error {
	entry := outcome.Entry()

	errs, err := json.Marshal(entry.Errors)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO searches (id, query, capability, backend_used, total, errors, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Query, entry.Capability, entry.BackendUsed, entry.Total, string(errs),
		entry.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("failed to save search: %w", err)
	}

	return nil
}

func (s *Store) Recent(ctx context.Context, limit int) ([]atlas.HistoryEntry, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, query, capability, backend_used, total, errors, created_at
		FROM searches ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list searches: %w", err)
	}
	defer rows.Close()

	var entries []atlas.HistoryEntry

	for rows.Next() {
		var (
			entry     atlas.HistoryEntry
			errs      string
			createdAt string
		)

		if err := rows.Scan(&entry.ID, &entry.Query, &entry.Capability, &entry.BackendUsed,
			&entry.Total, &errs, &createdAt); err != nil {
			return nil, err
		}

		if err := json.Unmarshal([]byte(errs), &entry.Errors); err != nil {
			return nil, fmt.Errorf("decoding errors of search %s: %w", entry.ID, err)
		}

		entry.CreatedAt, err = time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at of search %s: %w", entry.ID, err)
		}

		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}
