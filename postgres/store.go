// Package postgres keeps the search history in PostgreSQL through the pgx
// database/sql driver.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/Tpgainz/companyatlas/atlas"
)

var _ atlas.History = (*Store)(nil)

type Store struct {
	db *sql.DB
}

// Open connects to dsn and creates the searches table if needed.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := New(db)

	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Migrate(ctx context.Context) error {
	for _, q := range []string{createSearchesTable, createSearchesIndex} {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
	}

	return nil
}

func (s *Store) Record(ctx context.Context, outcome atlas.Outcome) error {
	entry := outcome.Entry()

	errs, err := json.Marshal(entry.Errors)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, insertSearch,
		entry.ID, entry.Query, entry.Capability, entry.BackendUsed, entry.Total, string(errs), entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save search: %w", err)
	}

	slog.Debug(fmt.Sprintf("Saved search %s", entry.ID))

	return nil
}

func (s *Store) Recent(ctx context.Context, limit int) ([]atlas.HistoryEntry, error) {
	return s.Query(ctx, NewRecentSearchesQuery(limit))
}

func (s *Store) Query(ctx context.Context, q *RecentSearchesQuery) ([]atlas.HistoryEntry, error) {
	query, args, ok := q.Build()
	if !ok {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list searches: %w", err)
	}
	defer rows.Close()

	var entries []atlas.HistoryEntry

	for rows.Next() {
		var (
			entry atlas.HistoryEntry
			errs  []byte
		)

		if err := rows.Scan(&entry.ID, &entry.Query, &entry.Capability, &entry.BackendUsed,
			&entry.Total, &errs, &entry.CreatedAt); err != nil {
			return nil, err
		}

		if err := json.Unmarshal(errs, &entry.Errors); err != nil {
			return nil, fmt.Errorf("decoding errors of search %s: %w", entry.ID, err)
		}

		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}
