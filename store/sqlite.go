package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Compile-time interface check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore is a persistent Store backed by SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path and
// initialises the schema. Use ":memory:" for an in-memory SQLite database.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("throttle/store: open sqlite: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serialises
	// writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS throttle_buckets (
			scope      TEXT NOT NULL,
			resource   TEXT NOT NULL,
			rate       REAL NOT NULL,
			capacity   REAL NOT NULL,
			tokens     REAL NOT NULL,
			spent      REAL NOT NULL DEFAULT 0,
			adaptive   INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (scope, resource)
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("throttle/store: create table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Save upserts st.
func (s *SQLiteStore) Save(ctx context.Context, st State) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO throttle_buckets (scope, resource, rate, capacity, tokens, spent, adaptive, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(scope, resource) DO UPDATE SET
			rate = excluded.rate,
			capacity = excluded.capacity,
			tokens = excluded.tokens,
			spent = excluded.spent,
			adaptive = excluded.adaptive,
			updated_at = excluded.updated_at
	`, st.Scope, st.Resource, st.Rate, st.Capacity, st.Tokens, st.Spent, st.Adaptive, st.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("throttle/store: save: %w", err)
	}
	return nil
}

// Load returns the saved state for scope and resource.
func (s *SQLiteStore) Load(ctx context.Context, scope, resource string) (State, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT scope, resource, rate, capacity, tokens, spent, adaptive, updated_at
		FROM throttle_buckets
		WHERE scope = ? AND resource = ?
	`, scope, resource)

	st, err := scanState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, fmt.Errorf("throttle/store: load: %w", err)
	}
	return st, true, nil
}

// List returns the states whose scope starts with prefix.
func (s *SQLiteStore) List(ctx context.Context, prefix string) ([]State, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT scope, resource, rate, capacity, tokens, spent, adaptive, updated_at
		FROM throttle_buckets
		WHERE substr(scope, 1, length(?)) = ?
		ORDER BY scope, resource
	`, prefix, prefix)
	if err != nil {
		return nil, fmt.Errorf("throttle/store: list: %w", err)
	}
	defer rows.Close()

	var out []State
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, fmt.Errorf("throttle/store: list: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// Reset removes every state saved for scope.
func (s *SQLiteStore) Reset(ctx context.Context, scope string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM throttle_buckets WHERE scope = ?`, scope)
	return err
}

// Close closes the underlying SQLite database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanState(row scanner) (State, error) {
	var (
		st        State
		updatedAt int64
	)
	if err := row.Scan(&st.Scope, &st.Resource, &st.Rate, &st.Capacity, &st.Tokens, &st.Spent, &st.Adaptive, &updatedAt); err != nil {
		return State{}, err
	}
	st.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return st, nil
}
