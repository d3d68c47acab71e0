package database

import (
	"context"
	"fmt"
)

// Session runs access-check queries directly against the SQLite pool.
//
// SQLite has no roles or row-level security, so every caller sees the same
// rows; the session exists so development setups exercise the same access
// pipeline as Postgres deployments.
type Session struct {
	db   *DB
	role string
}

// Session returns a query session tagged with role. The role is recorded
// for logging only.
func (db *DB) Session(role string) *Session {
	return &Session{db: db, role: role}
}

// Role returns the role the session was opened for.
func (s *Session) Role() string {
	return s.role
}

// CountRows runs query and returns the number of rows it produced.
func (s *Session) CountRows(ctx context.Context, query string, args ...any) (int, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("running access query: %w", err)
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		n++
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("reading access query rows: %w", err)
	}
	return n, nil
}
