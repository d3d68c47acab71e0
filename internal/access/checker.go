package access

import (
	"context"
	"fmt"
	"regexp"

	"github.com/nerrad567/pglive/internal/changeevent"
)

// Session runs queries with the subscriber's privileges.
type Session interface {
	// CountRows runs query and returns how many rows it produced.
	CountRows(ctx context.Context, query string, args ...any) (int, error)
}

var identifierPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Checker builds and runs row visibility queries.
type Checker struct {
	idColumn string
	schema   string
}

// NewChecker returns a Checker selecting idColumn, optionally qualifying
// tables with schema. Both names go through the same translation as event
// names.
func NewChecker(idColumn, schema string) (*Checker, error) {
	id := changeevent.StorageName(idColumn)
	if !identifierPattern.MatchString(id) {
		return nil, fmt.Errorf("%w: id column %q", ErrInvalidIdentifier, idColumn)
	}
	var sc string
	if schema != "" {
		sc = changeevent.StorageName(schema)
		if !identifierPattern.MatchString(sc) {
			return nil, fmt.Errorf("%w: schema %q", ErrInvalidIdentifier, schema)
		}
	}
	return &Checker{idColumn: id, schema: sc}, nil
}

// Query returns the visibility query for ev and its single argument.
func (c *Checker) Query(ev changeevent.Event) (string, []any, error) {
	table := changeevent.StorageName(ev.Table)
	if !identifierPattern.MatchString(table) {
		return "", nil, fmt.Errorf("%w: table %q", ErrInvalidIdentifier, ev.Table)
	}
	column := changeevent.StorageName(ev.Column)
	if !identifierPattern.MatchString(column) {
		return "", nil, fmt.Errorf("%w: column %q", ErrInvalidIdentifier, ev.Column)
	}

	from := quote(table)
	if c.schema != "" {
		from = quote(c.schema) + "." + from
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1 LIMIT 1", quote(c.idColumn), from, quote(column))
	return query, []any{ev.Value}, nil
}

// Allowed reports whether the session can see the row ev refers to.
// Irrelevant events are not row changes and are always allowed. A false
// result may come with the error that caused the denial.
func (c *Checker) Allowed(ctx context.Context, s Session, ev changeevent.Event) (bool, error) {
	if !ev.IsRelevant {
		return true, nil
	}
	if s == nil {
		return false, ErrNoSession
	}
	query, args, err := c.Query(ev)
	if err != nil {
		return false, err
	}
	n, err := s.CountRows(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("checking %s.%s: %w", ev.Table, ev.Column, err)
	}
	return n == 1, nil
}

// quote wraps an already validated identifier in double quotes.
func quote(ident string) string {
	return `"` + ident + `"`
}
