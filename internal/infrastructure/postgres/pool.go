package postgres

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nerrad567/pglive/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second

	defaultClaimsPrefix = "jwt.claims"
)

// Pool wraps a pgx connection pool.
type Pool struct {
	pool         *pgxpool.Pool
	claimsPrefix string
}

// Open creates the pool and verifies connectivity.
func Open(ctx context.Context, cfg config.PostgresConfig) (*Pool, error) {
	if cfg.URL == "" {
		return nil, ErrNoURL
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns) //nolint:gosec // Validated by config
	}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: ping: %w", ErrConnectionFailed, err)
	}

	prefix := cfg.ClaimsPrefix
	if prefix == "" {
		prefix = defaultClaimsPrefix
	}
	return &Pool{pool: pool, claimsPrefix: prefix}, nil
}

// Close closes every connection in the pool.
func (p *Pool) Close() {
	if p != nil && p.pool != nil {
		p.pool.Close()
	}
}

// HealthCheck pings the server.
func (p *Pool) HealthCheck(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres health check failed: %w", err)
	}
	return nil
}

// Session returns a query session that runs as role with claims exposed
// under the configured prefix. Only scalar claim values are forwarded.
func (p *Pool) Session(role string, claims map[string]any) (*Session, error) {
	if role == "" {
		return nil, ErrNoRole
	}
	settings := make([]setting, 0, len(claims)+1)
	settings = append(settings, setting{name: "role", value: role})

	keys := make([]string, 0, len(claims))
	for k := range claims {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v, ok := scalar(claims[k])
		if !ok {
			continue
		}
		settings = append(settings, setting{name: p.claimsPrefix + "." + k, value: v})
	}

	return &Session{pool: p.pool, role: role, settings: settings}, nil
}

type setting struct {
	name  string
	value string
}

// Session runs access-check queries inside a role-scoped transaction.
type Session struct {
	pool     *pgxpool.Pool
	role     string
	settings []setting
}

// Role returns the database role queries run as.
func (s *Session) Role() string {
	return s.role
}

// CountRows runs query in a read-only transaction scoped to the session's
// role and claims, and returns how many rows it produced. The transaction is
// always rolled back.
func (s *Session) CountRows(ctx context.Context, query string, args ...any) (int, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return 0, fmt.Errorf("beginning access transaction: %w", err)
	}
	defer tx.Rollback(context.WithoutCancel(ctx)) //nolint:errcheck // Always rolled back

	for _, st := range s.settings {
		if _, err := tx.Exec(ctx, "SELECT set_config($1, $2, true)", st.name, st.value); err != nil {
			return 0, fmt.Errorf("applying %s: %w", st.name, err)
		}
	}

	rows, err := tx.Query(ctx, query, args...)
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
