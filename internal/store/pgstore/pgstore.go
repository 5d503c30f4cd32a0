// Package pgstore implements [store.Store] on PostgreSQL.
//
// Entries keep their insertion order through a BIGSERIAL position column;
// replacing an entry by ID keeps its original position.
package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/dictoxa/internal/store"
	"github.com/MrWong99/dictoxa/internal/textproc"
)

// Schema is the SQL DDL for the dictionary tables. Execute it via
// [Store.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS dictionary_entries (
    id             TEXT PRIMARY KEY,
    position       BIGSERIAL NOT NULL,
    pattern        TEXT NOT NULL,
    replacement    TEXT NOT NULL DEFAULT '',
    case_sensitive BOOLEAN NOT NULL DEFAULT false,
    whole_word     BOOLEAN NOT NULL DEFAULT true,
    enabled        BOOLEAN NOT NULL DEFAULT true,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_dictionary_entries_position ON dictionary_entries(position);

CREATE TABLE IF NOT EXISTS snippets (
    id             TEXT PRIMARY KEY,
    trigger        TEXT NOT NULL,
    expansion      TEXT NOT NULL,
    case_sensitive BOOLEAN NOT NULL DEFAULT false,
    enabled        BOOLEAN NOT NULL DEFAULT true,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// DB is the database interface used by [Store]. Both *pgxpool.Pool and
// *pgx.Conn satisfy it.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store is a PostgreSQL-backed [store.Store].
type Store struct {
	db   DB
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// New wraps an existing connection or pool. The caller owns db and must run
// [Store.Migrate] before issuing queries.
func New(db DB) *Store {
	return &Store{db: db}
}

// Open connects a pool to dsn, verifies connectivity and applies [Schema].
// [Store.Close] closes the pool.
func Open(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pgstore: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgstore: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore: ping: %w", err)
	}

	s := &Store{db: pool, pool: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate executes the [Schema] DDL.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("pgstore: migrate: %w", err)
	}
	return nil
}

// Entries implements [store.Store].
func (s *Store) Entries(ctx context.Context) ([]textproc.Entry, error) {
	const query = `
		SELECT id, pattern, replacement, case_sensitive, whole_word, enabled
		FROM dictionary_entries
		ORDER BY position`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("pgstore: entries: %w", err)
	}
	defer rows.Close()

	var entries []textproc.Entry
	for rows.Next() {
		var e textproc.Entry
		if err := rows.Scan(&e.ID, &e.Pattern, &e.Replacement, &e.CaseSensitive, &e.WholeWord, &e.Enabled); err != nil {
			return nil, fmt.Errorf("pgstore: entries scan: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgstore: entries: %w", err)
	}
	return entries, nil
}

// Snippets implements [store.Store].
func (s *Store) Snippets(ctx context.Context) ([]textproc.Snippet, error) {
	const query = `
		SELECT id, trigger, expansion, case_sensitive, enabled
		FROM snippets
		ORDER BY created_at, id`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("pgstore: snippets: %w", err)
	}
	defer rows.Close()

	var snippets []textproc.Snippet
	for rows.Next() {
		var sn textproc.Snippet
		if err := rows.Scan(&sn.ID, &sn.Trigger, &sn.Expansion, &sn.CaseSensitive, &sn.Enabled); err != nil {
			return nil, fmt.Errorf("pgstore: snippets scan: %w", err)
		}
		snippets = append(snippets, sn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgstore: snippets: %w", err)
	}
	return snippets, nil
}

// AddEntry implements [store.Store] as an upsert keyed by ID.
func (s *Store) AddEntry(ctx context.Context, e textproc.Entry) (textproc.Entry, error) {
	e, err := store.Prepare(e)
	if err != nil {
		return e, err
	}

	const query = `
		INSERT INTO dictionary_entries (id, pattern, replacement, case_sensitive, whole_word, enabled)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			pattern = EXCLUDED.pattern,
			replacement = EXCLUDED.replacement,
			case_sensitive = EXCLUDED.case_sensitive,
			whole_word = EXCLUDED.whole_word,
			enabled = EXCLUDED.enabled,
			updated_at = now()`

	if _, err := s.db.Exec(ctx, query, e.ID, e.Pattern, e.Replacement, e.CaseSensitive, e.WholeWord, e.Enabled); err != nil {
		if isCheckViolation(err) {
			return e, fmt.Errorf("%w: %v", store.ErrInvalidEntry, err)
		}
		return e, fmt.Errorf("pgstore: add entry %q: %w", e.ID, err)
	}
	return e, nil
}

// Ping checks connectivity. Stores created with [New] report nil.
func (s *Store) Ping(ctx context.Context) error {
	if s.pool == nil {
		return nil
	}
	return s.pool.Ping(ctx)
}

// Close closes the pool opened by [Open]. It is a no-op for stores created
// with [New].
func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// isCheckViolation reports SQLSTATE 23502 (not null) or 23514 (check).
func isCheckViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23502" || pgErr.Code == "23514"
	}
	return false
}
