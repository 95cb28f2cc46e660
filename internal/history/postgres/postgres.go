// Package postgres is the PostgreSQL history backend, built on a pgx
// connection pool.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/toolweave/internal/history"
)

const schema = `
CREATE TABLE IF NOT EXISTS history_entries (
    id         BIGSERIAL   PRIMARY KEY,
    session_id TEXT        NOT NULL,
    role       TEXT        NOT NULL,
    content    TEXT        NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS history_entries_session ON history_entries (session_id, id);
`

var _ history.Store = (*Store)(nil)

// Store is a PostgreSQL-backed [history.Store]. All operations are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to the database at dsn, verifies connectivity and migrates
// the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("history postgres: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("history postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history postgres: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history postgres: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Append implements [history.Store]. The entries are sent as one batch in a
// single transaction.
func (s *Store) Append(ctx context.Context, sessionID string, entries ...history.Entry) error {
	if err := history.Validate(sessionID, entries); err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	const q = `
		INSERT INTO history_entries (session_id, role, content, created_at)
		VALUES ($1, $2, $3, $4)`

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, e := range history.Stamp(entries, time.Now().UTC()) {
			batch.Queue(q, sessionID, e.Role, e.Content, e.CreatedAt)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return fmt.Errorf("history postgres: append: %w", err)
	}
	return nil
}

// Load implements [history.Store].
func (s *Store) Load(ctx context.Context, sessionID string, limit int) ([]history.Entry, error) {
	if sessionID == "" {
		return nil, history.ErrNoSession
	}
	const q = `
		SELECT role, content, created_at FROM (
			SELECT id, role, content, created_at
			FROM   history_entries
			WHERE  session_id = $1
			ORDER  BY id DESC
			LIMIT  $2
		) recent
		ORDER BY id`

	var lim *int
	if limit > 0 {
		lim = &limit
	}
	rows, err := s.pool.Query(ctx, q, sessionID, lim)
	if err != nil {
		return nil, fmt.Errorf("history postgres: load: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (history.Entry, error) {
		var e history.Entry
		err := row.Scan(&e.Role, &e.Content, &e.CreatedAt)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("history postgres: load: %w", err)
	}
	return entries, nil
}

// Ping implements [history.Store].
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close implements [history.Store].
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
