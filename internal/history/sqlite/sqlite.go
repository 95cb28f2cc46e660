// Package sqlite is the SQLite history backend, built on the pure-Go
// modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MrWong99/toolweave/internal/history"
)

const schema = `
CREATE TABLE IF NOT EXISTS history_entries (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT    NOT NULL,
	role       TEXT    NOT NULL,
	content    TEXT    NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS history_entries_session ON history_entries (session_id, id);
`

var _ history.Store = (*Store)(nil)

// Store is a SQLite-backed [history.Store].
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at dsn and migrates the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("history sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history sqlite: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Append implements [history.Store]. The entries are written in one
// transaction.
func (s *Store) Append(ctx context.Context, sessionID string, entries ...history.Entry) error {
	if err := history.Validate(sessionID, entries); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("history sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, e := range history.Stamp(entries, time.Now().UTC()) {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO history_entries (session_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
			sessionID, e.Role, e.Content, e.CreatedAt.UnixNano(),
		); err != nil {
			return fmt.Errorf("history sqlite: append: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("history sqlite: commit: %w", err)
	}
	return nil
}

// Load implements [history.Store].
func (s *Store) Load(ctx context.Context, sessionID string, limit int) ([]history.Entry, error) {
	if sessionID == "" {
		return nil, history.ErrNoSession
	}
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, created_at FROM (
			SELECT id, role, content, created_at
			FROM   history_entries
			WHERE  session_id = ?
			ORDER  BY id DESC
			LIMIT  ?
		) ORDER BY id`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("history sqlite: load: %w", err)
	}
	defer rows.Close()

	var out []history.Entry
	for rows.Next() {
		var (
			e  history.Entry
			ns int64
		)
		if err := rows.Scan(&e.Role, &e.Content, &ns); err != nil {
			return nil, fmt.Errorf("history sqlite: scan: %w", err)
		}
		e.CreatedAt = time.Unix(0, ns).UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history sqlite: load: %w", err)
	}
	return out, nil
}

// Ping implements [history.Store].
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements [history.Store].
func (s *Store) Close() error {
	return s.db.Close()
}
