// Package documents provides a small full-text document store on SQLite
// (FTS5) and the tools to search and extend it.
package documents

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	_ "modernc.org/sqlite"

	"github.com/MrWong99/toolweave/internal/adapters"
	"github.com/MrWong99/toolweave/internal/tool"
	"github.com/MrWong99/toolweave/pkg/provider/llm"
)

// Registry names of the document tools.
const (
	SearchToolName = "search_documents"
	AddToolName    = "add_document"
)

const (
	defaultLimit = 5
	toolTimeout  = 5 * time.Second
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	title      TEXT NOT NULL,
	body       TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE VIRTUAL TABLE IF NOT EXISTS documents_fts USING fts5(title, body, content='documents', content_rowid='id');
CREATE TRIGGER IF NOT EXISTS documents_ai AFTER INSERT ON documents BEGIN
	INSERT INTO documents_fts(rowid, title, body) VALUES (new.id, new.title, new.body);
END;
`

// Store is a SQLite-backed document store. Safe for concurrent use.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at dsn, e.g. a file path or
// "file::memory:".
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("documents: open %s: %w", dsn, err)
	}
	// One connection keeps in-memory databases shared and serializes writes.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("documents: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Document is one stored document.
type Document struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body,omitempty"`
	Snippet   string    `json:"snippet,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// SearchResult is the payload of search_documents.
type SearchResult struct {
	Query     string     `json:"query"`
	Documents []Document `json:"documents"`
}

// Add stores a document.
func (s *Store) Add(ctx context.Context, title, body string) (*Document, error) {
	title, body = strings.TrimSpace(title), strings.TrimSpace(body)
	if title == "" || body == "" {
		return nil, errors.New("documents: title and body must not be empty")
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `INSERT INTO documents (title, body, created_at) VALUES (?, ?, ?)`, title, body, now)
	if err != nil {
		return nil, fmt.Errorf("documents: insert: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("documents: insert: %w", err)
	}
	return &Document{ID: id, Title: title, CreatedAt: now}, nil
}

// Search returns up to limit documents matching any word of query, best
// match first.
func (s *Store) Search(ctx context.Context, query string, limit int) (*SearchResult, error) {
	match := matchExpr(query)
	if match == "" {
		return nil, errors.New("documents: query must contain at least one word")
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.id, d.title, snippet(documents_fts, 1, '[', ']', '...', 16), d.created_at
		FROM documents_fts
		JOIN documents d ON d.id = documents_fts.rowid
		WHERE documents_fts MATCH ?
		ORDER BY bm25(documents_fts)
		LIMIT ?`, match, limit)
	if err != nil {
		return nil, fmt.Errorf("documents: search: %w", err)
	}
	defer rows.Close()

	out := &SearchResult{Query: query, Documents: []Document{}}
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.Title, &d.Snippet, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("documents: scan: %w", err)
		}
		out.Documents = append(out.Documents, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("documents: search: %w", err)
	}
	return out, nil
}

// matchExpr turns free text into an FTS5 expression OR-ing each quoted
// word, so user punctuation never reaches the FTS5 query parser.
func matchExpr(query string) string {
	words := strings.FieldsFunc(query, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for i, w := range words {
		words[i] = `"` + w + `"`
	}
	return strings.Join(words, " OR ")
}

type searchArgs struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

type addArgs struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Tools returns search_documents and add_document.
func (s *Store) Tools() []tool.Tool {
	limit := adapters.Prop("integer", "Maximum number of documents.")
	limit["default"] = defaultLimit
	return []tool.Tool{
		{
			Definition: llm.ToolDefinition{
				Name:        SearchToolName,
				Description: "Full-text search over the stored documents.",
				Parameters: adapters.Schema(map[string]any{
					"query": adapters.Prop("string", "Words to search for."),
					"limit": limit,
				}, "query"),
			},
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				var a searchArgs
				if err := adapters.Decode(args, &a); err != nil {
					return nil, err
				}
				return s.Search(ctx, a.Query, a.Limit)
			},
			SideEffect: tool.SideEffectRead,
			Timeout:    toolTimeout,
		},
		{
			Definition: llm.ToolDefinition{
				Name:        AddToolName,
				Description: "Store a new document so it can be searched later.",
				Parameters: adapters.Schema(map[string]any{
					"title": adapters.Prop("string", "Document title."),
					"body":  adapters.Prop("string", "Document text."),
				}, "title", "body"),
			},
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				var a addArgs
				if err := adapters.Decode(args, &a); err != nil {
					return nil, err
				}
				return s.Add(ctx, a.Title, a.Body)
			},
			SideEffect: tool.SideEffectWrite,
			Timeout:    toolTimeout,
		},
	}
}
