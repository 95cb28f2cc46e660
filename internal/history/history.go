// Package history persists chat sessions: the user turns and final answers
// of every exchange, keyed by session ID.
//
// Backends live in subpackages ([sqlite], [postgres]); [Memory] keeps
// sessions in process for tests and single-run CLI use. Only user and
// assistant turns are stored, so a loaded session can be replayed as
// conversation history without dangling tool messages.
package history

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/toolweave/pkg/provider/llm"
)

// ErrNoSession is returned for an empty session ID.
var ErrNoSession = errors.New("history: session id must not be empty")

// Entry is one stored turn.
type Entry struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists chat sessions. Implementations must be safe for concurrent
// use.
type Store interface {
	// Append adds entries to the end of the session, creating it if needed.
	Append(ctx context.Context, sessionID string, entries ...Entry) error

	// Load returns the last limit entries of the session in chronological
	// order. limit <= 0 returns all entries. Unknown sessions are empty.
	Load(ctx context.Context, sessionID string, limit int) ([]Entry, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	Close() error
}

// Messages converts entries to conversation history.
func Messages(entries []Entry) []llm.Message {
	msgs := make([]llm.Message, 0, len(entries))
	for _, e := range entries {
		msgs = append(msgs, llm.Message{Role: e.Role, Content: e.Content})
	}
	return msgs
}

// Validate checks a session ID and the entries to append.
func Validate(sessionID string, entries []Entry) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrNoSession
	}
	for _, e := range entries {
		switch e.Role {
		case llm.RoleUser, llm.RoleAssistant, llm.RoleSystem:
		default:
			return errors.New("history: unsupported role " + e.Role)
		}
	}
	return nil
}

// Stamp fills in a zero CreatedAt with now.
func Stamp(entries []Entry, now time.Time) []Entry {
	out := make([]Entry, len(entries))
	for i, e := range entries {
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		out[i] = e
	}
	return out
}

// Memory is an in-process [Store].
type Memory struct {
	mu       sync.Mutex
	sessions map[string][]Entry
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-process store.
func NewMemory() *Memory {
	return &Memory{sessions: make(map[string][]Entry)}
}

// Append implements [Store].
func (m *Memory) Append(_ context.Context, sessionID string, entries ...Entry) error {
	if err := Validate(sessionID, entries); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sessionID] = append(m.sessions[sessionID], Stamp(entries, time.Now().UTC())...)
	return nil
}

// Load implements [Store].
func (m *Memory) Load(_ context.Context, sessionID string, limit int) ([]Entry, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, ErrNoSession
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.sessions[sessionID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return append([]Entry(nil), all...), nil
}

// Ping implements [Store].
func (m *Memory) Ping(context.Context) error { return nil }

// Close implements [Store].
func (m *Memory) Close() error { return nil }
