// Package auth holds the credential state shared by adapters whose upstream
// tokens or tickets expire: a [Cell] owning the current token and the
// capability to refresh it, plus [Do], which retries a rejected call exactly
// once after a refresh.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// ErrUnauthorized is returned (possibly wrapped) by adapter calls whose
// credentials were rejected upstream.
var ErrUnauthorized = errors.New("auth: credentials rejected")

// MaxRetries is the number of refresh-and-retry rounds [Do] performs.
const MaxRetries = 1

// RefreshFunc obtains a fresh token.
type RefreshFunc func(ctx context.Context) (string, error)

// FromFile returns a RefreshFunc that re-reads a token from path, for
// secrets rotated on disk by an external agent.
func FromFile(path string) RefreshFunc {
	return func(context.Context) (string, error) {
		b, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		tok := strings.TrimSpace(string(b))
		if tok == "" {
			return "", fmt.Errorf("token file %s is empty", path)
		}
		return tok, nil
	}
}

// Cell is the per-adapter credential state. Safe for concurrent use.
type Cell struct {
	name    string
	refresh RefreshFunc

	mu        sync.Mutex
	token     string
	refreshes int
}

// NewCell returns a cell holding initial. refresh may be nil for static
// credentials; a rejected call then fails without retry.
func NewCell(name, initial string, refresh RefreshFunc) *Cell {
	return &Cell{name: name, token: initial, refresh: refresh}
}

// Token returns the current token.
func (c *Cell) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// Refreshes returns how many refreshes have succeeded.
func (c *Cell) Refreshes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshes
}

// Refresh replaces the token. When stale no longer matches the current token
// another caller has already refreshed and the current token is returned
// without contacting the upstream again.
func (c *Cell) Refresh(ctx context.Context, stale string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != stale {
		return c.token, nil
	}
	if c.refresh == nil {
		return "", fmt.Errorf("auth: %s has no refresh capability", c.name)
	}
	tok, err := c.refresh(ctx)
	if err != nil {
		return "", fmt.Errorf("auth: refresh %s: %w", c.name, err)
	}
	c.token = tok
	c.refreshes++
	slog.InfoContext(ctx, "credentials refreshed", "adapter", c.name)
	return tok, nil
}

// Do runs call with the cell's token. If the call fails with
// [ErrUnauthorized] the token is refreshed and the call retried, at most
// [MaxRetries] times.
func Do[T any](ctx context.Context, c *Cell, call func(ctx context.Context, token string) (T, error)) (T, error) {
	return do(ctx, c, call, MaxRetries)
}

func do[T any](ctx context.Context, c *Cell, call func(context.Context, string) (T, error), retriesLeft int) (T, error) {
	token := c.Token()
	v, err := call(ctx, token)
	if err == nil || !errors.Is(err, ErrUnauthorized) || retriesLeft <= 0 {
		return v, err
	}

	if _, rerr := c.Refresh(ctx, token); rerr != nil {
		var zero T
		return zero, errors.Join(err, rerr)
	}
	return do(ctx, c, call, retriesLeft-1)
}
