// Package scm provides the list_commits tool for a source-control server
// that authenticates with session tickets. A ticket is obtained by posting
// the configured user and password to the login endpoint and is sent as
// "Authorization: Ticket <ticket>". When the server rejects a ticket the
// adapter logs in again and retries the call once.
package scm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/toolweave/internal/adapters"
	"github.com/MrWong99/toolweave/internal/adapters/auth"
	"github.com/MrWong99/toolweave/internal/resilience"
	"github.com/MrWong99/toolweave/internal/tool"
	"github.com/MrWong99/toolweave/pkg/provider/llm"
)

// ToolName is the registry name of the commit history tool.
const ToolName = "list_commits"

const (
	defaultLimit   = 10
	maxLimit       = 100
	defaultTimeout = 10 * time.Second
)

// Config locates the server and the account used to log in.
type Config struct {
	BaseURL  string
	User     string
	Password string

	// Ticket is an optional initial ticket; empty logs in on first use.
	Ticket  string
	Timeout time.Duration
}

// Client talks to the source-control server.
type Client struct {
	base    string
	cfg     Config
	hc      *http.Client
	cell    *auth.Cell
	breaker *resilience.CircuitBreaker
}

// New returns a client for cfg. hc may be nil.
func New(cfg Config, hc *http.Client) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("scm: base URL must not be empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	c := &Client{base: strings.TrimRight(cfg.BaseURL, "/"), cfg: cfg, hc: hc}
	c.cell = auth.NewCell("scm", cfg.Ticket, c.login)
	c.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name: "scm",
		IsFailure: func(err error) bool {
			return !errors.Is(err, auth.ErrUnauthorized) && !errors.Is(err, context.Canceled) && !isClientError(err)
		},
	})
	return c, nil
}

// Cell exposes the ticket state.
func (c *Client) Cell() *auth.Cell { return c.cell }

func isClientError(err error) bool {
	var se *adapters.StatusError
	return errors.As(err, &se) && se.Code >= 400 && se.Code < 500
}

func (c *Client) login(ctx context.Context) (string, error) {
	body, err := json.Marshal(map[string]string{"user": c.cfg.User, "password": c.cfg.Password})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequest(http.MethodPost, c.base+"/api/login", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("scm: build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	var resp struct {
		Ticket string `json:"ticket"`
	}
	if err := adapters.FetchJSON(ctx, c.hc, "scm", req, &resp); err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	if resp.Ticket == "" {
		return "", errors.New("scm: login returned no ticket")
	}
	return resp.Ticket, nil
}

// Commit is one entry of a repository's history.
type Commit struct {
	ID      string    `json:"id"`
	Author  string    `json:"author"`
	Message string    `json:"message"`
	Date    time.Time `json:"date"`
}

// History is the payload of list_commits.
type History struct {
	Repo    string   `json:"repo"`
	Commits []Commit `json:"commits"`
}

// Commits lists the latest limit commits of repo, newest first.
func (c *Client) Commits(ctx context.Context, repo string, limit int) (*History, error) {
	repo = strings.Trim(strings.TrimSpace(repo), "/")
	if repo == "" {
		return nil, errors.New("scm: repo must not be empty")
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	limit = min(limit, maxLimit)

	var commits []Commit
	err := c.breaker.Call(ctx, func(ctx context.Context) error {
		var err error
		commits, err = auth.Do(ctx, c.cell, func(ctx context.Context, ticket string) ([]Commit, error) {
			if ticket == "" {
				return nil, fmt.Errorf("scm: no ticket: %w", auth.ErrUnauthorized)
			}
			u := c.base + "/api/repos/" + url.PathEscape(repo) + "/commits?limit=" + strconv.Itoa(limit)
			req, err := http.NewRequest(http.MethodGet, u, nil)
			if err != nil {
				return nil, fmt.Errorf("scm: build request: %w", err)
			}
			req.Header.Set("Authorization", "Ticket "+ticket)
			var out struct {
				Commits []Commit `json:"commits"`
			}
			if err := adapters.FetchJSON(ctx, c.hc, "scm", req, &out); err != nil {
				return nil, err
			}
			return out.Commits, nil
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	if commits == nil {
		commits = []Commit{}
	}
	return &History{Repo: repo, Commits: commits}, nil
}

type commitArgs struct {
	Repo  string `json:"repo"`
	Limit int    `json:"limit"`
}

// Tools returns list_commits.
func (c *Client) Tools() []tool.Tool {
	limit := adapters.Prop("integer", "Maximum number of commits, 1 to 100.")
	limit["default"] = defaultLimit
	return []tool.Tool{{
		Definition: llm.ToolDefinition{
			Name:        ToolName,
			Description: "List the most recent commits of a source-control repository.",
			Parameters: adapters.Schema(map[string]any{
				"repo":  adapters.Prop("string", "Repository path, e.g. \"platform/api\"."),
				"limit": limit,
			}, "repo"),
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			var a commitArgs
			if err := adapters.Decode(args, &a); err != nil {
				return nil, err
			}
			return c.Commits(ctx, a.Repo, a.Limit)
		},
		SideEffect: tool.SideEffectRead,
		Timeout:    2 * c.cfg.Timeout,
	}}
}
