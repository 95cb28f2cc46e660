// Package issues provides issue-tracker tools against a GitHub-compatible
// REST API: searching issues of one repository and filing new ones.
package issues

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrWong99/toolweave/internal/adapters"
	"github.com/MrWong99/toolweave/internal/adapters/auth"
	"github.com/MrWong99/toolweave/internal/resilience"
	"github.com/MrWong99/toolweave/internal/tool"
	"github.com/MrWong99/toolweave/pkg/provider/llm"
)

// Registry names of the issue tools.
const (
	SearchToolName = "search_issues"
	CreateToolName = "create_issue"
)

// DefaultBaseURL is the public GitHub API.
const DefaultBaseURL = "https://api.github.com"

const (
	defaultTimeout = 10 * time.Second
	maxResults     = 20
)

// Config selects the tracker and repository.
type Config struct {
	BaseURL string
	// Repo is "owner/name".
	Repo    string
	Timeout time.Duration
}

// Client talks to the issue tracker with a bearer token held in an
// [auth.Cell].
type Client struct {
	base    string
	repo    string
	timeout time.Duration
	hc      *http.Client
	cell    *auth.Cell
	breaker *resilience.CircuitBreaker
}

// New returns a client. hc may be nil.
func New(cfg Config, cell *auth.Cell, hc *http.Client) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if strings.Count(cfg.Repo, "/") != 1 {
		return nil, fmt.Errorf("issues: repo %q must be owner/name", cfg.Repo)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		base:    strings.TrimRight(cfg.BaseURL, "/"),
		repo:    cfg.Repo,
		timeout: cfg.Timeout,
		hc:      hc,
		cell:    cell,
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name: "issues",
			IsFailure: func(err error) bool {
				var se *adapters.StatusError
				if errors.As(err, &se) && se.Code < 500 {
					return false
				}
				return !errors.Is(err, context.Canceled)
			},
		}),
	}, nil
}

// Issue is one tracker issue.
type Issue struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	State  string `json:"state"`
	URL    string `json:"html_url"`
	Body   string `json:"body,omitempty"`
}

// SearchResult is the payload of search_issues.
type SearchResult struct {
	Query  string  `json:"query"`
	Total  int     `json:"total_count"`
	Issues []Issue `json:"issues"`
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	return c.breaker.Call(ctx, func(ctx context.Context) error {
		_, err := auth.Do(ctx, c.cell, func(ctx context.Context, token string) (struct{}, error) {
			var rd io.Reader
			if body != nil {
				b, err := json.Marshal(body)
				if err != nil {
					return struct{}{}, fmt.Errorf("issues: encode body: %w", err)
				}
				rd = bytes.NewReader(b)
			}
			req, err := http.NewRequest(method, c.base+path, rd)
			if err != nil {
				return struct{}{}, fmt.Errorf("issues: build request: %w", err)
			}
			req.Header.Set("Accept", "application/vnd.github+json")
			req.Header.Set("Content-Type", "application/json")
			if token != "" {
				req.Header.Set("Authorization", "Bearer "+token)
			}
			return struct{}{}, adapters.FetchJSON(ctx, c.hc, "issues", req, out)
		})
		return err
	})
}

// Search finds issues of the configured repository matching query.
func (c *Client) Search(ctx context.Context, query string) (*SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("issues: query must not be empty")
	}
	q := url.Values{
		"q":        {query + " repo:" + c.repo + " is:issue"},
		"per_page": {fmt.Sprint(maxResults)},
	}
	var resp struct {
		TotalCount int     `json:"total_count"`
		Items      []Issue `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, "/search/issues?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	if resp.Items == nil {
		resp.Items = []Issue{}
	}
	for i := range resp.Items {
		resp.Items[i].Body = ""
	}
	return &SearchResult{Query: query, Total: resp.TotalCount, Issues: resp.Items}, nil
}

// Create files a new issue.
func (c *Client) Create(ctx context.Context, title, body string) (*Issue, error) {
	if strings.TrimSpace(title) == "" {
		return nil, errors.New("issues: title must not be empty")
	}
	var out Issue
	payload := map[string]string{"title": title, "body": body}
	if err := c.do(ctx, http.MethodPost, "/repos/"+c.repo+"/issues", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type searchArgs struct {
	Query string `json:"query"`
}

type createArgs struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Tools returns search_issues and create_issue.
func (c *Client) Tools() []tool.Tool {
	body := adapters.Prop("string", "Issue description in Markdown.")
	body["default"] = ""
	return []tool.Tool{
		{
			Definition: llm.ToolDefinition{
				Name:        SearchToolName,
				Description: "Search the issue tracker for issues matching a text query.",
				Parameters: adapters.Schema(map[string]any{
					"query": adapters.Prop("string", "Search text, e.g. \"login timeout\"."),
				}, "query"),
			},
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				var a searchArgs
				if err := adapters.Decode(args, &a); err != nil {
					return nil, err
				}
				return c.Search(ctx, a.Query)
			},
			SideEffect: tool.SideEffectRead,
			Timeout:    c.timeout + time.Second,
		},
		{
			Definition: llm.ToolDefinition{
				Name:        CreateToolName,
				Description: "File a new issue in the issue tracker.",
				Parameters: adapters.Schema(map[string]any{
					"title": adapters.Prop("string", "Issue title."),
					"body":  body,
				}, "title"),
			},
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				var a createArgs
				if err := adapters.Decode(args, &a); err != nil {
					return nil, err
				}
				return c.Create(ctx, a.Title, a.Body)
			},
			SideEffect: tool.SideEffectWrite,
			Timeout:    c.timeout + time.Second,
		},
	}
}
