package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/toolweave/pkg/provider/llm"
)

// Transport names how an external MCP server is reached.
type Transport string

const (
	TransportStdio          Transport = "stdio"
	TransportStreamableHTTP Transport = "streamable-http"
)

// IsValid reports whether t is a known transport.
func (t Transport) IsValid() bool {
	return t == TransportStdio || t == TransportStreamableHTTP
}

// ServerConfig describes an external MCP server whose tools are imported into
// the registry.
type ServerConfig struct {
	Name      string
	Transport Transport

	// Command is the executable plus arguments for [TransportStdio].
	Command string
	Env     map[string]string

	// URL is the endpoint for [TransportStreamableHTTP].
	URL string

	// Token, when set, is sent as a Bearer token to a
	// [TransportStreamableHTTP] server.
	Token string

	// Writes marks every tool of this server as [SideEffectWrite]. Servers are
	// assumed read-only otherwise.
	Writes bool

	// Timeout bounds each call to one of this server's tools.
	Timeout time.Duration
}

// RegisterServer connects to an MCP server and registers each of its tools
// under its own name. It must be called before [Registry.Freeze].
func (r *Registry) RegisterServer(ctx context.Context, cfg ServerConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("tool: server config must have a non-empty name")
	}
	if !cfg.Transport.IsValid() {
		return fmt.Errorf("tool: unknown transport %q for server %q", cfg.Transport, cfg.Name)
	}

	var transport mcpsdk.Transport
	switch cfg.Transport {
	case TransportStdio:
		fields := strings.Fields(cfg.Command)
		if len(fields) == 0 {
			return fmt.Errorf("tool: stdio server %q requires a command", cfg.Name)
		}
		cmd := exec.Command(fields[0], fields[1:]...)
		cmd.Env = os.Environ()
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		transport = &mcpsdk.CommandTransport{Command: cmd}
	case TransportStreamableHTTP:
		if cfg.URL == "" {
			return fmt.Errorf("tool: streamable-http server %q requires a URL", cfg.Name)
		}
		st := &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}
		if cfg.Token != "" {
			st.HTTPClient = &http.Client{Transport: bearer{token: cfg.Token, next: http.DefaultTransport}}
		}
		transport = st
	}

	session, err := r.client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("tool: connect to server %q: %w", cfg.Name, err)
	}

	var discovered []*mcpsdk.Tool
	for t, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			return fmt.Errorf("tool: list tools of server %q: %w", cfg.Name, err)
		}
		discovered = append(discovered, t)
	}

	side := SideEffectRead
	if cfg.Writes {
		side = SideEffectWrite
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		_ = session.Close()
		return ErrFrozen
	}
	if _, dup := r.servers[cfg.Name]; dup {
		_ = session.Close()
		return fmt.Errorf("tool: server %q already registered", cfg.Name)
	}
	r.servers[cfg.Name] = session

	for _, t := range discovered {
		remote := t.Name
		err := r.addLocked(Tool{
			Definition: llm.ToolDefinition{
				Name:        remote,
				Description: t.Description,
				Parameters:  schemaToMap(t.InputSchema),
			},
			Handler:    serverHandler(session, remote),
			SideEffect: side,
			Timeout:    cfg.Timeout,
		}, cfg.Name)
		if err != nil {
			return fmt.Errorf("tool: import from server %q: %w", cfg.Name, err)
		}
	}
	return nil
}

// serverHandler forwards an invocation to an MCP session. Text content is
// concatenated; when it parses as JSON the decoded value becomes the payload.
func serverHandler(session *mcpsdk.ClientSession, name string) Handler {
	return func(ctx context.Context, args map[string]any) (any, error) {
		res, err := session.CallTool(ctx, &mcpsdk.CallToolParams{Name: name, Arguments: args})
		if err != nil {
			return nil, fmt.Errorf("call %q: %w", name, err)
		}

		var sb strings.Builder
		for _, c := range res.Content {
			if tc, ok := c.(*mcpsdk.TextContent); ok {
				sb.WriteString(tc.Text)
			}
		}
		text := sb.String()
		if res.IsError {
			if text == "" {
				text = "server reported an error"
			}
			return nil, fmt.Errorf("%s", text)
		}

		var decoded any
		if err := json.Unmarshal([]byte(text), &decoded); err == nil {
			return decoded, nil
		}
		return text, nil
	}
}

func schemaToMap(schema any) map[string]any {
	fallback := map[string]any{"type": "object", "properties": map[string]any{}}
	if schema == nil {
		return fallback
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return fallback
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil || m == nil {
		return fallback
	}
	return m
}

// bearer adds an Authorization header to every request.
type bearer struct {
	token string
	next  http.RoundTripper
}

func (b bearer) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+b.token)
	return b.next.RoundTrip(req)
}
