// Package chat provides tools for reading and posting chat-platform
// messages through the Discord REST API.
package chat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/toolweave/internal/adapters"
	"github.com/MrWong99/toolweave/internal/adapters/auth"
	"github.com/MrWong99/toolweave/internal/tool"
	"github.com/MrWong99/toolweave/pkg/provider/llm"
)

// Registry names of the chat tools.
const (
	ListToolName = "list_chat_messages"
	SendToolName = "send_chat_message"
)

const (
	defaultLimit = 20
	maxLimit     = 100
	toolTimeout  = 10 * time.Second
)

// API is the subset of *discordgo.Session the adapter uses.
type API interface {
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

var _ API = (*discordgo.Session)(nil)

// SessionFactory builds an API client authenticated with token.
type SessionFactory func(token string) (API, error)

// NewSession is the default factory: a REST-only discordgo session.
func NewSession(token string) (API, error) {
	if !strings.HasPrefix(token, "Bot ") {
		token = "Bot " + token
	}
	s, err := discordgo.New(token)
	if err != nil {
		return nil, fmt.Errorf("chat: create session: %w", err)
	}
	return s, nil
}

// Client wraps the chat platform. The bot token lives in an [auth.Cell];
// a session is rebuilt whenever the token changes.
type Client struct {
	cell    *auth.Cell
	factory SessionFactory

	mu       sync.Mutex
	api      API
	apiToken string
}

// Option configures a [Client].
type Option func(*Client)

// WithSessionFactory replaces how sessions are built.
func WithSessionFactory(f SessionFactory) Option {
	return func(c *Client) { c.factory = f }
}

// New returns a client using the credentials in cell.
func New(cell *auth.Cell, opts ...Option) *Client {
	c := &Client{cell: cell, factory: NewSession}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) session(token string) (API, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.api != nil && c.apiToken == token {
		return c.api, nil
	}
	api, err := c.factory(token)
	if err != nil {
		return nil, err
	}
	c.api, c.apiToken = api, token
	return api, nil
}

// classify maps REST rejections of the bot token onto auth.ErrUnauthorized.
func classify(op string, err error) error {
	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Response != nil {
		switch rest.Response.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("chat: %s: %w: %w", op, auth.ErrUnauthorized, err)
		}
	}
	return fmt.Errorf("chat: %s: %w", op, err)
}

// Message is one chat message in tool payloads.
type Message struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Messages is the payload of list_chat_messages.
type Messages struct {
	ChannelID string    `json:"channel_id"`
	Messages  []Message `json:"messages"`
}

// Sent is the payload of send_chat_message.
type Sent struct {
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id"`
}

// List returns up to limit recent messages of a channel, newest first.
func (c *Client) List(ctx context.Context, channelID string, limit int) (*Messages, error) {
	if channelID == "" {
		return nil, errors.New("chat: channel_id must not be empty")
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	limit = min(limit, maxLimit)

	msgs, err := auth.Do(ctx, c.cell, func(ctx context.Context, token string) ([]*discordgo.Message, error) {
		api, err := c.session(token)
		if err != nil {
			return nil, err
		}
		msgs, err := api.ChannelMessages(channelID, limit, "", "", "", discordgo.WithContext(ctx))
		if err != nil {
			return nil, classify("list messages", err)
		}
		return msgs, nil
	})
	if err != nil {
		return nil, err
	}

	out := &Messages{ChannelID: channelID, Messages: make([]Message, 0, len(msgs))}
	for _, m := range msgs {
		author := ""
		if m.Author != nil {
			author = m.Author.Username
		}
		out.Messages = append(out.Messages, Message{ID: m.ID, Author: author, Content: m.Content, Timestamp: m.Timestamp})
	}
	return out, nil
}

// Send posts content to a channel.
func (c *Client) Send(ctx context.Context, channelID, content string) (*Sent, error) {
	if channelID == "" || strings.TrimSpace(content) == "" {
		return nil, errors.New("chat: channel_id and content must not be empty")
	}
	m, err := auth.Do(ctx, c.cell, func(ctx context.Context, token string) (*discordgo.Message, error) {
		api, err := c.session(token)
		if err != nil {
			return nil, err
		}
		m, err := api.ChannelMessageSend(channelID, content, discordgo.WithContext(ctx))
		if err != nil {
			return nil, classify("send message", err)
		}
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return &Sent{ChannelID: channelID, MessageID: m.ID}, nil
}

type listArgs struct {
	ChannelID string `json:"channel_id"`
	Limit     int    `json:"limit"`
}

type sendArgs struct {
	ChannelID string `json:"channel_id"`
	Content   string `json:"content"`
}

// Tools returns the chat tools.
func (c *Client) Tools() []tool.Tool {
	limit := adapters.Prop("integer", "Maximum number of messages, 1 to 100.")
	limit["default"] = defaultLimit

	return []tool.Tool{
		{
			Definition: llm.ToolDefinition{
				Name:        ListToolName,
				Description: "Read the most recent messages of a chat channel.",
				Parameters: adapters.Schema(map[string]any{
					"channel_id": adapters.Prop("string", "Channel ID."),
					"limit":      limit,
				}, "channel_id"),
			},
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				var a listArgs
				if err := adapters.Decode(args, &a); err != nil {
					return nil, err
				}
				return c.List(ctx, a.ChannelID, a.Limit)
			},
			SideEffect: tool.SideEffectRead,
			Timeout:    toolTimeout,
		},
		{
			Definition: llm.ToolDefinition{
				Name:        SendToolName,
				Description: "Post a message to a chat channel.",
				Parameters: adapters.Schema(map[string]any{
					"channel_id": adapters.Prop("string", "Channel ID."),
					"content":    adapters.Prop("string", "Message text."),
				}, "channel_id", "content"),
			},
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				var a sendArgs
				if err := adapters.Decode(args, &a); err != nil {
					return nil, err
				}
				return c.Send(ctx, a.ChannelID, a.Content)
			},
			SideEffect: tool.SideEffectWrite,
			Timeout:    toolTimeout,
		},
	}
}
