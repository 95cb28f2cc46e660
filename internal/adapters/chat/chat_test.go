package chat

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/toolweave/internal/adapters/auth"
)

// fakeAPI rejects every token except valid.
type fakeAPI struct {
	token string
	valid string

	mu   sync.Mutex
	sent []string
}

func (f *fakeAPI) reject() error {
	if f.token == f.valid {
		return nil
	}
	return &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusUnauthorized}}
}

func (f *fakeAPI) ChannelMessages(channelID string, limit int, _, _, _ string, _ ...discordgo.RequestOption) ([]*discordgo.Message, error) {
	if err := f.reject(); err != nil {
		return nil, err
	}
	if channelID == "missing" {
		return nil, &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusNotFound}}
	}
	out := []*discordgo.Message{
		{ID: "2", Content: "deploy done", Author: &discordgo.User{Username: "dan"}, Timestamp: time.Unix(200, 0)},
		{ID: "1", Content: "starting deploy", Author: &discordgo.User{Username: "dan"}, Timestamp: time.Unix(100, 0)},
	}
	return out[:min(limit, len(out))], nil
}

func (f *fakeAPI) ChannelMessageSend(channelID, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	if err := f.reject(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, content)
	return &discordgo.Message{ID: "99", ChannelID: channelID, Content: content}, nil
}

type harness struct {
	client   *Client
	cell     *auth.Cell
	sessions []*fakeAPI
}

func newHarness(t *testing.T, initial, valid string, refresh auth.RefreshFunc) *harness {
	t.Helper()
	h := &harness{cell: auth.NewCell("chat", initial, refresh)}
	h.client = New(h.cell, WithSessionFactory(func(token string) (API, error) {
		api := &fakeAPI{token: token, valid: valid}
		h.sessions = append(h.sessions, api)
		return api, nil
	}))
	return h
}

func TestList(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "good", "good", nil)
	got, err := h.client.List(context.Background(), "c1", 1)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got.Messages) != 1 || got.Messages[0].Author != "dan" || got.Messages[0].Content != "deploy done" {
		t.Errorf("List() = %+v", got)
	}
	if _, err := h.client.List(context.Background(), "c1", 0); err != nil {
		t.Fatal(err)
	}
	if len(h.sessions) != 1 {
		t.Errorf("sessions built = %d, want 1 (cached)", len(h.sessions))
	}
}

func TestList_RefreshesExpiredToken(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "expired", "fresh", func(context.Context) (string, error) { return "fresh", nil })
	got, err := h.client.List(context.Background(), "c1", 5)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got.Messages) != 2 {
		t.Errorf("messages = %d", len(got.Messages))
	}
	if h.cell.Token() != "fresh" || h.cell.Refreshes() != 1 {
		t.Errorf("cell token=%q refreshes=%d", h.cell.Token(), h.cell.Refreshes())
	}
	if len(h.sessions) != 2 {
		t.Errorf("sessions built = %d, want 2", len(h.sessions))
	}
}

func TestSend_FailsAfterOneRetry(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "expired", "never", func(context.Context) (string, error) { return "still-bad", nil })
	_, err := h.client.Send(context.Background(), "c1", "hello")
	if !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	if len(h.sessions) != 2 {
		t.Errorf("attempts = %d, want 2", len(h.sessions))
	}
}

func TestNotFoundIsNotAuthError(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "good", "good", func(context.Context) (string, error) {
		t.Error("refresh must not be called")
		return "", nil
	})
	_, err := h.client.List(context.Background(), "missing", 5)
	if err == nil || errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("err = %v", err)
	}
}

func TestTools(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "good", "good", nil)
	tools := h.client.Tools()
	if len(tools) != 2 {
		t.Fatalf("tools = %d", len(tools))
	}
	if tools[1].SideEffect.String() != "write" {
		t.Errorf("send side effect = %v", tools[1].SideEffect)
	}
	out, err := tools[1].Handler(context.Background(), map[string]any{"channel_id": "c1", "content": "hi"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if out.(*Sent).MessageID != "99" {
		t.Errorf("sent = %+v", out)
	}
	if _, err := tools[1].Handler(context.Background(), map[string]any{"channel_id": "c1", "content": " "}); err == nil {
		t.Error("blank content should fail")
	}
}
