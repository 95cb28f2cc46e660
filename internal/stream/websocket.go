package stream

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/coder/websocket"
)

// WebSocketSink writes each event as one JSON text message, followed by a
// "[DONE]" text message after done. Closing the connection is left to the
// caller so it can serve further exchanges.
type WebSocketSink struct {
	conn *websocket.Conn
}

var _ Sink = (*WebSocketSink)(nil)

// NewWebSocket returns a sink over conn.
func NewWebSocket(conn *websocket.Conn) *WebSocketSink {
	return &WebSocketSink{conn: conn}
}

// Send writes one message.
func (s *WebSocketSink) Send(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("stream: marshal event: %w", err)
	}
	if err := s.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return err
	}
	if ev.Type == TypeDone {
		return s.conn.Write(ctx, websocket.MessageText, []byte(DoneSentinel))
	}
	return nil
}
