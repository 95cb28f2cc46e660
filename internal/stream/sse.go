package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// DoneSentinel is the literal payload terminating a stream.
const DoneSentinel = "[DONE]"

// SSESink writes events as Server-Sent Events, one "data:" frame per event,
// followed by a "data: [DONE]" frame after done.
type SSESink struct {
	mu    sync.Mutex
	w     io.Writer
	flush func()
}

var _ Sink = (*SSESink)(nil)

// NewSSE prepares w for an event stream and returns a sink writing to it.
func NewSSE(w http.ResponseWriter) *SSESink {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	return NewSSEWriter(w)
}

// NewSSEWriter returns a sink writing SSE frames to any writer, flushing
// after each frame when w is an http.Flusher.
func NewSSEWriter(w io.Writer) *SSESink {
	s := &SSESink{w: w}
	if f, ok := w.(http.Flusher); ok {
		s.flush = f.Flush
	}
	return s
}

// Send writes one frame.
func (s *SSESink) Send(_ context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("stream: marshal event: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", body); err != nil {
		return err
	}
	if ev.Type == TypeDone {
		if _, err := io.WriteString(s.w, "data: "+DoneSentinel+"\n\n"); err != nil {
			return err
		}
	}
	if s.flush != nil {
		s.flush()
	}
	return nil
}
