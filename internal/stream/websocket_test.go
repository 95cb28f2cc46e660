package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
)

func TestWebSocketSink(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		var o Outcome
		o.RecordCall("get_weather", map[string]any{"city": "Paris"})
		o.RecordResult("get_weather", map[string]any{"temperature_c": 18})
		o.Answer = "It is 18°C in Paris."
		_ = Stream(r.Context(), NewEmitter(NewWebSocket(conn)), o, Options{})
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.CloseNow()

	var events []Event
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		if string(data) == DoneSentinel {
			break
		}
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("unmarshal %q: %v", data, err)
		}
		events = append(events, ev)
	}

	if events[0].Type != TypeToolCall || events[0].Params["city"] != "Paris" {
		t.Errorf("first event = %+v", events[0])
	}
	if events[len(events)-1].Type != TypeDone {
		t.Errorf("last event = %+v", events[len(events)-1])
	}
	if Text(events) != "It is 18°C in Paris." {
		t.Errorf("text = %q", Text(events))
	}
}
