// Package stream turns the outcome of one chat exchange into the ordered,
// chunked event stream sent to the caller, and writes it as Server-Sent
// Events or WebSocket messages.
//
// Every stream has the shape
//
//	(tool_call tool_result)* [final_response] content* done
//
// where final_response appears only when at least one tool ran, and an
// error event may replace the content when the model backend failed.
package stream

import (
	"strings"
	"unicode/utf8"
)

// ChunkSize is the default number of runes per content event.
const ChunkSize = 20

// Type tags an [Event].
type Type string

const (
	TypeToolCall      Type = "tool_call"
	TypeToolResult    Type = "tool_result"
	TypeFinalResponse Type = "final_response"
	TypeContent       Type = "content"
	TypeError         Type = "error"
	TypeDone          Type = "done"
)

// Event is one frame of the stream. Only the fields of its Type are set.
type Event struct {
	Type Type `json:"type"`

	// tool_call, tool_result
	Name string `json:"name,omitempty"`
	// tool_call
	Params map[string]any `json:"params,omitzero"`
	// tool_result
	Result any `json:"result,omitempty"`
	// content
	Chunk string `json:"chunk,omitempty"`
	// error
	Message string `json:"message,omitempty"`
}

// ToolCall announces a tool invocation. params is always encoded, as {}
// when the tool takes no arguments.
func ToolCall(name string, params map[string]any) Event {
	if params == nil {
		params = map[string]any{}
	}
	return Event{Type: TypeToolCall, Name: name, Params: params}
}

// ToolResult carries a tool's result value.
func ToolResult(name string, result any) Event {
	return Event{Type: TypeToolResult, Name: name, Result: result}
}

// FinalResponse marks the end of tool activity.
func FinalResponse() Event { return Event{Type: TypeFinalResponse} }

// Content carries one chunk of the answer.
func Content(chunk string) Event { return Event{Type: TypeContent, Chunk: chunk} }

// Error reports a terminal failure in human-readable form.
func Error(message string) Event { return Event{Type: TypeError, Message: message} }

// Done terminates the stream.
func Done() Event { return Event{Type: TypeDone} }

// Outcome is what the engine produced for one exchange: the tool events in
// execution order and the answer text.
type Outcome struct {
	Events []Event
	Answer string

	// Failure, when set, is streamed as an error event instead of the
	// answer.
	Failure string
}

// RecordCall appends a tool_call event.
func (o *Outcome) RecordCall(name string, params map[string]any) {
	o.Events = append(o.Events, ToolCall(name, params))
}

// RecordResult appends a tool_result event.
func (o *Outcome) RecordResult(name string, result any) {
	o.Events = append(o.Events, ToolResult(name, result))
}

// ToolsFired reports whether any tool event was recorded.
func (o *Outcome) ToolsFired() bool {
	return len(o.Events) > 0
}

// Chunk splits text into pieces of at most size runes. Concatenating the
// pieces yields text.
func Chunk(text string, size int) []string {
	if size <= 0 {
		size = ChunkSize
	}
	if text == "" {
		return nil
	}
	chunks := make([]string, 0, utf8.RuneCountInString(text)/size+1)
	start, n := 0, 0
	for i := range text {
		if n == size {
			chunks = append(chunks, text[start:i])
			start, n = i, 0
		}
		n++
	}
	return append(chunks, text[start:])
}

// Frames expands an outcome into the full ordered event sequence.
func Frames(o Outcome, chunkSize int) []Event {
	frames := make([]Event, 0, len(o.Events)+len(o.Answer)/max(chunkSize, 1)+3)
	frames = append(frames, o.Events...)
	if o.ToolsFired() {
		frames = append(frames, FinalResponse())
	}
	if o.Failure != "" {
		frames = append(frames, Error(o.Failure))
	} else {
		for _, c := range Chunk(o.Answer, chunkSize) {
			frames = append(frames, Content(c))
		}
	}
	return append(frames, Done())
}

// Text concatenates the content chunks of events.
func Text(events []Event) string {
	var b strings.Builder
	for _, e := range events {
		if e.Type == TypeContent {
			b.WriteString(e.Chunk)
		}
	}
	return b.String()
}
