package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrOrder is returned for an event that would break stream ordering.
	ErrOrder = errors.New("stream: event out of order")
	// ErrClosed is returned after done was emitted or a write failed.
	ErrClosed = errors.New("stream: closed")
)

// Sink receives events. Implementations write them to a transport.
type Sink interface {
	Send(ctx context.Context, ev Event) error
}

type phase int

const (
	phaseTools phase = iota
	phaseFinal
	phaseContent
	phaseFailed
	phaseDone
)

// Emitter forwards events to a Sink, rejecting any that would break the
// stream shape. After the first write failure it stops writing and keeps
// returning that failure. Safe for concurrent use.
type Emitter struct {
	sink Sink

	mu       sync.Mutex
	phase    phase
	fired    bool
	pending  map[string]int
	open     int
	writeErr error
}

// NewEmitter returns an emitter writing to sink.
func NewEmitter(sink Sink) *Emitter {
	return &Emitter{sink: sink, pending: make(map[string]int)}
}

// Emit validates ev against the events sent so far and writes it.
func (e *Emitter) Emit(ctx context.Context, ev Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.writeErr != nil {
		return e.writeErr
	}
	if e.phase == phaseDone {
		return ErrClosed
	}
	next, err := e.advance(ev)
	if err != nil {
		return err
	}
	if err := e.sink.Send(ctx, ev); err != nil {
		e.writeErr = fmt.Errorf("%w: %w", ErrClosed, err)
		return e.writeErr
	}
	e.phase = next
	switch ev.Type {
	case TypeToolCall:
		e.pending[ev.Name]++
		e.open++
		e.fired = true
	case TypeToolResult:
		e.pending[ev.Name]--
		e.open--
	}
	return nil
}

// advance returns the phase after ev, or why ev may not come next. An
// error event is accepted anywhere before done and leaves only done.
func (e *Emitter) advance(ev Event) (phase, error) {
	if e.phase == phaseFailed && ev.Type != TypeDone {
		return 0, fmt.Errorf("%w: %s after error", ErrOrder, ev.Type)
	}
	switch ev.Type {
	case TypeToolCall:
		if e.phase != phaseTools {
			return 0, fmt.Errorf("%w: tool_call after %s", ErrOrder, e.phaseName())
		}
		return phaseTools, nil
	case TypeToolResult:
		if e.phase != phaseTools {
			return 0, fmt.Errorf("%w: tool_result after %s", ErrOrder, e.phaseName())
		}
		if e.pending[ev.Name] <= 0 {
			return 0, fmt.Errorf("%w: tool_result for %q without tool_call", ErrOrder, ev.Name)
		}
		return phaseTools, nil
	case TypeFinalResponse:
		switch {
		case e.phase != phaseTools:
			return 0, fmt.Errorf("%w: final_response after %s", ErrOrder, e.phaseName())
		case !e.fired:
			return 0, fmt.Errorf("%w: final_response without tool events", ErrOrder)
		case e.open > 0:
			return 0, fmt.Errorf("%w: final_response with unanswered tool_call", ErrOrder)
		}
		return phaseFinal, nil
	case TypeContent:
		if e.phase == phaseTools && e.fired {
			if e.open > 0 {
				return 0, fmt.Errorf("%w: content with unanswered tool_call", ErrOrder)
			}
			return 0, fmt.Errorf("%w: content after tool events without final_response", ErrOrder)
		}
		return phaseContent, nil
	case TypeError:
		return phaseFailed, nil
	case TypeDone:
		return phaseDone, nil
	}
	return 0, fmt.Errorf("stream: unknown event type %q", ev.Type)
}

func (e *Emitter) phaseName() string {
	switch e.phase {
	case phaseFinal:
		return "final_response"
	case phaseContent:
		return "content"
	case phaseFailed:
		return "error"
	default:
		return "done"
	}
}

// Err returns the write failure that closed the emitter, if any.
func (e *Emitter) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.writeErr
}

// Options controls [Stream].
type Options struct {
	// ChunkSize is the number of runes per content event. Default: ChunkSize.
	ChunkSize int
	// ChunkDelay pauses between content events. Default: none.
	ChunkDelay time.Duration
}

// Stream emits the frames of o. It stops at the first emit error; ctx
// cancellation only cuts the chunk delay short.
func Stream(ctx context.Context, e *Emitter, o Outcome, opts Options) error {
	for _, ev := range Frames(o, opts.ChunkSize) {
		if ev.Type == TypeContent && opts.ChunkDelay > 0 {
			t := time.NewTimer(opts.ChunkDelay)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
			}
		}
		if err := e.Emit(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// Recorder is a Sink that keeps events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Send appends ev.
func (r *Recorder) Send(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}
