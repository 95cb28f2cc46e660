// Package mock provides a recording test double for [engine.Exchanger].
//
//	ex := &mock.Exchanger{Reply: &engine.Reply{
//	    Outcome: stream.Outcome{Answer: "Result: 14"},
//	}}
//	// inject ex into the server ...
//	if got := len(ex.Requests()); got != 1 { ... }
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/toolweave/internal/engine"
)

var _ engine.Exchanger = (*Exchanger)(nil)

// Exchanger returns a canned reply and records every request.
type Exchanger struct {
	mu sync.Mutex

	// Reply is returned by Exchange. A nil Reply with a nil Err yields an
	// empty reply.
	Reply *engine.Reply

	// Err is returned by Exchange.
	Err error

	// Block, when set, is received from before returning so tests can hold
	// an exchange in flight.
	Block chan struct{}

	requests []engine.Request
}

// Exchange records req and returns Reply and Err.
func (m *Exchanger) Exchange(_ context.Context, req engine.Request) (*engine.Reply, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	reply, err, block := m.Reply, m.Err, m.Block
	m.mu.Unlock()

	if block != nil {
		<-block
	}
	if err != nil {
		return nil, err
	}
	if reply == nil {
		return &engine.Reply{SessionID: req.SessionID}, nil
	}
	r := *reply
	return &r, nil
}

// Requests returns a copy of the recorded requests.
func (m *Exchanger) Requests() []engine.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]engine.Request(nil), m.requests...)
}
