// Package health serves the liveness and readiness probes.
//
//   - /healthz always answers 200 while the process runs.
//   - /readyz runs every [Checker] and answers 503 when a required one fails.
//     Optional checkers, such as the tool failure-rate check, only downgrade
//     the status to "degraded".
//
// Readiness results are cached briefly so frequent probes do not turn into
// a stream of model backend pings.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/toolweave/internal/tool"
	"github.com/MrWong99/toolweave/pkg/provider/llm"
)

const (
	checkTimeout    = 5 * time.Second
	defaultCacheTTL = 2 * time.Second
)

// Report statuses.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusFail     = "fail"
)

// Checker probes one dependency. Check returns nil when it is healthy.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error

	// Optional failures degrade the report without failing readiness.
	Optional bool
}

// Pinger is a dependency that can report its own reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Model checks the model backend. Providers that cannot be pinged are
// reported healthy.
func Model(p llm.Provider) Checker {
	return Checker{
		Name: "model",
		Check: func(ctx context.Context) error {
			if p == nil {
				return errors.New("no model backend configured")
			}
			if pg, ok := p.(llm.Pinger); ok {
				return pg.Ping(ctx)
			}
			return nil
		},
	}
}

// Ping checks any dependency with a Ping method, such as the history store.
func Ping(name string, p Pinger) Checker {
	return Checker{Name: name, Check: p.Ping}
}

// StatsSource exposes rolling tool statistics. *tool.Registry implements it.
type StatsSource interface {
	Definitions() []llm.ToolDefinition
	Stats(name string) (tool.Stats, bool)
}

// Tools is an optional checker that flags tools whose recent error rate is
// above maxErrorRate once they have at least minCalls invocations.
func Tools(src StatsSource, maxErrorRate float64, minCalls int) Checker {
	return Checker{
		Name:     "tools",
		Optional: true,
		Check: func(context.Context) error {
			var failing []string
			for _, d := range src.Definitions() {
				st, ok := src.Stats(d.Name)
				if !ok || st.Calls < minCalls {
					continue
				}
				if st.ErrorRate > maxErrorRate {
					failing = append(failing, fmt.Sprintf("%s (%.0f%% errors)", d.Name, st.ErrorRate*100))
				}
			}
			if len(failing) > 0 {
				return errors.New("failing: " + strings.Join(failing, ", "))
			}
			return nil
		},
	}
}

// Report is the JSON body of both probes.
type Report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the probes. The checker list is fixed at construction.
type Handler struct {
	checkers []Checker
	ttl      time.Duration
	now      func() time.Time

	mu       sync.Mutex
	cached   Report
	cachedAt time.Time
}

// Option configures a [Handler].
type Option func(*Handler)

// WithCacheTTL sets how long a readiness report is reused. Zero disables
// caching.
func WithCacheTTL(d time.Duration) Option {
	return func(h *Handler) { h.ttl = d }
}

// New creates a Handler evaluating checkers on /readyz.
func New(checkers []Checker, opts ...Option) *Handler {
	h := &Handler{
		checkers: append([]Checker(nil), checkers...),
		ttl:      defaultCacheTTL,
		now:      time.Now,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Healthz answers the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Report{Status: StatusOK})
}

// Readyz answers the readiness probe.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	rep := h.Check(r.Context())
	status := http.StatusOK
	if rep.Status == StatusFail {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, rep)
}

// Check returns the readiness report, reusing a fresh cached one.
func (h *Handler) Check(ctx context.Context) Report {
	h.mu.Lock()
	if h.ttl > 0 && !h.cachedAt.IsZero() && h.now().Sub(h.cachedAt) < h.ttl {
		rep := h.cached
		h.mu.Unlock()
		return rep
	}
	h.mu.Unlock()

	rep := h.run(ctx)

	h.mu.Lock()
	h.cached, h.cachedAt = rep, h.now()
	h.mu.Unlock()
	return rep
}

// run evaluates all checkers concurrently, each under [checkTimeout].
func (h *Handler) run(ctx context.Context) Report {
	var (
		mu       sync.Mutex
		checks   = make(map[string]string, len(h.checkers))
		failed   bool
		degraded bool
	)
	var g errgroup.Group
	for _, c := range h.checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			err := c.Check(cctx)
			cancel()

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				checks[c.Name] = StatusOK
			case c.Optional:
				checks[c.Name] = StatusDegraded + ": " + err.Error()
				degraded = true
			default:
				checks[c.Name] = StatusFail + ": " + err.Error()
				failed = true
			}
			return nil
		})
	}
	_ = g.Wait()

	rep := Report{Status: StatusOK, Checks: checks}
	switch {
	case failed:
		rep.Status = StatusFail
	case degraded:
		rep.Status = StatusDegraded
	}
	return rep
}

// Register adds /healthz and /readyz to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
