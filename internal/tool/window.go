package tool

import (
	"slices"
	"sync"
	"time"
)

const defaultWindowSize = 100

// Stats is a snapshot of a tool's recent invocation history.
type Stats struct {
	Calls     int
	ErrorRate float64
	P50       time.Duration
	P99       time.Duration
}

// rollingWindow keeps the last size latencies of a tool in a ring buffer
// together with whether each call failed. Safe for concurrent use.
type rollingWindow struct {
	mu      sync.Mutex
	samples []time.Duration
	failed  []bool
	pos     int
	count   int
}

func newRollingWindow(size int) *rollingWindow {
	if size <= 0 {
		size = defaultWindowSize
	}
	return &rollingWindow{
		samples: make([]time.Duration, size),
		failed:  make([]bool, size),
	}
}

func (w *rollingWindow) record(d time.Duration, failed bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples[w.pos] = d
	w.failed[w.pos] = failed
	w.pos = (w.pos + 1) % len(w.samples)
	w.count++
}

func (w *rollingWindow) stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	n := min(w.count, len(w.samples))
	st := Stats{Calls: w.count}
	if n == 0 {
		return st
	}

	sorted := slices.Clone(w.samples[:n])
	slices.Sort(sorted)
	st.P50 = sorted[n/2]
	st.P99 = sorted[int(float64(n-1)*0.99)]

	errs := 0
	for _, f := range w.failed[:n] {
		if f {
			errs++
		}
	}
	st.ErrorRate = float64(errs) / float64(n)
	return st
}
