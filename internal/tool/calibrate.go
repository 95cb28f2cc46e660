package tool

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Calibrate probes every read-only tool that takes no required parameters
// once, concurrently, so that [Registry.Stats] carries a latency baseline
// before the first user request. Write tools are never probed.
//
// Probe failures are recorded in the tools' statistics, not returned; only
// context cancellation is reported.
func (r *Registry) Calibrate(ctx context.Context) error {
	r.mu.RLock()
	var names []string
	for _, name := range r.order {
		t := r.entries[name].tool
		if t.SideEffect == SideEffectRead && len(requiredParams(t.Definition.Parameters)) == 0 {
			names = append(names, name)
		}
	}
	r.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, name := range names {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r.Invoke(gctx, name, nil)
			return nil
		})
	}
	return g.Wait()
}
