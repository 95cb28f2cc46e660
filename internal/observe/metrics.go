// Package observe provides the observability primitives shared by the
// engine and the HTTP server: OpenTelemetry metrics, distributed tracing,
// trace-aware structured logging, and the HTTP middleware that ties them
// together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and scraped
// through the Prometheus exporter installed by [InitProvider]. Tests should
// build a private instance with [NewMetrics] and a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all toolweave metrics.
const meterName = "github.com/MrWong99/toolweave"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// ChatDuration tracks end-to-end exchange latency. Use with attribute:
	//   attribute.String("path", "fastpath"|"loop")
	ChatDuration metric.Float64Histogram

	// ToolDuration tracks tool execution latency by tool name.
	ToolDuration metric.Float64Histogram

	// ModelDuration tracks model backend latency.
	ModelDuration metric.Float64Histogram

	// ToolCalls counts tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// ModelCalls counts model backend calls. Use with attributes:
	//   attribute.String("purpose", ...), attribute.String("status", ...)
	ModelCalls metric.Int64Counter

	// FastPathHits counts exchanges answered without the tool-calling loop.
	// Use with attribute: attribute.String("domain", ...)
	FastPathHits metric.Int64Counter

	// LoopIterations records how many model turns one loop run took.
	LoopIterations metric.Int64Histogram

	// ActiveStreams tracks the number of open SSE and WebSocket streams.
	ActiveStreams metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// tool calls and model round trips.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ChatDuration, err = m.Float64Histogram("toolweave.chat.duration",
		metric.WithDescription("Latency of one chat exchange."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolDuration, err = m.Float64Histogram("toolweave.tool.duration",
		metric.WithDescription("Latency of tool execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ModelDuration, err = m.Float64Histogram("toolweave.model.duration",
		metric.WithDescription("Latency of model backend calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LoopIterations, err = m.Int64Histogram("toolweave.loop.iterations",
		metric.WithDescription("Model turns taken by one tool-calling loop run."),
		metric.WithExplicitBucketBoundaries(1, 2, 3, 4, 5, 8),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ToolCalls, err = m.Int64Counter("toolweave.tool.calls",
		metric.WithDescription("Total tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.ModelCalls, err = m.Int64Counter("toolweave.model.calls",
		metric.WithDescription("Total model backend calls by purpose and status."),
	); err != nil {
		return nil, err
	}
	if met.FastPathHits, err = m.Int64Counter("toolweave.fastpath.hits",
		metric.WithDescription("Exchanges answered by a fast path, by domain."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveStreams, err = m.Int64UpDownCounter("toolweave.active_streams",
		metric.WithDescription("Number of open event streams."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("toolweave.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// Status maps a success flag to the "ok"/"error" status attribute value.
func Status(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

// RecordToolCall records one tool invocation: the counter increment and its
// latency.
func (m *Metrics) RecordToolCall(ctx context.Context, tool string, ok bool, d time.Duration) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", Status(ok)),
		),
	)
	m.ToolDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("tool", tool)))
}

// RecordModelCall records one model backend call. purpose is "loop" or
// "fastpath".
func (m *Metrics) RecordModelCall(ctx context.Context, purpose string, ok bool, d time.Duration) {
	m.ModelCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("purpose", purpose),
			attribute.String("status", Status(ok)),
		),
	)
	m.ModelDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("purpose", purpose)))
}

// RecordFastPath records a fast-path hit for domain.
func (m *Metrics) RecordFastPath(ctx context.Context, domain string) {
	m.FastPathHits.Add(ctx, 1, metric.WithAttributes(attribute.String("domain", domain)))
}

// RecordChat records the latency of one exchange.
func (m *Metrics) RecordChat(ctx context.Context, path string, d time.Duration) {
	m.ChatDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("path", path)))
}
