package observe

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumFor returns the value of the counter data point carrying key=value.
func sumFor(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value
		}
	}
	t.Fatalf("metric %q has no data point with %s=%s", name, key, value)
	return 0
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	histograms := []struct {
		name string
		h    metric.Float64Histogram
	}{
		{"toolweave.chat.duration", m.ChatDuration},
		{"toolweave.tool.duration", m.ToolDuration},
		{"toolweave.model.duration", m.ModelDuration},
		{"toolweave.http.request.duration", m.HTTPRequestDuration},
	}

	for _, tc := range histograms {
		tc.h.Record(ctx, 0.123)
		tc.h.Record(ctx, 0.456)
	}

	rm := collect(t, reader)

	for _, tc := range histograms {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is not a histogram", tc.name)
			}
			if len(hist.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", tc.name)
			}
			if got := hist.DataPoints[0].Count; got != 2 {
				t.Errorf("sample count = %d, want 2", got)
			}
		})
	}
}

func TestRecordToolCall(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordToolCall(ctx, "calculate", true, 2*time.Millisecond)
	m.RecordToolCall(ctx, "calculate", true, 3*time.Millisecond)
	m.RecordToolCall(ctx, "calculate", false, time.Millisecond)

	rm := collect(t, reader)
	if got := sumFor(t, rm, "toolweave.tool.calls", "status", "ok"); got != 2 {
		t.Errorf("ok calls = %d, want 2", got)
	}
	if got := sumFor(t, rm, "toolweave.tool.calls", "status", "error"); got != 1 {
		t.Errorf("error calls = %d, want 1", got)
	}

	hist, ok := findMetric(rm, "toolweave.tool.duration").Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) == 0 {
		t.Fatal("tool duration not recorded")
	}
	if got := hist.DataPoints[0].Count; got != 3 {
		t.Errorf("duration samples = %d, want 3", got)
	}
}

func TestRecordModelCall(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordModelCall(ctx, "loop", true, 50*time.Millisecond)
	m.RecordModelCall(ctx, "fastpath", false, 10*time.Millisecond)

	rm := collect(t, reader)
	if got := sumFor(t, rm, "toolweave.model.calls", "purpose", "loop"); got != 1 {
		t.Errorf("loop calls = %d, want 1", got)
	}
	if got := sumFor(t, rm, "toolweave.model.calls", "status", "error"); got != 1 {
		t.Errorf("error calls = %d, want 1", got)
	}
}

func TestRecordFastPath(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordFastPath(ctx, "weather")
	m.RecordFastPath(ctx, "weather")
	m.RecordFastPath(ctx, "calculator")

	rm := collect(t, reader)
	if got := sumFor(t, rm, "toolweave.fastpath.hits", "domain", "weather"); got != 2 {
		t.Errorf("weather hits = %d, want 2", got)
	}
}

func TestLoopIterations(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.LoopIterations.Record(ctx, 2)
	m.LoopIterations.Record(ctx, 5)

	rm := collect(t, reader)
	met := findMetric(rm, "toolweave.loop.iterations")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[int64])
	if !ok {
		t.Fatal("metric is not an int64 histogram")
	}
	if got := hist.DataPoints[0].Sum; got != 7 {
		t.Errorf("sum = %d, want 7", got)
	}
}

func TestActiveStreams(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveStreams.Add(ctx, 1)
	m.ActiveStreams.Add(ctx, 1)
	m.ActiveStreams.Add(ctx, -1)

	rm := collect(t, reader)
	met := findMetric(rm, "toolweave.active_streams")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok || len(sum.DataPoints) == 0 {
		t.Fatal("no data points")
	}
	if got := sum.DataPoints[0].Value; got != 1 {
		t.Errorf("gauge value = %d, want 1", got)
	}
}

func TestStatus(t *testing.T) {
	t.Parallel()
	if Status(true) != "ok" || Status(false) != "error" {
		t.Errorf("Status mapping wrong: %q %q", Status(true), Status(false))
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
