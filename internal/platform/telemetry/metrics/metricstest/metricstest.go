// Package metricstest collects recorder output in tests.
package metricstest

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/louisbranch/livesession/internal/platform/telemetry/metrics"
)

// Harness pairs a Recorder with the manual reader that observes it.
type Harness struct {
	Recorder *metrics.Recorder
	reader   *sdkmetric.ManualReader
}

// New returns a Harness backed by an in-memory meter provider.
func New(t testing.TB) *Harness {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	recorder, err := metrics.New(provider)
	if err != nil {
		t.Fatalf("create recorder: %v", err)
	}
	return &Harness{Recorder: recorder, reader: reader}
}

// Counter sums every data point of the named counter whose attributes
// include attrs.
func (h *Harness) Counter(t testing.TB, name string, attrs ...attribute.KeyValue) int64 {
	t.Helper()
	var total int64
	for _, m := range h.collect(t) {
		if m.Name != name {
			continue
		}
		sum, ok := m.Data.(metricdata.Sum[int64])
		if !ok {
			t.Fatalf("metric %s is %T, not an int64 sum", name, m.Data)
		}
		for _, dp := range sum.DataPoints {
			if hasAttrs(dp.Attributes, attrs) {
				total += dp.Value
			}
		}
	}
	return total
}

// Gauge returns the last value of the named gauge whose attributes include
// attrs, and whether any matching point exists.
func (h *Harness) Gauge(t testing.TB, name string, attrs ...attribute.KeyValue) (int64, bool) {
	t.Helper()
	for _, m := range h.collect(t) {
		if m.Name != name {
			continue
		}
		gauge, ok := m.Data.(metricdata.Gauge[int64])
		if !ok {
			t.Fatalf("metric %s is %T, not an int64 gauge", name, m.Data)
		}
		for _, dp := range gauge.DataPoints {
			if hasAttrs(dp.Attributes, attrs) {
				return dp.Value, true
			}
		}
	}
	return 0, false
}

func (h *Harness) collect(t testing.TB) []metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := h.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect metrics: %v", err)
	}
	var out []metricdata.Metrics
	for _, scope := range rm.ScopeMetrics {
		out = append(out, scope.Metrics...)
	}
	return out
}

func hasAttrs(set attribute.Set, attrs []attribute.KeyValue) bool {
	for _, want := range attrs {
		got, ok := set.Value(want.Key)
		if !ok || got.Emit() != want.Value.Emit() {
			return false
		}
	}
	return true
}
