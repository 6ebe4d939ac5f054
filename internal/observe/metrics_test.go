package observe

import (
	"context"
	"testing"

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

func TestRecordCaptureChunk(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordCaptureChunk(ctx, "sent")
	m.RecordCaptureChunk(ctx, "sent")
	m.RecordCaptureChunk(ctx, "discarded")

	rm := collect(t, reader)
	found := findMetric(rm, "flowcall.capture.chunks")
	if found == nil {
		t.Fatal("metric flowcall.capture.chunks not found")
	}
	sum, ok := found.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type %T", found.Data)
	}

	byStatus := map[string]int64{}
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key("status")); ok {
			byStatus[v.AsString()] = dp.Value
		}
	}
	if byStatus["sent"] != 2 {
		t.Errorf("sent = %d, want 2", byStatus["sent"])
	}
	if byStatus["discarded"] != 1 {
		t.Errorf("discarded = %d, want 1", byStatus["discarded"])
	}
}

func TestRecordTransportEvent(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTransportEvent(ctx, "response.audio.delta")
	m.RecordTransportEvent(ctx, "response.audio.delta")
	m.RecordTransportEvent(ctx, "error")

	rm := collect(t, reader)
	found := findMetric(rm, "flowcall.transport.events")
	if found == nil {
		t.Fatal("metric flowcall.transport.events not found")
	}
	sum, ok := found.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type %T", found.Data)
	}

	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	if total != 3 {
		t.Errorf("total events = %d, want 3", total)
	}
}

func TestSpeakingClipsUpDown(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.SpeakingClips.Add(ctx, 1)
	m.SpeakingClips.Add(ctx, 1)
	m.SpeakingClips.Add(ctx, -1)

	rm := collect(t, reader)
	found := findMetric(rm, "flowcall.speaking_clips")
	if found == nil {
		t.Fatal("metric flowcall.speaking_clips not found")
	}
	sum, ok := found.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type %T", found.Data)
	}
	if len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 1 {
		t.Errorf("speaking clips = %+v, want single data point of 1", sum.DataPoints)
	}
}

func TestExchangeDurationHistogram(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ExchangeDuration.Record(ctx, 0.8, metric.WithAttributes(Attr("status", "ok")))
	m.ExchangeDuration.Record(ctx, 1.3, metric.WithAttributes(Attr("status", "ok")))

	rm := collect(t, reader)
	found := findMetric(rm, "flowcall.exchange.duration")
	if found == nil {
		t.Fatal("metric flowcall.exchange.duration not found")
	}
	hist, ok := found.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("unexpected data type %T", found.Data)
	}
	if len(hist.DataPoints) != 1 {
		t.Fatalf("data points = %d, want 1", len(hist.DataPoints))
	}
	if hist.DataPoints[0].Count != 2 {
		t.Errorf("count = %d, want 2", hist.DataPoints[0].Count)
	}
}

func TestDefaultMetricsSingleton(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different instances")
	}
}
