package telemetry

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/itsneelabh/betpilot/core"
)

func newTestProvider(t *testing.T) (*OTelProvider, *tracetest.SpanRecorder, *sdkmetric.ManualReader) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		_ = mp.Shutdown(context.Background())
	})
	return NewOTelProvider(tp, mp), recorder, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func TestProviderImplementsTelemetry(t *testing.T) {
	var _ core.Telemetry = (*OTelProvider)(nil)
}

func TestStartSpanRecordsAttributesAndErrors(t *testing.T) {
	p, recorder, _ := newTestProvider(t)

	_, span := p.StartSpan(context.Background(), "reconcile.collection")
	span.SetAttribute("collection", "predictions")
	span.SetAttribute("rows", 3)
	span.SetAttribute("dry_run", false)
	span.SetAttribute("ratio", 0.5)
	span.SetAttribute("other", time.Second)
	span.RecordError(errors.New("remote fetch failed"))
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "reconcile.collection", ended[0].Name())

	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range ended[0].Attributes() {
		attrs[kv.Key] = kv.Value
	}
	assert.Equal(t, "predictions", attrs["collection"].AsString())
	assert.Equal(t, int64(3), attrs["rows"].AsInt64())
	assert.False(t, attrs["dry_run"].AsBool())
	assert.Equal(t, 0.5, attrs["ratio"].AsFloat64())
	assert.Equal(t, "1s", attrs["other"].AsString())
	require.Len(t, ended[0].Events(), 1, "RecordError adds an exception event")
}

func TestRecordMetricRoutesByName(t *testing.T) {
	p, _, reader := newTestProvider(t)

	p.RecordMetric(MetricReconcilePushed, 2, map[string]string{"collection": "teams"})
	p.RecordMetric(MetricReconcilePushed, 3, map[string]string{"collection": "teams"})
	p.RecordMetric(MetricDiscoveryDuration, 120, nil)

	data := collect(t, reader)

	sum, ok := data[MetricReconcilePushed].(metricdata.Sum[float64])
	require.True(t, ok, "counter expected, got %T", data[MetricReconcilePushed])
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, 5.0, sum.DataPoints[0].Value)

	hist, ok := data[MetricDiscoveryDuration].(metricdata.Histogram[float64])
	require.True(t, ok, "histogram expected, got %T", data[MetricDiscoveryDuration])
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(1), hist.DataPoints[0].Count)
}

func TestMetricInstrumentsCache(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = mp.Shutdown(context.Background()) }()

	m := NewMetricInstruments(mp.Meter("test"))
	ctx := context.Background()
	require.NoError(t, m.RecordCounter(ctx, MetricActionAttempts, 1))
	require.NoError(t, m.RecordCounter(ctx, MetricActionAttempts, 1))
	require.NoError(t, m.RecordError(ctx, MetricReconcileFailures, "remote_fetch"))

	assert.Len(t, m.counters, 2)

	data := collect(t, reader)
	sum := data[MetricActionAttempts].(metricdata.Sum[int64])
	assert.Equal(t, int64(2), sum.DataPoints[0].Value)
}

func TestSetupDisabledIsNoop(t *testing.T) {
	p, err := Setup(context.Background(), core.TelemetryConfig{Enabled: false}, "betpilot")
	require.NoError(t, err)

	_, span := p.StartSpan(context.Background(), "noop")
	span.SetAttribute("k", "v")
	span.End()
	p.RecordMetric("executor.attempts", 1, nil)
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestSpanExporterSelection(t *testing.T) {
	var buf bytes.Buffer
	exp, err := newSpanExporter(context.Background(), core.TelemetryConfig{Exporter: "stdout"}, &buf)
	require.NoError(t, err)
	require.NoError(t, exp.Shutdown(context.Background()))

	_, err = newSpanExporter(context.Background(), core.TelemetryConfig{Exporter: "zipkin"}, &buf)
	assert.ErrorIs(t, err, core.ErrInvalidConfiguration)
}

func TestTracedHTTPClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := NewTracedHTTPClient(2 * time.Second)
	assert.Equal(t, 2*time.Second, client.Timeout)

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}
