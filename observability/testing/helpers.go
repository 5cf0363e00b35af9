// Package testing provides in-memory OpenTelemetry providers and assertions
// for testing the request transport's spans and metrics.
//
// Usage:
//
//	tp := NewTestTraceProvider()
//	defer tp.Shutdown(context.Background())
//	otel.SetTracerProvider(tp)
//
//	// exercise the client
//
//	spans := tp.Exporter.GetSpans()
//	require.Len(t, spans, 1)
//	AssertSpanName(t, &spans[0], "gcloud_requests POST")
package testing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

const (
	attrValueMismatchErrMsg   = "attribute %s value mismatch"
	metricNotFoundErrMsg      = "metric %s not found"
	metricValueMismatchErrMsg = "metric %s value mismatch"
)

// TestTraceProvider wraps the SDK TracerProvider and an in-memory exporter.
type TestTraceProvider struct {
	*sdktrace.TracerProvider
	Exporter *tracetest.InMemoryExporter
}

// NewTestTraceProvider creates a TracerProvider that exports spans synchronously to memory.
func NewTestTraceProvider() *TestTraceProvider {
	exporter := tracetest.NewInMemoryExporter()
	return &TestTraceProvider{
		TracerProvider: sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter)),
		Exporter:       exporter,
	}
}

// TestMeterProvider wraps the SDK MeterProvider and a manual reader.
type TestMeterProvider struct {
	*sdkmetric.MeterProvider
	Reader *sdkmetric.ManualReader
}

// NewTestMeterProvider creates a MeterProvider whose metrics are collected on demand.
func NewTestMeterProvider() *TestMeterProvider {
	reader := sdkmetric.NewManualReader()
	return &TestMeterProvider{
		MeterProvider: sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
		Reader:        reader,
	}
}

// Collect reads all metrics recorded so far.
func (tmp *TestMeterProvider) Collect(t *testing.T) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, tmp.Reader.Collect(context.Background(), &rm), "failed to collect metrics")
	return rm
}

// FindMetric returns the metric named metricName, or nil.
func FindMetric(rm metricdata.ResourceMetrics, metricName string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == metricName {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// AssertMetricValue asserts the first data point of a metric.
// Sums and gauges compare values; histograms compare the observation count.
func AssertMetricValue(t *testing.T, rm metricdata.ResourceMetrics, metricName string, expected any) {
	t.Helper()
	m := FindMetric(rm, metricName)
	require.NotNil(t, m, metricNotFoundErrMsg, metricName)

	switch data := m.Data.(type) {
	case metricdata.Sum[int64]:
		require.NotEmpty(t, data.DataPoints, metricNotFoundErrMsg, metricName)
		assert.Equal(t, toInt64(t, expected), data.DataPoints[0].Value, metricValueMismatchErrMsg, metricName)
	case metricdata.Gauge[int64]:
		require.NotEmpty(t, data.DataPoints, metricNotFoundErrMsg, metricName)
		assert.Equal(t, toInt64(t, expected), data.DataPoints[0].Value, metricValueMismatchErrMsg, metricName)
	case metricdata.Sum[float64]:
		require.NotEmpty(t, data.DataPoints, metricNotFoundErrMsg, metricName)
		assert.InDelta(t, toFloat64(t, expected), data.DataPoints[0].Value, 0.001, metricValueMismatchErrMsg, metricName)
	case metricdata.Gauge[float64]:
		require.NotEmpty(t, data.DataPoints, metricNotFoundErrMsg, metricName)
		assert.InDelta(t, toFloat64(t, expected), data.DataPoints[0].Value, 0.001, metricValueMismatchErrMsg, metricName)
	case metricdata.Histogram[float64]:
		require.NotEmpty(t, data.DataPoints, metricNotFoundErrMsg, metricName)
		assert.Equal(t, uint64(toInt64(t, expected)), data.DataPoints[0].Count, "metric %s count mismatch", metricName)
	case metricdata.Histogram[int64]:
		require.NotEmpty(t, data.DataPoints, metricNotFoundErrMsg, metricName)
		assert.Equal(t, uint64(toInt64(t, expected)), data.DataPoints[0].Count, "metric %s count mismatch", metricName)
	default:
		t.Fatalf("unsupported metric data type: %T", m.Data)
	}
}

func toInt64(t *testing.T, v any) int64 {
	t.Helper()
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	case uint64:
		return int64(n)
	default:
		t.Fatalf("unsupported expected value type %T", v)
		return 0
	}
}

func toFloat64(t *testing.T, v any) float64 {
	t.Helper()
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		t.Fatalf("unsupported expected value type %T", v)
		return 0
	}
}

// AssertSpanName asserts the name of a span.
func AssertSpanName(t *testing.T, span *tracetest.SpanStub, expected string) {
	t.Helper()
	assert.Equal(t, expected, span.Name, "span name mismatch")
}

// AssertSpanAttribute asserts that a span carries key with the expected value.
func AssertSpanAttribute(t *testing.T, span *tracetest.SpanStub, key string, expected any) {
	t.Helper()
	for _, attr := range span.Attributes {
		if attr.Key != attribute.Key(key) {
			continue
		}
		switch v := expected.(type) {
		case string:
			assert.Equal(t, v, attr.Value.AsString(), attrValueMismatchErrMsg, key)
		case int:
			assert.Equal(t, int64(v), attr.Value.AsInt64(), attrValueMismatchErrMsg, key)
		case int64:
			assert.Equal(t, v, attr.Value.AsInt64(), attrValueMismatchErrMsg, key)
		case bool:
			assert.Equal(t, v, attr.Value.AsBool(), attrValueMismatchErrMsg, key)
		default:
			t.Fatalf("unsupported attribute value type: %T", expected)
		}
		return
	}
	t.Errorf("attribute %s not found in span", key)
}

// AssertSpanStatus asserts the status code of a span.
func AssertSpanStatus(t *testing.T, span *tracetest.SpanStub, expected codes.Code) {
	t.Helper()
	assert.Equal(t, expected, span.Status.Code, "span status code mismatch")
}
