package tracking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	obtest "github.com/LeadPages/gcloud-requests/observability/testing"
)

// resetMeterForTesting resets the meter state for testing purposes
func resetMeterForTesting() {
	meterOnce = sync.Once{}
	meter = nil
}

func setupMeter(t *testing.T) *obtest.TestMeterProvider {
	t.Helper()
	mp := obtest.NewTestMeterProvider()
	t.Cleanup(func() {
		require.NoError(t, mp.Shutdown(context.Background()))
	})
	otel.SetMeterProvider(mp)
	resetMeterForTesting()
	return mp
}

func assertHasAttribute(t *testing.T, attrs []attribute.KeyValue, key string, want any) {
	t.Helper()
	for _, kv := range attrs {
		if string(kv.Key) != key {
			continue
		}
		switch v := want.(type) {
		case string:
			assert.Equal(t, v, kv.Value.AsString())
		case int:
			assert.Equal(t, int64(v), kv.Value.AsInt64())
		}
		return
	}
	t.Errorf("attribute %s not found", key)
}

func TestInitMeter(t *testing.T) {
	setupMeter(t)
	initMeter()

	assert.NotNil(t, meter)
	assert.NotNil(t, requestDuration)
	assert.NotNil(t, attempts)
	assert.NotNil(t, retries)
	assert.NotNil(t, refreshes)
	assert.NotNil(t, watcherTicks)
	assert.NotNil(t, watcherEvicts)
	assert.NotNil(t, watcherWait)
}

func TestRecordRequest(t *testing.T) {
	mp := setupMeter(t)

	RecordRequest(context.Background(), "datastore", "POST", 200, 3, 250*time.Millisecond, nil)

	rm := mp.Collect(t)
	durationMetric := obtest.FindMetric(rm, metricRequestDuration)
	require.NotNil(t, durationMetric)
	hist, ok := durationMetric.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.NotEmpty(t, hist.DataPoints)
	assert.InDelta(t, 0.25, hist.DataPoints[0].Sum, 0.001)

	attrs := hist.DataPoints[0].Attributes.ToSlice()
	assertHasAttribute(t, attrs, attrService, "datastore")
	assertHasAttribute(t, attrs, attrMethod, "POST")
	assertHasAttribute(t, attrs, attrStatusCode, 200)

	obtest.AssertMetricValue(t, rm, metricAttempts, int64(3))
}

func TestRecordRequestError(t *testing.T) {
	mp := setupMeter(t)

	RecordRequest(context.Background(), "storage", "GET", 0, 1, time.Millisecond, context.DeadlineExceeded)

	rm := mp.Collect(t)
	hist := obtest.FindMetric(rm, metricRequestDuration).Data.(metricdata.Histogram[float64])
	attrs := hist.DataPoints[0].Attributes.ToSlice()
	assertHasAttribute(t, attrs, attrErrorType, "context.DeadlineExceeded")
	for _, kv := range attrs {
		assert.NotEqual(t, attrStatusCode, string(kv.Key))
	}
}

func TestRecordRetryAndRefresh(t *testing.T) {
	mp := setupMeter(t)
	ctx := context.Background()

	RecordRetry(ctx, "pubsub", "UNAVAILABLE")
	RecordRetry(ctx, "pubsub", "UNAVAILABLE")
	RecordRefresh(ctx, RefreshSourceRequest, errors.New("denied"))

	rm := mp.Collect(t)
	obtest.AssertMetricValue(t, rm, metricRetries, int64(2))
	obtest.AssertMetricValue(t, rm, metricRefreshes, int64(1))

	sum := obtest.FindMetric(rm, metricRefreshes).Data.(metricdata.Sum[int64])
	attrs := sum.DataPoints[0].Attributes.ToSlice()
	assertHasAttribute(t, attrs, attrRefreshSource, RefreshSourceRequest)
	assertHasAttribute(t, attrs, attrRefreshResult, "failure")
}

func TestRecordWatcherTick(t *testing.T) {
	mp := setupMeter(t)

	RecordWatcherTick(context.Background(), 2, 1, 90*time.Second)

	rm := mp.Collect(t)
	obtest.AssertMetricValue(t, rm, metricWatcherTicks, int64(1))
	obtest.AssertMetricValue(t, rm, metricWatcherEvicts, int64(1))
	obtest.AssertMetricValue(t, rm, metricWatcherWait, 90.0)
}

func TestRequestSpan(t *testing.T) {
	tp := obtest.NewTestTraceProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	otel.SetTracerProvider(tp)

	_, span := StartRequest(context.Background(), "datastore", "POST", "https://example.test/v1:lookup")
	AddRetryEvent(span, "ABORTED", 1)
	AddRefreshEvent(span, nil)
	EndRequest(span, 503, 2, 1, nil)

	spans := tp.Exporter.GetSpans()
	require.Len(t, spans, 1)
	obtest.AssertSpanName(t, &spans[0], "gcloud_requests POST")
	obtest.AssertSpanAttribute(t, &spans[0], attrAttempts, 2)
	obtest.AssertSpanAttribute(t, &spans[0], attrStatusCode, 503)
	obtest.AssertSpanStatus(t, &spans[0], codes.Error)
	assert.Len(t, spans[0].Events, 2)
}

func TestExtractErrorType(t *testing.T) {
	assert.Empty(t, extractErrorType(nil))
	assert.Equal(t, "context.Canceled", extractErrorType(context.Canceled))
	assert.Equal(t, "*errors.errorString", extractErrorType(errors.New("x")))
	assert.InDelta(t, 1.5, durationToSeconds(1500*time.Millisecond), 1e-9)
}
