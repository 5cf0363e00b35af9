// Package tracking records OpenTelemetry metrics and spans for the request
// transport and the credential watcher.
package tracking

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "gcloud-requests"

	// Standard OTel HTTP client metric name (semconv v1.37.0)
	metricRequestDuration = "http.client.request.duration"

	// Library-specific metrics
	metricAttempts      = "gcloud_requests.client.attempts"
	metricRetries       = "gcloud_requests.client.retries"
	metricRefreshes     = "gcloud_requests.credentials.refreshes"
	metricWatcherTicks  = "gcloud_requests.watcher.ticks"
	metricWatcherEvicts = "gcloud_requests.watcher.evictions"
	metricWatcherWait   = "gcloud_requests.watcher.wait"

	attrService       = "gcloud_requests.service"
	attrMethod        = "http.request.method"
	attrStatusCode    = "http.response.status_code"
	attrErrorType     = "error.type"
	attrRetryReason   = "retry.reason"
	attrRefreshSource = "gcloud_requests.refresh.source"
	attrRefreshResult = "gcloud_requests.refresh.result"
)

// Refresh sources.
const (
	// RefreshSourceWatch marks refreshes issued by the background watcher.
	RefreshSourceWatch = "watch"
	// RefreshSourceRequest marks refreshes issued while serving a request.
	RefreshSourceRequest = "request"
)

var (
	meter       metric.Meter
	meterOnce   sync.Once
	meterInitMu sync.Mutex

	requestDuration metric.Float64Histogram
	attempts        metric.Int64Counter
	retries         metric.Int64Counter
	refreshes       metric.Int64Counter
	watcherTicks    metric.Int64Counter
	watcherEvicts   metric.Int64Counter
	watcherWait     metric.Float64Gauge
)

// logMetricError logs a metric registration error to stderr.
// Metrics failures must not break request handling.
func logMetricError(metricName string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "WARNING: Failed to initialize metric %s: %v\n", metricName, err)
	}
}

func initMeter() {
	meterInitMu.Lock()
	defer meterInitMu.Unlock()

	if meter != nil {
		return
	}
	meter = otel.Meter(meterName)

	var err error
	requestDuration, err = meter.Float64Histogram(
		metricRequestDuration,
		metric.WithDescription("Duration of logical requests including retries and refreshes"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.075, 0.1, 0.25, 0.5, 0.75, 1, 2.5, 5, 7.5, 10, 30),
	)
	logMetricError(metricRequestDuration, err)

	attempts, err = meter.Int64Counter(
		metricAttempts,
		metric.WithDescription("Number of HTTP attempts sent on behalf of logical requests"),
		metric.WithUnit("{attempt}"),
	)
	logMetricError(metricAttempts, err)

	retries, err = meter.Int64Counter(
		metricRetries,
		metric.WithDescription("Number of resends caused by classified transient failures"),
		metric.WithUnit("{retry}"),
	)
	logMetricError(metricRetries, err)

	refreshes, err = meter.Int64Counter(
		metricRefreshes,
		metric.WithDescription("Number of credential refresh attempts"),
		metric.WithUnit("{refresh}"),
	)
	logMetricError(metricRefreshes, err)

	watcherTicks, err = meter.Int64Counter(
		metricWatcherTicks,
		metric.WithDescription("Number of credential watcher ticks"),
		metric.WithUnit("{tick}"),
	)
	logMetricError(metricWatcherTicks, err)

	watcherEvicts, err = meter.Int64Counter(
		metricWatcherEvicts,
		metric.WithDescription("Number of credentials evicted after unexpected failures"),
		metric.WithUnit("{credential}"),
	)
	logMetricError(metricWatcherEvicts, err)

	watcherWait, err = meter.Float64Gauge(
		metricWatcherWait,
		metric.WithDescription("Sleep computed by the last watcher tick"),
		metric.WithUnit("s"),
	)
	logMetricError(metricWatcherWait, err)
}

func getMeter() metric.Meter {
	meterOnce.Do(initMeter)
	return meter
}

// RecordRequest records the outcome of one logical request.
// status is 0 when no response was received.
func RecordRequest(ctx context.Context, service, method string, status, attemptCount int, duration time.Duration, err error) {
	if getMeter() == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrService, service),
		attribute.String(attrMethod, method),
	}
	if status > 0 {
		attrs = append(attrs, attribute.Int(attrStatusCode, status))
	}
	if errorType := extractErrorType(err); errorType != "" {
		attrs = append(attrs, attribute.String(attrErrorType, errorType))
	}

	if requestDuration != nil {
		requestDuration.Record(ctx, durationToSeconds(duration), metric.WithAttributes(attrs...))
	}
	if attempts != nil && attemptCount > 0 {
		attempts.Add(ctx, int64(attemptCount), metric.WithAttributes(attrs...))
	}
}

// RecordRetry records one resend caused by a classified failure.
func RecordRetry(ctx context.Context, service, reason string) {
	if getMeter() == nil || retries == nil {
		return
	}
	retries.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrService, service),
		attribute.String(attrRetryReason, reason),
	))
}

// RecordRefresh records one credential refresh attempt.
func RecordRefresh(ctx context.Context, source string, err error) {
	if getMeter() == nil || refreshes == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String(attrRefreshSource, source),
		attribute.String(attrRefreshResult, refreshResult(err)),
	}
	if errorType := extractErrorType(err); errorType != "" {
		attrs = append(attrs, attribute.String(attrErrorType, errorType))
	}
	refreshes.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordWatcherTick records one pass of the credential watcher.
func RecordWatcherTick(ctx context.Context, watched, evicted int, wait time.Duration) {
	if getMeter() == nil {
		return
	}
	if watcherTicks != nil {
		watcherTicks.Add(ctx, 1)
	}
	if watcherEvicts != nil && evicted > 0 {
		watcherEvicts.Add(ctx, int64(evicted))
	}
	if watcherWait != nil {
		watcherWait.Record(ctx, durationToSeconds(wait), metric.WithAttributes(
			attribute.Int("gcloud_requests.watcher.watched", watched),
		))
	}
}
