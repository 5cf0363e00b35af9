package tracking

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName      = "gcloud-requests"
	attrURL         = "url.full"
	attrAttempts    = "gcloud_requests.attempts"
	attrRefreshes   = "gcloud_requests.refreshes"
	spanNamePrefix  = "gcloud_requests "
	eventRetry      = "retry"
	eventRefresh    = "credential.refresh"
	attrRetryNumber = "retry.number"
)

// StartRequest opens a client span for one logical request.
func StartRequest(ctx context.Context, service, method, url string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, spanNamePrefix+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String(attrService, service),
			attribute.String(attrMethod, method),
			attribute.String(attrURL, url),
		),
	)
}

// AddRetryEvent annotates span with a resend caused by reason.
func AddRetryEvent(span trace.Span, reason string, retryNumber int) {
	span.AddEvent(eventRetry, trace.WithAttributes(
		attribute.String(attrRetryReason, reason),
		attribute.Int(attrRetryNumber, retryNumber),
	))
}

// AddRefreshEvent annotates span with a reactive credential refresh.
func AddRefreshEvent(span trace.Span, err error) {
	span.AddEvent(eventRefresh, trace.WithAttributes(
		attribute.String(attrRefreshResult, refreshResult(err)),
	))
}

// EndRequest closes span with the final outcome.
func EndRequest(span trace.Span, status, attemptCount, refreshCount int, err error) {
	span.SetAttributes(
		attribute.Int(attrAttempts, attemptCount),
		attribute.Int(attrRefreshes, refreshCount),
	)
	if status > 0 {
		span.SetAttributes(attribute.Int(attrStatusCode, status))
	}
	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case status >= 500:
		span.SetStatus(codes.Error, "")
	}
	span.End()
}
