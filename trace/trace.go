// Package trace propagates request identifiers to outgoing requests.
package trace

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// contextKey is the type for context keys to avoid collisions
type contextKey string

const (
	requestIDKey   contextKey = "request_id"
	traceParentKey contextKey = "traceparent"

	// HeaderXRequestID is the standard header name for request tracing
	HeaderXRequestID = "X-Request-ID"
	// HeaderTraceParent is the W3C trace context header name
	HeaderTraceParent = "traceparent"
)

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext returns the request ID carried by ctx, if any.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if id, ok := ctx.Value(requestIDKey).(string); ok && id != "" {
		return id, true
	}
	return "", false
}

// EnsureRequestID returns a context that carries a request ID, generating one when missing.
// All attempts of a logical request share the ID.
func EnsureRequestID(ctx context.Context) (context.Context, string) {
	if id, ok := RequestIDFromContext(ctx); ok {
		return ctx, id
	}
	id := uuid.NewString()
	return WithRequestID(ctx, id), id
}

// WithTraceParent adds an inbound W3C traceparent value to the context
func WithTraceParent(ctx context.Context, traceParent string) context.Context {
	return context.WithValue(ctx, traceParentKey, traceParent)
}

// ParentFromContext returns the traceparent carried by ctx, if any.
func ParentFromContext(ctx context.Context) (string, bool) {
	if tp, ok := ctx.Value(traceParentKey).(string); ok && tp != "" {
		return tp, true
	}
	return "", false
}

// InjectHeaders writes X-Request-ID and W3C trace context into header.
// Headers already set by the caller are left alone. The active OpenTelemetry
// span takes precedence over a traceparent stored with WithTraceParent.
func InjectHeaders(ctx context.Context, header http.Header) {
	if header.Get(HeaderXRequestID) == "" {
		if id, ok := RequestIDFromContext(ctx); ok {
			header.Set(HeaderXRequestID, id)
		}
	}
	if header.Get(HeaderTraceParent) != "" {
		return
	}

	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(header))
	if header.Get(HeaderTraceParent) == "" {
		if tp, ok := ParentFromContext(ctx); ok {
			header.Set(HeaderTraceParent, tp)
		}
	}
}
