package tracing

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys shared by Vigil spans. The retention sweeper uses the same
// owner and window keys.
const (
	AttrOwnerKey  = "owner.key"
	AttrWindow    = "retention.window"
	AttrRequestID = "vigil.request_id"
	AttrResultID  = "vigil.result.id"
)

// SetRequestAttributes sets the HTTP server attributes of an API request.
func SetRequestAttributes(span trace.Span, method, route, requestID string) {
	span.SetAttributes(
		semconv.HTTPMethod(method),
		semconv.HTTPRoute(route),
		attribute.String(AttrRequestID, requestID),
	)
}

// SetStatusCode records the response status. 5xx responses mark the span
// as failed.
func SetStatusCode(span trace.Span, code int) {
	span.SetAttributes(semconv.HTTPStatusCode(code))
	if code >= 500 {
		span.SetStatus(codes.Error, "server error")
	}
}

// SetOwner sets the owner key attribute.
func SetOwner(span trace.Span, ownerKey string) {
	if ownerKey != "" {
		span.SetAttributes(attribute.String(AttrOwnerKey, ownerKey))
	}
}

// SetError records err on the span and marks it as failed.
func SetError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
