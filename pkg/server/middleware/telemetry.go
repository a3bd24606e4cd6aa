package middleware

import (
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"

	"mercator-hq/vigil/pkg/telemetry/logging"
	"mercator-hq/vigil/pkg/telemetry/tracing"
)

// unmatchedRoute labels requests no route pattern matched.
const unmatchedRoute = "unmatched"

// RequestRecorder receives per-request metrics. *metrics.Collector
// implements it.
type RequestRecorder interface {
	RecordHTTPRequest(route string, code int, duration time.Duration)
	TrackInFlight() func()
}

// TelemetryMiddleware starts a server span for each request, continuing any
// W3C trace context sent by the caller, and records request metrics.
//
// It must wrap the ServeMux directly: the mux stores the matched pattern on
// the request it receives, and spans and metrics are labelled with that
// pattern ("GET /v1/owners/{key}") so label cardinality stays bounded.
// Either tracer or recorder may be nil.
func TelemetryMiddleware(tracer trace.Tracer, recorder RequestRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			if recorder != nil {
				defer recorder.TrackInFlight()()
			}

			ctx := r.Context()
			var span trace.Span
			if tracer != nil {
				ctx, span = tracer.Start(tracing.Extract(ctx, r.Header), r.Method,
					trace.WithSpanKind(trace.SpanKindServer))
				defer span.End()
			}

			rw := newResponseWriter(w)
			r = r.WithContext(ctx)
			next.ServeHTTP(rw, r)

			route := r.Pattern
			if route == "" {
				route = unmatchedRoute
			}

			if span != nil {
				span.SetName(route)
				tracing.SetRequestAttributes(span, r.Method, route, logging.GetRequestID(ctx))
				tracing.SetStatusCode(span, rw.statusCode)
			}
			if recorder != nil {
				recorder.RecordHTTPRequest(route, rw.statusCode, time.Since(start))
			}
		})
	}
}
