package httpmw

import (
	"net/http"

	"go.opentelemetry.io/otel/trace"
)

const (
	TraceIDHeader = "X-Trace-Id"
	SpanIDHeader  = "X-Span-Id"
)

// TraceResponseHeaders copies the server span ids onto the response so a
// caller holding an echo response can look the request up in tracing.
// Unsampled spans are included; their ids still appear in the logs.
func TraceResponseHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sc := trace.SpanContextFromContext(r.Context())
		if sc.IsValid() {
			h := w.Header()
			h.Set(TraceIDHeader, sc.TraceID().String())
			h.Set(SpanIDHeader, sc.SpanID().String())
		}
		next.ServeHTTP(w, r)
	})
}
