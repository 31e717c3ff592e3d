package httpmw

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// AnnotateHTTPRoute sets http.route and renames the server span to
// "METHOD pattern" after chi has routed the request. Unmatched requests
// keep the name otelhttp gave them.
func AnnotateHTTPRoute(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)

		span := trace.SpanFromContext(r.Context())
		if !span.IsRecording() {
			return
		}
		pattern, ok := matchedRoute(r)
		if !ok {
			span.SetAttributes(attribute.Bool("app.route_matched", false))
			return
		}
		span.SetAttributes(attribute.String("http.route", pattern))
		span.SetName(r.Method + " " + pattern)
	})
}

func matchedRoute(r *http.Request) (string, bool) {
	rc := chi.RouteContext(r.Context())
	if rc == nil {
		return "", false
	}
	p := rc.RoutePattern()
	return p, p != ""
}

// RoutePattern is the matched chi pattern, or the raw path for 404s and
// 405s. Used for access logs only; metrics label unmatched routes instead.
func RoutePattern(r *http.Request) string {
	if p, ok := matchedRoute(r); ok {
		return p
	}
	return r.URL.Path
}
