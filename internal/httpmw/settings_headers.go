package httpmw

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RevisionInfo reports the revision of the remote settings overlay.
type RevisionInfo interface {
	SettingsRevision() string
}

// SettingsRevisionHeader is set on every response while a remote settings
// overlay is active.
const SettingsRevisionHeader = "X-Settings-Revision"

// SettingsHeaders adds X-Settings-Revision (first 12 chars of the revision
// digest) and tags the span with the full revision.
func SettingsHeaders(info RevisionInfo) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if info == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rev := info.SettingsRevision(); rev != "" {
				short := rev
				if len(short) > 12 {
					short = short[:12]
				}
				w.Header().Set(SettingsRevisionHeader, short)
				if span := trace.SpanFromContext(r.Context()); span.IsRecording() {
					span.SetAttributes(attribute.String("app.settings.revision", rev))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
