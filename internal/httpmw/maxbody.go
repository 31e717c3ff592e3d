package httpmw

import (
	"fmt"
	"net/http"
)

// MaxBody limits request body size. A declared Content-Length over the limit
// is refused with 413 up front; otherwise reads past the limit fail with
// *http.MaxBytesError and the handler is expected to answer 413.
// limit <= 0 disables the check.
func MaxBody(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limit <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > limit {
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.Header().Set("Connection", "close")
				w.WriteHeader(http.StatusRequestEntityTooLarge)
				fmt.Fprintf(w, "{\"detail\":\"Request body exceeds %d bytes.\"}\n", limit)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}
