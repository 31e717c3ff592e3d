package httpmw

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/keithlinneman/linnemanlabs-echo/internal/log"
	"github.com/keithlinneman/linnemanlabs-echo/internal/xerrors"
)

// Recover turns a handler panic into a 500 and logs it. onPanic, if set,
// runs after logging (used for the panics counter).
// http.ErrAbortHandler is re-raised so net/http can abort the connection.
func Recover(logger log.Logger, onPanic func()) func(http.Handler) http.Handler {
	if logger == nil {
		logger = log.Nop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(rec)
				}

				var err error
				if e, ok := rec.(error); ok {
					err = xerrors.Wrap(e, "panic")
				} else {
					err = xerrors.Newf("panic: %v", rec)
				}

				ctx := r.Context()
				// prefer the request-scoped logger when WithLogger ran
				L := logger
				if cl := log.FromContext(ctx); cl != log.Nop() {
					L = cl
				}
				L.With(
					"http.request.method", r.Method,
					"url.path", r.URL.Path,
				).Error(ctx, err, "httpserver panic recovered",
					"panic_stack", string(debug.Stack()),
				)

				if onPanic != nil {
					onPanic()
				}

				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.Header().Set("X-Content-Type-Options", "nosniff")
				w.WriteHeader(http.StatusInternalServerError)
				fmt.Fprintln(w, `{"detail":"A server error occurred."}`)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
