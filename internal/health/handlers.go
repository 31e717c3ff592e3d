package health

import "net/http"

// HealthzHandler serves 200 "ok" when c passes (or is nil), 503 with the reason otherwise
func HealthzHandler(c Checker) http.HandlerFunc {
	return statusHandler(c, "ok\n")
}

// ReadyzHandler serves 200 "ready" when c passes (or is nil), 503 with the reason otherwise
func ReadyzHandler(c Checker) http.HandlerFunc {
	return statusHandler(c, "ready\n")
}

func statusHandler(c Checker, okBody string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		if c != nil {
			if err := c.Check(r.Context()); err != nil {
				http.Error(w, err.Error()+"\n", http.StatusServiceUnavailable)
				return
			}
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(okBody))
	}
}
