package httpmw

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/keithlinneman/linnemanlabs-echo/internal/log"
)

// spyLogger captures Error calls.
type spyLogger struct {
	log.Logger
	mu     sync.Mutex
	errors []spyError
}

type spyError struct {
	msg string
	err error
	kv  []any
}

func newSpyLogger() *spyLogger { return &spyLogger{Logger: log.Nop()} }

func (s *spyLogger) With(kv ...any) log.Logger { return s }

func (s *spyLogger) Error(_ context.Context, err error, msg string, kv ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, spyError{msg: msg, err: err, kv: kv})
}

func (s *spyLogger) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.errors)
}

func panicking(v any) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { panic(v) })
}

func TestRecover_NoPanic(t *testing.T) {
	spy := newSpyLogger()
	h := Recover(spy, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	if rec.Code != http.StatusCreated || spy.count() != 0 {
		t.Fatalf("code=%d errors=%d", rec.Code, spy.count())
	}
}

func TestRecover_PanicValues(t *testing.T) {
	for _, v := range []any{"something broke", errors.New("lost"), 42} {
		spy := newSpyLogger()
		rec := httptest.NewRecorder()
		Recover(spy, nil)(panicking(v)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/settings/", http.NoBody))

		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("%v: status = %d", v, rec.Code)
		}
		if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
			t.Fatalf("%v: content-type = %q", v, ct)
		}
		if spy.count() != 1 || spy.errors[0].msg != "httpserver panic recovered" || spy.errors[0].err == nil {
			t.Fatalf("%v: logged = %+v", v, spy.errors)
		}
	}
}

func TestRecover_WrapsErrorPanic(t *testing.T) {
	spy := newSpyLogger()
	cause := errors.New("db gone")
	Recover(spy, nil)(panicking(cause)).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	if !errors.Is(spy.errors[0].err, cause) {
		t.Fatalf("logged err %v should wrap the panic value", spy.errors[0].err)
	}
}

func TestRecover_OnPanicCalled(t *testing.T) {
	called := 0
	Recover(newSpyLogger(), func() { called++ })(panicking("boom")).
		ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	if called != 1 {
		t.Fatalf("onPanic called %d times", called)
	}
}

func TestRecover_PrefersContextLogger(t *testing.T) {
	base, scoped := newSpyLogger(), newSpyLogger()
	r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	r = r.WithContext(log.WithContext(r.Context(), scoped))

	Recover(base, nil)(panicking("boom")).ServeHTTP(httptest.NewRecorder(), r)

	if base.count() != 0 || scoped.count() != 1 {
		t.Fatalf("base=%d scoped=%d", base.count(), scoped.count())
	}
}

func TestRecover_AbortHandlerPropagates(t *testing.T) {
	defer func() {
		if r := recover(); r != http.ErrAbortHandler {
			t.Fatalf("recovered %v, want http.ErrAbortHandler", r)
		}
	}()
	Recover(newSpyLogger(), nil)(panicking(http.ErrAbortHandler)).
		ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	t.Fatal("expected panic to propagate")
}
