package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/keithlinneman/linnemanlabs-echo/internal/httpmw"
)

func newTestLimiter(t *testing.T, opts ...Option) *IPLimiter {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	all := append([]Option{WithRate(1, 3), WithTTL(time.Hour)}, opts...)
	return New(ctx, all...)
}

func TestAllow_BurstThenReject(t *testing.T) {
	l := newTestLimiter(t)
	for i := 0; i < 3; i++ {
		if !l.allow("1.1.1.1") {
			t.Fatalf("request %d should be allowed within burst", i)
		}
	}
	if l.allow("1.1.1.1") {
		t.Fatal("request past burst should be denied")
	}
	if !l.allow("2.2.2.2") {
		t.Fatal("other IPs have their own bucket")
	}
}

func TestAllow_Refill(t *testing.T) {
	l := newTestLimiter(t, WithRate(50, 1))
	if !l.allow("ip") || l.allow("ip") {
		t.Fatal("burst of 1 expected")
	}
	time.Sleep(60 * time.Millisecond)
	if !l.allow("ip") {
		t.Fatal("bucket should have refilled")
	}
}

func TestCallbacks(t *testing.T) {
	var first, denied atomic.Int32
	l := newTestLimiter(t,
		WithOnFirstDenied(func(string) { first.Add(1) }),
		WithOnDenied(func(string) { denied.Add(1) }),
	)
	for i := 0; i < 6; i++ {
		l.allow("ip")
	}
	if first.Load() != 1 {
		t.Fatalf("OnFirstDenied = %d, want 1", first.Load())
	}
	if denied.Load() != 3 {
		t.Fatalf("OnDenied = %d, want 3", denied.Load())
	}
}

func TestNilCallbacks_NoPanic(t *testing.T) {
	l := newTestLimiter(t, WithMaxVisitors(1))
	for i := 0; i < 5; i++ {
		l.allow("a")
		l.allow("b")
	}
}

func TestEvict(t *testing.T) {
	var first atomic.Int32
	l := newTestLimiter(t, WithTTL(time.Minute), WithOnFirstDenied(func(string) { first.Add(1) }))
	for i := 0; i < 4; i++ {
		l.allow("stale")
	}
	l.allow("fresh")

	l.mu.Lock()
	l.visitors["stale"].lastSeen = time.Now().Add(-2 * time.Minute)
	l.mu.Unlock()

	l.evict(time.Now())
	if l.Len() != 1 {
		t.Fatalf("Len = %d, want 1", l.Len())
	}

	// a re-created visitor gets a fresh bucket and a fresh first-denial log
	for i := 0; i < 4; i++ {
		l.allow("stale")
	}
	if first.Load() != 2 {
		t.Fatalf("OnFirstDenied = %d, want 2", first.Load())
	}
}

func TestCleanup_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	l := New(ctx, WithTTL(10*time.Millisecond))
	l.allow("x")
	cancel()
	time.Sleep(30 * time.Millisecond)
}

func TestMaxVisitors(t *testing.T) {
	var capacity atomic.Int32
	l := newTestLimiter(t, WithMaxVisitors(2), WithOnCapacity(func(int) { capacity.Add(1) }))

	if !l.allow("a") || !l.allow("b") {
		t.Fatal("first two IPs fit")
	}
	if l.allow("c") || l.allow("d") {
		t.Fatal("new IPs are refused at capacity")
	}
	if !l.allow("a") {
		t.Fatal("known IPs keep being served at capacity")
	}
	if capacity.Load() != 1 {
		t.Fatalf("OnCapacity = %d, want 1", capacity.Load())
	}

	l.mu.Lock()
	l.visitors["b"].lastSeen = time.Time{}
	l.mu.Unlock()
	l.evict(time.Now())

	if !l.allow("c") {
		t.Fatal("eviction should free capacity")
	}
	if l.allow("d") {
		t.Fatal("full again")
	}
	if capacity.Load() != 2 {
		t.Fatalf("OnCapacity = %d, want 2 after draining and refilling", capacity.Load())
	}
}

func TestMaxVisitors_ZeroDisables(t *testing.T) {
	l := newTestLimiter(t, WithMaxVisitors(0))
	for i := 0; i < 50; i++ {
		if !l.allow(fmt.Sprintf("10.0.0.%d", i)) {
			t.Fatal("no cap expected")
		}
	}
}

func TestRetryAfter(t *testing.T) {
	tests := []struct {
		perSecond float64
		want      string
	}{
		{10, "1"},
		{1, "1"},
		{0.5, "2"},
		{0.1, "10"},
	}
	for _, tt := range tests {
		l := &IPLimiter{perSecond: 0}
		WithRate(tt.perSecond, 1)(l)
		if got := l.retryAfter(); got != tt.want {
			t.Errorf("retryAfter(%v) = %q, want %q", tt.perSecond, got, tt.want)
		}
	}
}

// Middleware

func serveFrom(h http.Handler, ip string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodGet, "/unauthenticated/", http.NoBody)
	r = r.WithContext(httpmw.WithClientIP(r.Context(), ip))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

func TestMiddleware(t *testing.T) {
	l := newTestLimiter(t)
	var reached atomic.Int32
	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached.Add(1)
	}))

	for i := 0; i < 3; i++ {
		if rec := serveFrom(h, "198.51.100.1"); rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i, rec.Code)
		}
	}
	rec := serveFrom(h, "198.51.100.1")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "1" {
		t.Fatalf("Retry-After = %q", rec.Header().Get("Retry-After"))
	}
	if rec.Body.String() != "{\"detail\":\"Request was throttled.\"}\n" {
		t.Fatalf("body = %q", rec.Body.String())
	}
	if reached.Load() != 3 {
		t.Fatalf("handler reached %d times", reached.Load())
	}
}

func TestConcurrentAccess(t *testing.T) {
	l := newTestLimiter(t, WithRate(1000, 1000), WithMaxVisitors(10))
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				l.allow(fmt.Sprintf("ip-%d", (i+j)%15))
			}
		}(i)
	}
	wg.Wait()
	if l.Len() > 10 {
		t.Fatalf("Len = %d exceeds cap", l.Len())
	}
}
