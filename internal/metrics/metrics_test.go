package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"

	"github.com/keithlinneman/linnemanlabs-echo/internal/version"
)

// helpers

// gatherMetric collects metrics from the registry and finds one by name.
func gatherMetric(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	return nil
}

func labelMap(m *dto.Metric) map[string]string {
	out := make(map[string]string, len(m.GetLabel()))
	for _, lp := range m.GetLabel() {
		out[lp.GetName()] = lp.GetValue()
	}
	return out
}

func scrape(t *testing.T, m *ServerMetrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("scrape status = %d", rec.Code)
	}
	b, _ := io.ReadAll(rec.Body)
	return string(b)
}

// New

func TestNew_CollectorsRegistered(t *testing.T) {
	m := New()
	if m.Handler() == nil || m.Registry() == nil {
		t.Fatal("handler and registry should be set")
	}
	for _, name := range []string{"go_goroutines", "http_inflight_requests", "http_panic_total", "remote_settings_polls_total"} {
		if gatherMetric(t, m.Registry(), name) == nil {
			t.Errorf("metric %q not registered", name)
		}
	}
}

func TestNew_IsolatedRegistries(t *testing.T) {
	a, b := New(), New()
	a.IncHttpPanic()
	if got := testutil.ToFloat64(b.httpPanicTotal); got != 0 {
		t.Fatalf("second registry saw increment: %v", got)
	}
}

func TestHandler_ServesOpenMetrics(t *testing.T) {
	m := New()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("Accept", "application/openmetrics-text")
	m.Handler().ServeHTTP(rec, req)
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/openmetrics-text") {
		t.Fatalf("Content-Type = %q", ct)
	}
}

// counters

func TestIncHttpPanic(t *testing.T) {
	m := New()
	m.IncHttpPanic()
	m.IncHttpPanic()
	if got := testutil.ToFloat64(m.httpPanicTotal); got != 2 {
		t.Fatalf("http_panic_total = %v, want 2", got)
	}
}

func TestRateLimitCounters(t *testing.T) {
	m := New()
	m.IncRateLimitDenied()
	m.IncRateLimitDenied()
	m.IncRateLimitCapacity()
	if got := testutil.ToFloat64(m.ratelimitDeniedTotal); got != 2 {
		t.Fatalf("denied = %v", got)
	}
	if got := testutil.ToFloat64(m.ratelimitCapacityTotal); got != 1 {
		t.Fatalf("capacity = %v", got)
	}
}

func TestIncAuthAttempt(t *testing.T) {
	m := New()
	m.IncAuthAttempt("basic")
	m.IncAuthAttempt("basic")
	m.IncAuthAttempt("invalid")
	if got := testutil.ToFloat64(m.authAttemptsTotal.WithLabelValues("basic")); got != 2 {
		t.Fatalf("basic = %v", got)
	}
	if got := testutil.ToFloat64(m.authAttemptsTotal.WithLabelValues("invalid")); got != 1 {
		t.Fatalf("invalid = %v", got)
	}
}

func TestObserveSettingsDump(t *testing.T) {
	m := New()
	m.ObserveSettingsDump(true, 12)
	m.ObserveSettingsDump(false, 99)

	if got := testutil.ToFloat64(m.settingsDumpsTotal.WithLabelValues("served")); got != 1 {
		t.Fatalf("served = %v", got)
	}
	if got := testutil.ToFloat64(m.settingsDumpsTotal.WithLabelValues("denied")); got != 1 {
		t.Fatalf("denied = %v", got)
	}
	// denied requests leave the entry count alone
	if got := testutil.ToFloat64(m.settingsDumpSize); got != 12 {
		t.Fatalf("settings_dump_entries = %v, want 12", got)
	}
}

func TestSetUsersLoaded(t *testing.T) {
	m := New()
	m.SetUsersLoaded(3)
	if got := testutil.ToFloat64(m.usersLoaded); got != 3 {
		t.Fatalf("auth_users_loaded = %v", got)
	}
}

func TestSetProfilingActive(t *testing.T) {
	m := New()
	m.SetProfilingActive(true)
	if got := testutil.ToFloat64(m.profilingActive); got != 1 {
		t.Fatalf("profiling_active = %v, want 1", got)
	}
	m.SetProfilingActive(false)
	if got := testutil.ToFloat64(m.profilingActive); got != 0 {
		t.Fatalf("profiling_active = %v, want 0", got)
	}
}

// build info

func TestSetBuildInfoFromVersion(t *testing.T) {
	m := New()
	dirty := true
	m.SetBuildInfoFromVersion("server", &version.Info{
		AppName:    "linnemanlabs-echo",
		Version:    "1.2.3",
		Commit:     "abc123",
		CommitDate: "2026-01-01T00:00:00Z",
		BuildId:    "b-1",
		BuildDate:  "2026-01-02T00:00:00Z",
		GoVersion:  "go1.24.0",
		VCSDirty:   &dirty,
	})

	f := gatherMetric(t, m.Registry(), "build_info")
	if f == nil || len(f.GetMetric()) != 1 {
		t.Fatalf("build_info = %v", f)
	}
	got := labelMap(f.GetMetric()[0])
	want := map[string]string{
		"app":       "linnemanlabs-echo",
		"component": "server",
		"version":   "1.2.3",
		"commit":    "abc123",
		"vcs_dirty": "true",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("label %s = %q, want %q", k, got[k], v)
		}
	}
	if f.GetMetric()[0].GetGauge().GetValue() != 1 {
		t.Fatal("build_info value should be 1")
	}
}

func TestSetBuildInfoFromVersion_NilVCSDirty(t *testing.T) {
	m := New()
	m.SetBuildInfoFromVersion("server", &version.Info{AppName: "x", Version: "dev"})
	f := gatherMetric(t, m.Registry(), "build_info")
	if got := labelMap(f.GetMetric()[0])["vcs_dirty"]; got != "unknown" {
		t.Fatalf("vcs_dirty = %q, want unknown", got)
	}
}

// remote settings watcher

func TestWatcherCounters(t *testing.T) {
	m := New()
	m.IncWatcherPolls()
	m.IncWatcherPolls()
	m.IncWatcherSwaps()
	m.IncWatcherError("fetch")
	m.IncWatcherError("fetch")
	m.IncWatcherError("empty")

	if got := testutil.ToFloat64(m.watcherPollsTotal); got != 2 {
		t.Fatalf("polls = %v", got)
	}
	if got := testutil.ToFloat64(m.watcherSwapsTotal); got != 1 {
		t.Fatalf("swaps = %v", got)
	}
	if got := testutil.ToFloat64(m.watcherErrorsTotal.WithLabelValues("fetch")); got != 2 {
		t.Fatalf("errors{fetch} = %v", got)
	}
	if got := testutil.CollectAndCount(m.watcherErrorsTotal); got != 2 {
		t.Fatalf("error series = %d, want 2", got)
	}
}

func TestObserveSettingsLoadDuration(t *testing.T) {
	m := New()
	m.ObserveSettingsLoadDuration(0.3)
	f := gatherMetric(t, m.Registry(), "remote_settings_load_duration_seconds")
	if f == nil || f.GetMetric()[0].GetHistogram().GetSampleCount() != 1 {
		t.Fatalf("load duration histogram = %v", f)
	}
}

func TestWatcherGauges(t *testing.T) {
	m := New()
	m.SetWatcherLastSuccess(1700000000)
	m.SetWatcherStale(true)
	if got := testutil.ToFloat64(m.watcherLastSuccessTs); got != 1700000000 {
		t.Fatalf("last success = %v", got)
	}
	if got := testutil.ToFloat64(m.watcherStale); got != 1 {
		t.Fatalf("stale = %v", got)
	}
	m.SetWatcherStale(false)
	if got := testutil.ToFloat64(m.watcherStale); got != 0 {
		t.Fatalf("stale = %v", got)
	}
}

func TestSetRemoteSettings_ReplacesRevision(t *testing.T) {
	m := New()
	m.SetRemoteSettings("aaaa", 3)
	m.SetRemoteSettings("bbbb", 5)

	if got := testutil.CollectAndCount(m.remoteRevision); got != 1 {
		t.Fatalf("revision series = %d, want 1", got)
	}
	if got := testutil.ToFloat64(m.remoteRevision.WithLabelValues("bbbb")); got != 1 {
		t.Fatalf("revision{bbbb} = %v", got)
	}
	if got := testutil.ToFloat64(m.remoteParameters); got != 5 {
		t.Fatalf("parameters = %v", got)
	}
}

func TestHandler_FullScrape(t *testing.T) {
	m := New()
	m.IncAuthAttempt("bearer")
	m.ObserveSettingsDump(true, 4)
	m.SetRemoteSettings("cafe", 1)

	body := scrape(t, m)
	for _, want := range []string{
		`auth_attempts_total{result="bearer"} 1`,
		`settings_dumps_total{outcome="served"} 1`,
		`settings_dump_entries 4`,
		`remote_settings_revision_info{revision="cafe"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("scrape missing %q", want)
		}
	}
}
