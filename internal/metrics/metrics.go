// Package metrics owns the Prometheus registry served on the admin
// listener. Labels are restricted to bounded values (method, route pattern,
// status, result) so request data never becomes a label.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keithlinneman/linnemanlabs-echo/internal/version"
)

type ServerMetrics struct {
	reg     *prometheus.Registry
	handler http.Handler

	inflight       prometheus.Gauge
	reqTotal       *prometheus.CounterVec
	reqDur         *prometheus.HistogramVec
	respBytes      *prometheus.HistogramVec
	errorsTotal    *prometheus.CounterVec
	httpPanicTotal prometheus.Counter
	buildInfo      *prometheus.GaugeVec

	ratelimitDeniedTotal   prometheus.Counter
	ratelimitCapacityTotal prometheus.Counter

	authAttemptsTotal *prometheus.CounterVec
	usersLoaded       prometheus.Gauge

	settingsDumpsTotal *prometheus.CounterVec
	settingsDumpSize   prometheus.Gauge

	profilingActive prometheus.Gauge

	// remote settings watcher
	watcherPollsTotal    prometheus.Counter
	watcherSwapsTotal    prometheus.Counter
	watcherErrorsTotal   *prometheus.CounterVec
	settingsLoadDuration prometheus.Histogram
	watcherLastSuccessTs prometheus.Gauge
	watcherStale         prometheus.Gauge
	remoteRevision       *prometheus.GaugeVec
	remoteParameters     prometheus.Gauge
}

// New returns a fresh registry with the Go and process collectors and every
// service metric registered.
func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &ServerMetrics{
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency by method and route",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"method", "route"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response size by method and route",
			Buckets: prometheus.ExponentialBuckets(128, 4, 8),
		}, []string{"method", "route"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total 5xx HTTP server errors by method and route (SLI)",
		}, []string{"method", "route"}),
		httpPanicTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total number of recovered httpserver panics",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "commit_date", "build_id", "build_date", "vcs_dirty", "go_version"}),
		ratelimitDeniedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_total",
			Help: "Total requests rejected by rate limiter",
		}),
		ratelimitCapacityTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_capacity_total",
			Help: "Total number of times rate limiter capacity reached",
		}),
		authAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_attempts_total",
			Help: "Requests by authentication outcome (anonymous, basic, bearer, invalid, denied)",
		}, []string{"result"}),
		usersLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "auth_users_loaded",
			Help: "Number of active users in the loaded users file",
		}),
		settingsDumpsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settings_dumps_total",
			Help: "Settings endpoint requests by outcome (served, denied)",
		}, []string{"outcome"}),
		settingsDumpSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "settings_dump_entries",
			Help: "Number of settings in the most recent dump",
		}),
		profilingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "Whether continuous profiling is active (1) or disabled/failed (0)",
		}),
		watcherPollsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "remote_settings_polls_total",
			Help: "Total number of remote settings poll cycles",
		}),
		watcherSwapsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "remote_settings_swaps_total",
			Help: "Total number of remote settings snapshot swaps",
		}),
		watcherErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "remote_settings_errors_total",
			Help: "Total remote settings watcher errors by type",
		}, []string{"type"}),
		settingsLoadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "remote_settings_load_duration_seconds",
			Help:    "Time to fetch the remote settings parameter tree",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		watcherLastSuccessTs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "remote_settings_last_success_timestamp_seconds",
			Help: "Unix timestamp of the last successful remote settings poll",
		}),
		watcherStale: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "remote_settings_stale",
			Help: "Whether the remote settings watcher is stale (1) or healthy (0)",
		}),
		remoteRevision: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "remote_settings_revision_info",
			Help: "Active remote settings revision (label carries identity, value is always 1)",
		}, []string{"revision"}),
		remoteParameters: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "remote_settings_parameters",
			Help: "Number of parameters in the active remote settings snapshot",
		}),
	}
	reg.MustRegister(
		m.inflight,
		m.reqTotal,
		m.reqDur,
		m.respBytes,
		m.errorsTotal,
		m.httpPanicTotal,
		m.buildInfo,
		m.ratelimitDeniedTotal,
		m.ratelimitCapacityTotal,
		m.authAttemptsTotal,
		m.usersLoaded,
		m.settingsDumpsTotal,
		m.settingsDumpSize,
		m.profilingActive,
		m.watcherPollsTotal,
		m.watcherSwapsTotal,
		m.watcherErrorsTotal,
		m.settingsLoadDuration,
		m.watcherLastSuccessTs,
		m.watcherStale,
		m.remoteRevision,
		m.remoteParameters,
	)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	m.reg = reg
	return m
}

func (m *ServerMetrics) Handler() http.Handler { return m.handler }

// Registry exposes the registry for tests and extra collectors.
func (m *ServerMetrics) Registry() *prometheus.Registry { return m.reg }

func (m *ServerMetrics) IncHttpPanic() { m.httpPanicTotal.Inc() }

// set once at startup.
func (m *ServerMetrics) SetBuildInfoFromVersion(component string, vi *version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":         vi.AppName,
		"component":   component,
		"version":     vi.Version,
		"commit":      vi.Commit,
		"commit_date": vi.CommitDate,
		"build_id":    vi.BuildId,
		"build_date":  vi.BuildDate,
		"go_version":  vi.GoVersion,
		"vcs_dirty":   dirty,
	}).Set(1)
}

func (m *ServerMetrics) IncRateLimitDenied()   { m.ratelimitDeniedTotal.Inc() }
func (m *ServerMetrics) IncRateLimitCapacity() { m.ratelimitCapacityTotal.Inc() }

// IncAuthAttempt implements auth.Metrics.
func (m *ServerMetrics) IncAuthAttempt(result string) {
	m.authAttemptsTotal.WithLabelValues(result).Inc()
}

func (m *ServerMetrics) SetUsersLoaded(n int) { m.usersLoaded.Set(float64(n)) }

// ObserveSettingsDump implements diaghttp.Metrics. entries is ignored for
// denied requests.
func (m *ServerMetrics) ObserveSettingsDump(served bool, entries int) {
	if !served {
		m.settingsDumpsTotal.WithLabelValues("denied").Inc()
		return
	}
	m.settingsDumpsTotal.WithLabelValues("served").Inc()
	m.settingsDumpSize.Set(float64(entries))
}

func (m *ServerMetrics) SetProfilingActive(active bool) {
	if active {
		m.profilingActive.Set(1)
	} else {
		m.profilingActive.Set(0)
	}
}

// The methods below implement remotesettings.WatcherMetrics.

func (m *ServerMetrics) IncWatcherPolls() { m.watcherPollsTotal.Inc() }
func (m *ServerMetrics) IncWatcherSwaps() { m.watcherSwapsTotal.Inc() }
func (m *ServerMetrics) IncWatcherError(errType string) {
	m.watcherErrorsTotal.WithLabelValues(errType).Inc()
}

func (m *ServerMetrics) ObserveSettingsLoadDuration(seconds float64) {
	m.settingsLoadDuration.Observe(seconds)
}

func (m *ServerMetrics) SetWatcherLastSuccess(unixSeconds float64) {
	m.watcherLastSuccessTs.Set(unixSeconds)
}

func (m *ServerMetrics) SetWatcherStale(stale bool) {
	if stale {
		m.watcherStale.Set(1)
	} else {
		m.watcherStale.Set(0)
	}
}

// SetRemoteSettings records the active snapshot identity.
func (m *ServerMetrics) SetRemoteSettings(revision string, parameters int) {
	m.remoteRevision.Reset()
	m.remoteRevision.WithLabelValues(revision).Set(1)
	m.remoteParameters.Set(float64(parameters))
}
