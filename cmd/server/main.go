package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	_ "go.uber.org/automaxprocs"

	"github.com/keithlinneman/linnemanlabs-echo/internal/auth"
	"github.com/keithlinneman/linnemanlabs-echo/internal/cfg"
	"github.com/keithlinneman/linnemanlabs-echo/internal/diaghttp"
	"github.com/keithlinneman/linnemanlabs-echo/internal/health"
	"github.com/keithlinneman/linnemanlabs-echo/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-echo/internal/httpserver"
	"github.com/keithlinneman/linnemanlabs-echo/internal/log"
	"github.com/keithlinneman/linnemanlabs-echo/internal/metrics"
	"github.com/keithlinneman/linnemanlabs-echo/internal/opshttp"
	"github.com/keithlinneman/linnemanlabs-echo/internal/otelx"
	"github.com/keithlinneman/linnemanlabs-echo/internal/prof"
	"github.com/keithlinneman/linnemanlabs-echo/internal/ratelimit"
	"github.com/keithlinneman/linnemanlabs-echo/internal/remotesettings"
	"github.com/keithlinneman/linnemanlabs-echo/internal/settings"
	v "github.com/keithlinneman/linnemanlabs-echo/internal/version"
)

// time the load balancer gets to notice the failing readiness check
const drainPeriod = 60 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf(
			"%s %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		os.Exit(0)
	}

	cfg.FillFromEnv(flag.CommandLine, cfg.EnvPrefix, func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	// levels were checked by Validate
	lvl, _ := log.ParseLevel(conf.LogLevel)
	var stackLvl slog.Leveler
	if conf.StacktraceLevel != "" {
		l, _ := log.ParseLevel(conf.StacktraceLevel)
		stackLvl = l
	}
	lg, err := log.New(log.Options{
		App:               v.AppName,
		Version:           vi.Version,
		Commit:            vi.Commit,
		BuildId:           vi.BuildId,
		Level:             lvl,
		StacktraceLevel:   stackLvl,
		JsonFormat:        conf.LogJSON,
		MaxErrorLinks:     conf.MaxErrorLinks,
		IncludeErrorLinks: conf.IncludeErrorLinks,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer lg.Sync()
	L := lg.With("component", "server")
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"users_file", string(conf.UsersFile),
		"settings_require_auth", conf.MainSettingsEndpointRequireAuth,
		"enable_remote_settings", conf.EnableRemoteSettings,
		"remote_settings_path", conf.RemoteSettingsPath,
		"enable_rate_limit", conf.EnableRateLimit,
		"trusted_hops", conf.TrustedHops,
		"enable_tracing", conf.EnableTracing,
		"enable_pyroscope", conf.EnablePyroscope,
	)

	m := metrics.New()
	m.SetBuildInfoFromVersion("server", vi)

	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.AppName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"app":       v.AppName,
			"component": "server",
			"version":   vi.Version,
			"commit":    vi.Commit,
			"build_id":  vi.BuildId,
		},
		OnActive: m.SetProfilingActive,
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed, continuing without profiling")
	}
	defer stopProf()

	// Insecure: the collector runs on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   v.AppName,
		Component: "server",
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed, continuing without tracing")
		shutdownOTEL = func(context.Context) error { return nil }
	}

	// AWS is only needed for an s3:// users file or the SSM settings overlay
	var awsCfg aws.Config
	if conf.EnableRemoteSettings || auth.IsS3URL(string(conf.UsersFile)) {
		awsCfg, err = config.LoadDefaultConfig(ctx)
		if err != nil {
			L.Error(ctx, err, "failed to load AWS config")
			os.Exit(1)
		}
	}

	// identity store
	var verifier auth.Verifier
	if conf.UsersFile != "" {
		var s3Client auth.S3API
		if auth.IsS3URL(string(conf.UsersFile)) {
			s3Client = s3.NewFromConfig(awsCfg)
		}
		store, err := auth.LoadStore(ctx, string(conf.UsersFile), s3Client, conf.AuthCacheSize)
		if err != nil {
			L.Error(ctx, err, "failed to load users file", "users_file", string(conf.UsersFile))
			os.Exit(1)
		}
		verifier = store
		m.SetUsersLoaded(store.Len())
		L.Info(ctx, "loaded user store", "users", store.Len())
	} else {
		L.Warn(ctx, "no users file configured, all credentials will be rejected")
	}

	// remote settings overlay
	remoteMgr := remotesettings.NewManager()
	var ready health.Readiness
	if conf.EnableRemoteSettings {
		loader, err := remotesettings.NewLoader(remotesettings.LoaderOptions{
			Logger: L,
			Client: ssm.NewFromConfig(awsCfg),
			Path:   conf.RemoteSettingsPath,
		})
		if err != nil {
			L.Error(ctx, err, "failed to create remote settings loader")
			os.Exit(1)
		}

		start := time.Now()
		if snap, err := loader.Fetch(ctx); err != nil {
			// not ready until the watcher gets a first snapshot
			L.Error(ctx, err, "initial remote settings load failed", "path", loader.Path())
			m.IncWatcherError("fetch")
		} else {
			remoteMgr.Set(snap)
			m.ObserveSettingsLoadDuration(time.Since(start).Seconds())
			m.SetWatcherLastSuccess(float64(snap.LoadedAt.Unix()))
			m.SetRemoteSettings(snap.Revision, len(snap.Values))
			L.Info(ctx, "loaded remote settings", "path", loader.Path(), "parameters", len(snap.Values), "revision", snap.Revision)
		}

		watcher := remotesettings.NewWatcher(&remotesettings.WatcherOptions{
			Logger:       L,
			Fetcher:      loader,
			Manager:      remoteMgr,
			PollInterval: conf.RemoteSettingsPoll,
			Metrics:      m,
			OnSwap: func(s *remotesettings.Snapshot) {
				m.SetRemoteSettings(s.Revision, len(s.Values))
			},
		})
		go func() { _ = watcher.Run(ctx) }()

		ready.Add("remote settings", health.When(remoteMgr.Loaded, "no snapshot loaded"))
	}

	// build identity, then config, then the remote overlay; later sources win
	settingsSrc := settings.Merge(
		settings.Map{
			"APP_NAME": vi.AppName,
			"VERSION":  vi.Version,
			"COMMIT":   vi.Commit,
			"BUILD_ID": vi.BuildId,
		},
		settings.Struct(&conf),
		remoteMgr,
	)

	api := diaghttp.NewAPI(diaghttp.Options{
		Logger:      L,
		Settings:    settingsSrc,
		Realm:       conf.AuthRealm,
		AuthMetrics: m,
		Metrics:     m,
	})

	var rateLimitMW func(http.Handler) http.Handler
	if conf.EnableRateLimit {
		limiter := ratelimit.New(ctx,
			ratelimit.WithRate(conf.RateLimitRPS, conf.RateLimitBurst),
			ratelimit.WithOnDenied(func(ip string) {
				m.IncRateLimitDenied()
			}),
			// logged once per visitor until it is evicted
			ratelimit.WithOnFirstDenied(func(ip string) {
				L.Warn(ctx, "rate limit triggered", "ip", ip)
			}),
			ratelimit.WithOnCapacity(func(size int) {
				m.IncRateLimitCapacity()
				L.Warn(ctx, "rate limit capacity reached, rejecting new visitors until some are evicted", "visitors", size)
			}),
		)
		rateLimitMW = limiter.Middleware
	}

	var settingsInfo httpmw.RevisionInfo
	if conf.EnableRemoteSettings {
		settingsInfo = remoteMgr
	}

	appHTTPStop, err := httpserver.Start(ctx, &httpserver.Options{
		Logger:       L,
		Port:         conf.HTTPPort,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
		MetricsMW:    m.Middleware,
		RateLimitMW:  rateLimitMW,
		ClientIPOpts: httpmw.ClientIPOptions{TrustedHops: conf.TrustedHops},
		Health:       health.Healthy,
		Readiness:    &ready,
		Authenticate: auth.Authenticate(auth.Options{
			Logger:   L,
			Verifier: verifier,
			Metrics:  m,
			Realm:    conf.AuthRealm,
		}),
		MaxBodyBytes: conf.MaxBodyBytes,
		SettingsInfo: settingsInfo,
		APIRoutes:    api.RegisterRoutes,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start app http listener")
		os.Exit(1)
	}

	// admin listener refuses public peers in case the security group is ever misconfigured
	opsHTTPStop, err := opshttp.Start(ctx, L, &opshttp.Options{
		Port:         conf.AdminPort,
		Metrics:      m.Handler(),
		EnablePprof:  conf.EnablePprof,
		Health:       health.Healthy,
		Readiness:    &ready,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}

	if err := notifySystemd(); err != nil {
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	<-ctx.Done()
	stop()
	L.Info(context.Background(), "shutdown signal received")

	// fail readiness so the load balancer stops routing to us
	ready.Drain("draining")
	L.Info(context.Background(), "readiness drained", "period", drainPeriod.String())

	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(drainPeriod):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := appHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "app http server shutdown")
	}
	if err := opsHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "ops http server shutdown")
	}
	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "otel shutdown")
	}
	stopProf()

	L.Info(context.Background(), "shutdown complete")
}

// notifySystemd sends READY=1 when started under a Type=notify unit.
func notifySystemd() error {
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		conn.Close()
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	if err := conn.Close(); err != nil {
		return fmt.Errorf("systemd notify failed: close failed: %w", err)
	}
	return nil
}
