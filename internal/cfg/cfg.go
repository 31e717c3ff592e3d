// Package cfg declares the service configuration. Every field is a flag,
// overridable from LMLABS_* environment variables, and carries a setting
// tag so the running configuration is what the settings endpoint dumps.
package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/keithlinneman/linnemanlabs-echo/internal/log"
	"github.com/keithlinneman/linnemanlabs-echo/internal/settings"
)

// EnvPrefix is prepended to upper-snake flag names for env lookups.
const EnvPrefix = "LMLABS_"

type App struct {
	LogJSON           bool    `setting:"LOG_JSON"`
	LogLevel          string  `setting:"LOG_LEVEL"`
	HTTPPort          int     `setting:"HTTP_PORT"`
	AdminPort         int     `setting:"ADMIN_PORT"`
	EnablePprof       bool    `setting:"ENABLE_PPROF"`
	EnablePyroscope   bool    `setting:"ENABLE_PYROSCOPE"`
	EnableTracing     bool    `setting:"ENABLE_TRACING"`
	PyroServer        string  `setting:"PYRO_SERVER"`
	PyroTenantID      string  `setting:"PYRO_TENANT"`
	OTLPEndpoint      string  `setting:"OTLP_ENDPOINT"`
	TraceSample       float64 `setting:"TRACE_SAMPLE"`
	StacktraceLevel   string  `setting:"STACKTRACE_LEVEL"`
	IncludeErrorLinks bool    `setting:"INCLUDE_ERROR_LINKS"`
	MaxErrorLinks     int     `setting:"MAX_ERROR_LINKS"`

	MainSettingsEndpointRequireAuth bool          `setting:"MAIN_SETTINGS_ENDPOINT_REQUIRE_AUTH"`
	UsersFile                       settings.Path `setting:"USERS_FILE"`
	AuthRealm                       string        `setting:"AUTH_REALM"`
	AuthCacheSize                   int           `setting:"AUTH_CACHE_SIZE"`

	MaxBodyBytes    int64   `setting:"MAX_BODY_BYTES"`
	TrustedHops     int     `setting:"TRUSTED_HOPS"`
	EnableRateLimit bool    `setting:"ENABLE_RATE_LIMIT"`
	RateLimitRPS    float64 `setting:"RATE_LIMIT_RPS"`
	RateLimitBurst  int     `setting:"RATE_LIMIT_BURST"`

	EnableRemoteSettings bool          `setting:"ENABLE_REMOTE_SETTINGS"`
	RemoteSettingsPath   string        `setting:"REMOTE_SETTINGS_PATH"`
	RemoteSettingsPoll   time.Duration `setting:"REMOTE_SETTINGS_POLL"`
}

// pathValue lets a settings.Path be bound as a string flag.
type pathValue settings.Path

func (p *pathValue) String() string     { return string(*p) }
func (p *pathValue) Set(s string) error { *p = pathValue(s); return nil }

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.IntVar(&c.HTTPPort, "http-port", 8080, "listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "Include error links in log messages")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "max error chain depth (1..64)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")

	fs.BoolVar(&c.MainSettingsEndpointRequireAuth, "main-settings-endpoint-require-auth", true, "require an authenticated user for /settings/")
	fs.Var((*pathValue)(&c.UsersFile), "users-file", "YAML user store, local path or s3://bucket/key (empty = no users)")
	fs.StringVar(&c.AuthRealm, "auth-realm", "api", "realm sent in WWW-Authenticate challenges")
	fs.IntVar(&c.AuthCacheSize, "auth-cache-size", 256, "verified credential cache entries (1..100000)")

	fs.Int64Var(&c.MaxBodyBytes, "max-body-bytes", 10<<20, "max request body size in bytes (0 = unlimited)")
	fs.IntVar(&c.TrustedHops, "trusted-hops", 0, "reverse proxies in front of the service whose X-Forwarded-For entries are trusted (0..16)")
	fs.BoolVar(&c.EnableRateLimit, "enable-rate-limit", true, "per client IP rate limiting")
	fs.Float64Var(&c.RateLimitRPS, "rate-limit-rps", 20, "sustained requests per second per client IP")
	fs.IntVar(&c.RateLimitBurst, "rate-limit-burst", 40, "burst size per client IP")

	fs.BoolVar(&c.EnableRemoteSettings, "enable-remote-settings", false, "overlay settings from an SSM parameter path")
	fs.StringVar(&c.RemoteSettingsPath, "remote-settings-path", "/app/linnemanlabs-echo/settings", "SSM parameter path to read settings from")
	fs.DurationVar(&c.RemoteSettingsPoll, "remote-settings-poll", 30*time.Second, "how often to poll the SSM parameter path (>= 5s)")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, envVal)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
			}
		}
	})
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error

	// Ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}
	if c.AdminPort == c.HTTPPort {
		errs = append(errs, fmt.Errorf("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort))
	}

	// Log levels
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}

	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}

	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, fmt.Errorf("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}

	// grpc exporter wants host:port, no scheme
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	if c.IncludeErrorLinks {
		if c.MaxErrorLinks < 1 || c.MaxErrorLinks > 64 {
			errs = append(errs, fmt.Errorf("MAX_ERROR_LINKS must be 1..64 (got %d)", c.MaxErrorLinks))
		}
	}

	// Auth
	if strings.HasPrefix(string(c.UsersFile), "s3://") {
		if u, err := url.Parse(string(c.UsersFile)); err != nil || u.Host == "" || strings.Trim(u.Path, "/") == "" {
			errs = append(errs, fmt.Errorf("USERS_FILE must be s3://bucket/key (got %q)", c.UsersFile))
		}
	}
	if c.AuthRealm == "" || strings.ContainsAny(c.AuthRealm, "\"\r\n") {
		errs = append(errs, fmt.Errorf("invalid AUTH_REALM %q (must be non-empty, no quotes or newlines)", c.AuthRealm))
	}
	if c.AuthCacheSize < 1 || c.AuthCacheSize > 100_000 {
		errs = append(errs, fmt.Errorf("AUTH_CACHE_SIZE must be 1..100000 (got %d)", c.AuthCacheSize))
	}

	// Request handling
	if c.MaxBodyBytes < 0 {
		errs = append(errs, fmt.Errorf("MAX_BODY_BYTES must be >= 0 (got %d)", c.MaxBodyBytes))
	}
	if c.TrustedHops < 0 || c.TrustedHops > 16 {
		errs = append(errs, fmt.Errorf("TRUSTED_HOPS must be 0..16 (got %d)", c.TrustedHops))
	}
	if c.EnableRateLimit {
		if c.RateLimitRPS <= 0 {
			errs = append(errs, fmt.Errorf("RATE_LIMIT_RPS must be > 0 (got %g)", c.RateLimitRPS))
		}
		if c.RateLimitBurst < 1 {
			errs = append(errs, fmt.Errorf("RATE_LIMIT_BURST must be >= 1 (got %d)", c.RateLimitBurst))
		}
	}

	if c.EnableRemoteSettings {
		if !strings.HasPrefix(c.RemoteSettingsPath, "/") {
			errs = append(errs, fmt.Errorf("REMOTE_SETTINGS_PATH must start with / (got %q)", c.RemoteSettingsPath))
		}
		if c.RemoteSettingsPoll < 5*time.Second {
			errs = append(errs, fmt.Errorf("REMOTE_SETTINGS_POLL must be >= 5s (got %s)", c.RemoteSettingsPoll))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
