package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-echo/internal/health"
	"github.com/keithlinneman/linnemanlabs-echo/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-echo/internal/log"
)

type Options struct {
	Logger       log.Logger
	Port         int
	UseRecoverMW bool
	OnPanic      func()
	MetricsMW    func(http.Handler) http.Handler
	RateLimitMW  func(http.Handler) http.Handler
	ClientIPOpts httpmw.ClientIPOptions
	Health       health.Checker
	Readiness    health.Checker

	// Authenticate resolves the caller identity for every routed request.
	Authenticate func(http.Handler) http.Handler

	// MaxBodyBytes <= 0 disables the limit.
	MaxBodyBytes int64

	// SettingsInfo adds the X-Settings-Revision header when non-nil.
	SettingsInfo httpmw.RevisionInfo

	APIRoutes func(chi.Router)
}
