package diaghttp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-echo/internal/auth"
	"github.com/keithlinneman/linnemanlabs-echo/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-echo/internal/log"
	"github.com/keithlinneman/linnemanlabs-echo/internal/reqinfo"
	"github.com/keithlinneman/linnemanlabs-echo/internal/settings"
)

// RequireAuthSetting is read from the settings source on every request to
// /settings/. Missing or unparsable values mean true.
const RequireAuthSetting = "MAIN_SETTINGS_ENDPOINT_REQUIRE_AUTH"

const (
	pathUnauthenticated = "/unauthenticated/"
	pathAuthenticated   = "/authenticated/"
	pathSettings        = "/settings/"
)

var echoMethods = []string{
	http.MethodGet,
	http.MethodPost,
	http.MethodPut,
	http.MethodPatch,
	http.MethodDelete,
}

// Metrics is implemented by the metrics package.
type Metrics interface {
	ObserveSettingsDump(served bool, entries int)
}

type Options struct {
	Logger   log.Logger
	Settings settings.Source

	// Realm and AuthMetrics are passed to auth.RequireAuthenticated.
	Realm       string
	AuthMetrics auth.Metrics

	Metrics Metrics
}

// API implements the diagnostic endpoints.
type API struct {
	logger      log.Logger
	settings    settings.Source
	realm       string
	authMetrics auth.Metrics
	metrics     Metrics
	allowed     map[string]string
}

func NewAPI(opts Options) *API {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	return &API{
		logger:      opts.Logger,
		settings:    opts.Settings,
		realm:       opts.Realm,
		authMetrics: opts.AuthMetrics,
		metrics:     opts.Metrics,
		allowed: map[string]string{
			pathUnauthenticated: allowHeader(echoMethods...),
			pathAuthenticated:   allowHeader(echoMethods...),
			pathSettings:        allowHeader(http.MethodGet),
		},
	}
}

// RegisterRoutes attaches the endpoints and the JSON 404/405 handlers. r
// must already run auth.Authenticate so handlers see the caller identity.
// Every GET route also answers HEAD, and OPTIONS describes the route
// behind the same access rules as its other methods.
func (api *API) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(httpmw.Scope("unauthenticated"))
		for _, m := range append(echoMethods, http.MethodHead) {
			r.MethodFunc(m, pathUnauthenticated, api.HandleUnauthenticated)
		}
		r.Options(pathUnauthenticated, api.handleOptions(unauthenticatedMeta))
	})
	r.Group(func(r chi.Router) {
		r.Use(httpmw.Scope("authenticated"))
		r.Use(auth.RequireAuthenticated(api.realm, api.authMetrics))
		for _, m := range append(echoMethods, http.MethodHead) {
			r.MethodFunc(m, pathAuthenticated, api.HandleAuthenticated)
		}
		r.Options(pathAuthenticated, api.handleOptions(authenticatedMeta))
	})
	r.Group(func(r chi.Router) {
		r.Use(httpmw.Scope("settings"))
		r.Get(pathSettings, api.HandleSettings)
		r.Head(pathSettings, api.HandleSettings)
		r.Options(pathSettings, api.handleOptions(settingsMeta))
	})

	r.MethodNotAllowed(api.handleMethodNotAllowed)
	r.NotFound(api.handleNotFound)
}

// HandleUnauthenticated echoes the request for any caller.
func (api *API) HandleUnauthenticated(w http.ResponseWriter, r *http.Request) {
	api.echo(w, r, "unauthenticated", "This is the unauthenticated endpoint")
}

// HandleAuthenticated echoes the request. Anonymous callers never get here.
func (api *API) HandleAuthenticated(w http.ResponseWriter, r *http.Request) {
	api.echo(w, r, "authenticated", "This is the authenticated endpoint")
}

func (api *API) echo(w http.ResponseWriter, r *http.Request, endpoint, message string) {
	ctx := r.Context()
	L := log.FromContext(ctx)

	body, err := readBody(r)
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			api.writeJSON(w, r, http.StatusRequestEntityTooLarge, errorResponse{
				Detail: fmt.Sprintf("Request body exceeds %d bytes.", mbe.Limit),
			})
			return
		}
		// a truncated body is still described; the read error is only logged
		L.Warn(ctx, "request body read failed", "error", err, "bytes_read", len(body))
	}

	info := reqinfo.Describe(r, body)
	if info.Body == reqinfo.BinaryBody {
		L.Debug(ctx, "binary request body",
			"mime", mimetype.Detect(body).String(),
			"bytes", len(body),
		)
	}

	api.writeJSON(w, r, http.StatusOK, EchoResponse{
		Info:     info,
		Endpoint: endpoint,
		Message:  message,
	})
}

// HandleSettings dumps the public settings, subject to RequireAuthSetting.
func (api *API) HandleSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := auth.FromContext(ctx)
	requireAuth := api.requireAuth()

	if requireAuth && !id.Authenticated() {
		api.observe(false, 0)
		api.writeJSON(w, r, http.StatusUnauthorized, AuthRequiredResponse{
			Error: "Authentication required",
			Message: "This endpoint requires authentication. Set " + RequireAuthSetting +
				"=false (flag -main-settings-endpoint-require-auth) to make it public.",
			Authenticated: false,
		})
		return
	}

	snap := settings.Dump(api.settings)
	api.observe(true, len(snap))

	user := SettingsUser{IsAuthenticated: id.Authenticated()}
	if id.Authenticated() {
		name := id.User.Username
		user.Username = &name
	}

	log.FromContext(ctx).Debug(ctx, "served settings dump", "settings_count", len(snap))

	api.writeJSON(w, r, http.StatusOK, SettingsResponse{
		Endpoint:               "settings",
		Message:                "Settings dump",
		AuthenticationRequired: requireAuth,
		User:                   user,
		SettingsCount:          len(snap),
		Settings:               snap,
	})
}

func (api *API) requireAuth() bool {
	if api.settings == nil {
		return true
	}
	v, err := api.settings.Lookup(RequireAuthSetting)
	if err != nil {
		return true
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		if parsed, err := strconv.ParseBool(strings.TrimSpace(b)); err == nil {
			return parsed
		}
	}
	return true
}

func (api *API) observe(served bool, entries int) {
	if api.metrics != nil {
		api.metrics.ObserveSettingsDump(served, entries)
	}
}

func (api *API) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	if allow, ok := api.allowed[r.URL.Path]; ok {
		w.Header().Set("Allow", allow)
	}
	api.writeJSON(w, r, http.StatusMethodNotAllowed, errorResponse{
		Detail: fmt.Sprintf("Method %q not allowed.", r.Method),
	})
}

func (api *API) handleOptions(meta RouteMetadata) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Allow", api.allowed[r.URL.Path])
		api.writeJSON(w, r, http.StatusOK, meta)
	}
}

// handleNotFound redirects a known route missing its trailing slash and
// answers 404 otherwise.
func (api *API) handleNotFound(w http.ResponseWriter, r *http.Request) {
	if p := r.URL.Path; !strings.HasSuffix(p, "/") {
		if _, ok := api.allowed[p+"/"]; ok {
			target := p + "/"
			if r.URL.RawQuery != "" {
				target += "?" + r.URL.RawQuery
			}
			http.Redirect(w, r, target, http.StatusMovedPermanently)
			return
		}
	}
	api.writeJSON(w, r, http.StatusNotFound, errorResponse{Detail: "Not found."})
}

// allowHeader lists methods plus HEAD and OPTIONS in the order clients
// see them in Allow.
func allowHeader(methods ...string) string {
	return strings.Join(append(methods, http.MethodHead, http.MethodOptions), ", ")
}

func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	return io.ReadAll(r.Body)
}

// writeJSON encodes v with status. HEAD responses carry the headers and
// Content-Length of the GET response but no body.
func (api *API) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	ctx := r.Context()
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		api.logger.Error(ctx, err, "failed to encode JSON response")
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"detail":"A server error occurred."}`+"\n")
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if r.Method == http.MethodHead {
		w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
		w.WriteHeader(status)
		return
	}
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}
