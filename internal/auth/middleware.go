package auth

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/linnemanlabs-echo/internal/log"
)

// DefaultRealm is sent in WWW-Authenticate challenges.
const DefaultRealm = "api"

// Verifier checks credentials. *Store implements it.
type Verifier interface {
	CheckPassword(username, password string) (*User, error)
	CheckToken(token string) (*User, error)
}

// Metrics is implemented by the metrics package.
type Metrics interface {
	IncAuthAttempt(result string)
}

type Options struct {
	Logger log.Logger

	// Verifier may be nil, in which case every request that presents
	// credentials is rejected.
	Verifier Verifier

	Metrics Metrics
	Realm   string
}

// Authenticate attaches an Identity to every request. Requests without a
// recognised Authorization scheme continue anonymously; requests whose
// credentials fail to verify get a 401.
func Authenticate(opts Options) func(http.Handler) http.Handler {
	if opts.Realm == "" {
		opts.Realm = DefaultRealm
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			L := log.FromContext(ctx)

			id, detail := resolve(opts.Verifier, r.Header.Get("Authorization"))
			if detail != "" {
				opts.observe("invalid")
				L.Warn(ctx, "rejected request credentials", "reason", detail)
				writeChallenge(w, opts.Realm, detail)
				return
			}
			if !id.Authenticated() {
				opts.observe("anonymous")
				next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, Anonymous)))
				return
			}

			opts.observe(id.Method)
			if span := trace.SpanFromContext(ctx); span.IsRecording() {
				span.SetAttributes(
					attribute.String("enduser.id", strconv.FormatInt(id.User.ID, 10)),
					attribute.String("app.auth.method", id.Method),
				)
			}
			ctx = log.WithContext(ctx, L.With("user", id.User.Username))
			next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, id)))
		})
	}
}

func (o Options) observe(result string) {
	if o.Metrics != nil {
		o.Metrics.IncAuthAttempt(result)
	}
}

// resolve returns the identity for an Authorization header value, or a
// non-empty detail message when the header must be rejected.
func resolve(v Verifier, header string) (Identity, string) {
	scheme, rest, _ := strings.Cut(strings.TrimSpace(header), " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(scheme) {
	case "basic":
		if rest == "" {
			return Anonymous, "Invalid basic header. No credentials provided."
		}
		if strings.ContainsAny(rest, " \t") {
			return Anonymous, "Invalid basic header. Credentials string should not contain spaces."
		}
		raw, err := base64.StdEncoding.DecodeString(rest)
		if err != nil {
			return Anonymous, "Invalid basic header. Credentials not correctly base64 encoded."
		}
		username, password, ok := strings.Cut(string(raw), ":")
		if !ok {
			return Anonymous, "Invalid basic header. Credentials not correctly base64 encoded."
		}
		if v == nil {
			return Anonymous, "Invalid username/password."
		}
		u, err := v.CheckPassword(username, password)
		if err != nil || u == nil {
			return Anonymous, "Invalid username/password."
		}
		return Identity{User: u, Method: "basic"}, ""

	case "bearer", "token":
		if rest == "" {
			return Anonymous, "Invalid token header. No credentials provided."
		}
		if strings.ContainsAny(rest, " \t") {
			return Anonymous, "Invalid token header. Token string should not contain spaces."
		}
		if v == nil {
			return Anonymous, "Invalid token."
		}
		u, err := v.CheckToken(rest)
		if err != nil || u == nil {
			return Anonymous, "Invalid token."
		}
		return Identity{User: u, Method: "bearer"}, ""
	}
	return Anonymous, ""
}

// RequireAuthenticated rejects anonymous requests with 401. It must run
// after Authenticate.
func RequireAuthenticated(realm string, m Metrics) func(http.Handler) http.Handler {
	if realm == "" {
		realm = DefaultRealm
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !FromContext(r.Context()).Authenticated() {
				if m != nil {
					m.IncAuthAttempt("denied")
				}
				writeChallenge(w, realm, "Authentication credentials were not provided.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeChallenge(w http.ResponseWriter, realm, detail string) {
	w.Header().Set("WWW-Authenticate", `Basic realm="`+realm+`"`)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"detail": detail})
}
