package reqinfo

import (
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/keithlinneman/linnemanlabs-echo/internal/httpmw"
)

type envVar struct {
	key   string
	value string
}

// environ builds the CGI-style variable table for r, in a stable order:
// the fixed server variables first, then one HTTP_* entry per header sorted
// by header name. Content-Type and Content-Length only appear unprefixed.
func environ(r *http.Request) []envVar {
	env := []envVar{
		{"REQUEST_METHOD", r.Method},
		{"PATH_INFO", r.URL.Path},
		{"QUERY_STRING", r.URL.RawQuery},
		{"SERVER_PROTOCOL", r.Proto},
		{"REMOTE_ADDR", remoteAddr(r)},
		{"SERVER_NAME", serverName(r)},
		{"SERVER_PORT", serverPort(r)},
	}
	if ct, ok := r.Header["Content-Type"]; ok {
		env = append(env, envVar{"CONTENT_TYPE", strings.Join(ct, ",")})
	}
	if cl := r.Header.Get("Content-Length"); cl != "" {
		env = append(env, envVar{"CONTENT_LENGTH", cl})
	} else if r.ContentLength > 0 {
		env = append(env, envVar{"CONTENT_LENGTH", strconv.FormatInt(r.ContentLength, 10)})
	}
	if r.Host != "" {
		env = append(env, envVar{"HTTP_HOST", r.Host})
	}

	names := make([]string, 0, len(r.Header))
	for name := range r.Header {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		switch http.CanonicalHeaderKey(name) {
		case "Content-Type", "Content-Length", "Host":
			continue
		}
		key := "HTTP_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
		env = append(env, envVar{key, strings.Join(r.Header[name], ",")})
	}
	return env
}

// headersFromEnviron maps HTTP_* and the two content variables back to
// Header-Name form. Later entries overwrite earlier ones.
func headersFromEnviron(env []envVar) map[string]string {
	out := make(map[string]string, len(env))
	for _, e := range env {
		switch {
		case strings.HasPrefix(e.key, "HTTP_"):
			out[headerName(strings.TrimPrefix(e.key, "HTTP_"))] = e.value
		case e.key == "CONTENT_TYPE", e.key == "CONTENT_LENGTH":
			out[headerName(e.key)] = e.value
		}
	}
	return out
}

func headerName(key string) string {
	return titleCase(strings.ReplaceAll(key, "_", "-"))
}

// titleCase upper-cases the first letter of every run of cased letters and
// lower-cases the rest, so "X-B3-TRACEID" becomes "X-B3-Traceid".
func titleCase(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevCased := false
	for _, r := range s {
		cased := unicode.IsUpper(r) || unicode.IsLower(r) || unicode.IsTitle(r)
		switch {
		case cased && prevCased:
			b.WriteRune(unicode.ToLower(r))
		case cased:
			b.WriteRune(unicode.ToTitle(r))
		default:
			b.WriteRune(r)
		}
		prevCased = cased
	}
	return b.String()
}

func remoteAddr(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func serverName(r *http.Request) string {
	if r.Host != "" {
		if host, _, err := net.SplitHostPort(r.Host); err == nil {
			return host
		}
		return r.Host
	}
	if addr, ok := r.Context().Value(http.LocalAddrContextKey).(net.Addr); ok {
		if host, _, err := net.SplitHostPort(addr.String()); err == nil {
			return host
		}
	}
	return ""
}

// serverPort prefers the port of the listener that accepted the request,
// then the port in the Host header, then the scheme default.
func serverPort(r *http.Request) string {
	if addr, ok := r.Context().Value(http.LocalAddrContextKey).(net.Addr); ok {
		if _, port, err := net.SplitHostPort(addr.String()); err == nil && port != "" {
			return port
		}
	}
	if _, port, err := net.SplitHostPort(r.Host); err == nil && port != "" {
		return port
	}
	if httpmw.Scheme(r) == "https" {
		return "443"
	}
	return "80"
}
