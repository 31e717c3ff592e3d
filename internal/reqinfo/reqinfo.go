// Package reqinfo describes an inbound HTTP request as a JSON-ready value.
package reqinfo

import (
	"net/http"

	"github.com/keithlinneman/linnemanlabs-echo/internal/auth"
	"github.com/keithlinneman/linnemanlabs-echo/internal/httpmw"
)

// User is the caller identity. Every field other than IsAuthenticated is
// null for anonymous callers.
type User struct {
	IsAuthenticated bool    `json:"is_authenticated"`
	Username        *string `json:"username"`
	ID              *int64  `json:"id"`
	IsStaff         *bool   `json:"is_staff"`
	IsSuperuser     *bool   `json:"is_superuser"`
}

// Info is the request description returned by the echo endpoints.
type Info struct {
	Method      string            `json:"method"`
	Path        string            `json:"path"`
	FullPath    string            `json:"full_path"`
	Scheme      string            `json:"scheme"`
	Headers     map[string]string `json:"headers"`
	QueryParams map[string]string `json:"query_params"`
	Body        any               `json:"body"`
	ContentType string            `json:"content_type"`
	User        User              `json:"user"`
	RemoteAddr  string            `json:"remote_addr"`
	ServerName  string            `json:"server_name"`
	ServerPort  string            `json:"server_port"`
}

// Describe builds the Info for r. body is the already-read request body;
// r.Body is not touched. The identity comes from auth.FromContext.
// ContentType is the raw header value, parameters and case included.
func Describe(r *http.Request, body []byte) Info {
	env := environ(r)
	ct := r.Header.Get("Content-Type")

	fullPath := r.URL.EscapedPath()
	if r.URL.RawQuery != "" {
		fullPath += "?" + r.URL.RawQuery
	}

	return Info{
		Method:      r.Method,
		Path:        r.URL.Path,
		FullPath:    fullPath,
		Scheme:      httpmw.Scheme(r),
		Headers:     headersFromEnviron(env),
		QueryParams: parseQuery(r.URL.RawQuery),
		Body:        decodeBody(ct, body),
		ContentType: lookup(env, "CONTENT_TYPE"),
		User:        UserFromIdentity(auth.FromContext(r.Context())),
		RemoteAddr:  lookup(env, "REMOTE_ADDR"),
		ServerName:  lookup(env, "SERVER_NAME"),
		ServerPort:  lookup(env, "SERVER_PORT"),
	}
}

// UserFromIdentity converts an identity to its JSON form.
func UserFromIdentity(id auth.Identity) User {
	if !id.Authenticated() {
		return User{}
	}
	u := *id.User
	return User{
		IsAuthenticated: true,
		Username:        &u.Username,
		ID:              &u.ID,
		IsStaff:         &u.IsStaff,
		IsSuperuser:     &u.IsSuperuser,
	}
}

func lookup(env []envVar, key string) string {
	for _, e := range env {
		if e.key == key {
			return e.value
		}
	}
	return ""
}
