package diaghttp

import (
	"github.com/keithlinneman/linnemanlabs-echo/internal/reqinfo"
	"github.com/keithlinneman/linnemanlabs-echo/internal/settings"
)

// EchoResponse is the request description plus the endpoint label.
type EchoResponse struct {
	reqinfo.Info
	Endpoint string `json:"endpoint"`
	Message  string `json:"message"`
}

type SettingsUser struct {
	IsAuthenticated bool    `json:"is_authenticated"`
	Username        *string `json:"username"`
}

type SettingsResponse struct {
	Endpoint               string            `json:"endpoint"`
	Message                string            `json:"message"`
	AuthenticationRequired bool              `json:"authentication_required"`
	User                   SettingsUser      `json:"user"`
	SettingsCount          int               `json:"settings_count"`
	Settings               settings.Snapshot `json:"settings"`
}

// AuthRequiredResponse is the settings route's 401 body.
type AuthRequiredResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Authenticated bool   `json:"authenticated"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

// RouteMetadata is the OPTIONS body for a route.
type RouteMetadata struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Renders     []string `json:"renders"`
	Parses      []string `json:"parses"`
}

var (
	renders = []string{"application/json"}
	parses  = []string{"application/json", "application/x-www-form-urlencoded", "multipart/form-data"}

	unauthenticatedMeta = RouteMetadata{
		Name:        "Unauthenticated Endpoint",
		Description: "Unauthenticated endpoint that returns all request information.",
		Renders:     renders,
		Parses:      parses,
	}
	authenticatedMeta = RouteMetadata{
		Name:        "Authenticated Endpoint",
		Description: "Authenticated endpoint that returns all request information.",
		Renders:     renders,
		Parses:      parses,
	}
	settingsMeta = RouteMetadata{
		Name: "Settings Endpoint",
		Description: "Settings endpoint that returns all public settings. Authentication requirement is " +
			"configurable via " + RequireAuthSetting + ".",
		Renders: renders,
		Parses:  parses,
	}
)
