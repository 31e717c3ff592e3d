// Package httpmw provides HTTP middleware for the echo API listener.
//
// httpserver.NewHandler composes them outermost first: security headers,
// request ID, client IP, rate limiting, recover, OTEL tracing, settings
// revision headers, metrics, structured logging, authentication, and the
// chi router.
//
// Request bodies, query strings and credentials are never logged here; the
// echo handlers return them to the caller instead.
package httpmw
