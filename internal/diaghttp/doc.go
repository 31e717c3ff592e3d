// Package diaghttp serves the diagnostic endpoints: two request echo routes
// that differ only in whether a caller must be authenticated, and a dump of
// the running settings.
package diaghttp
