// Package auth resolves the caller identity for a request.
//
// Credentials come from the Authorization header: HTTP Basic checked against
// bcrypt password hashes, or Bearer tokens checked against SHA-256 digests.
// Users are declared in a YAML file read from disk or from S3.
//
// A request without credentials is anonymous. A request with credentials
// that do not verify is rejected with 401 before any handler runs.
package auth
