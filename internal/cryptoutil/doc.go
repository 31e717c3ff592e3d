// Package cryptoutil holds the SHA-256 digest helpers shared by bearer token
// checks and remote settings revisions.
package cryptoutil
