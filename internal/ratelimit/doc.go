// Package ratelimit is per-client-IP rate limiting middleware for the echo
// API listener.
//
// State lives in process memory and is not shared between instances. It
// caps how fast a single address can drive the echo and settings handlers
// and gives one log line plus a counter per offender; distributed floods
// are left to upstream filtering.
package ratelimit
