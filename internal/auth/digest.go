package auth

import "github.com/keithlinneman/linnemanlabs-echo/internal/cryptoutil"

// TokenDigest returns the lowercase hex SHA-256 of a bearer token, the form
// stored in the users file.
func TokenDigest(token string) string {
	return cryptoutil.SHA256Hex([]byte(token))
}

func digestEqual(a, b string) bool { return cryptoutil.HashEqual(a, b) }

func validDigest(s string) bool { return cryptoutil.IsSHA256Hex(s) }
