package auth

import "context"

// User is an authenticated principal.
type User struct {
	ID          int64
	Username    string
	IsStaff     bool
	IsSuperuser bool
}

// Identity is the caller attached to a request. The zero value is anonymous.
type Identity struct {
	User *User
	// Method is "basic" or "bearer" for authenticated callers.
	Method string
}

// Anonymous is the identity of a request that carried no credentials.
var Anonymous = Identity{}

func (id Identity) Authenticated() bool { return id.User != nil }

type identityKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the identity stored in ctx, or Anonymous.
func FromContext(ctx context.Context) Identity {
	if ctx == nil {
		return Anonymous
	}
	id, _ := ctx.Value(identityKey{}).(Identity)
	return id
}
