package auth

import (
	"context"
)

var userCtxKey = &contextKey{"user"}
var scopeCtxKey = &contextKey{"scope"}

type contextKey struct {
	name string
}

// WithContext sets the User in the given context
func WithContext(r context.Context, user *User) context.Context {
	return context.WithValue(r, userCtxKey, user)
}

// FromContext finds the user from the context.
func FromContext(ctx context.Context) (*User, bool) {
	raw, ok := ctx.Value(userCtxKey).(*User)
	return raw, ok
}

// WithScopeContext sets the resolved authentication scope in the given
// context
func WithScopeContext(r context.Context, scope *AuthenticationScope) context.Context {
	return context.WithValue(r, scopeCtxKey, scope)
}

// ScopeFromContext extracts the resolved authentication scope from the
// standard context
func ScopeFromContext(ctx context.Context) (*AuthenticationScope, bool) {
	raw, ok := ctx.Value(scopeCtxKey).(*AuthenticationScope)
	return raw, ok
}
