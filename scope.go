package auth

import (
	"github.com/gofiber/fiber/v2"
)

// DefaultContextKey is the Locals key the resolver caches the scope
// under when no other key is configured.
const DefaultContextKey = "user"

// AuthenticationScope is the per-request authentication state. The
// resolver populates it exactly once per request; everything downstream
// reads the same value, so nested guards never trigger a second token
// lookup. A scope is owned by its request and is never mutated after
// population.
type AuthenticationScope struct {
	user     *User
	token    string
	resolved bool
}

// User returns the resolved identity, or nil for anonymous requests.
func (s *AuthenticationScope) User() *User {
	if s == nil {
		return nil
	}
	return s.user
}

// Token returns the bearer token the identity was resolved from. Empty
// for anonymous requests.
func (s *AuthenticationScope) Token() string {
	if s == nil {
		return ""
	}
	return s.token
}

// IsAuthenticated reports whether the request carries a resolved
// identity.
func (s *AuthenticationScope) IsAuthenticated() bool {
	return s != nil && s.user != nil
}

// Resolved reports whether resolution ran for this request.
func (s *AuthenticationScope) Resolved() bool {
	return s != nil && s.resolved
}

func anonymousScope() *AuthenticationScope {
	return &AuthenticationScope{resolved: true}
}

// NewAuthenticatedScope builds a resolved scope for callers that
// authenticate outside the request path, such as connection upgrades or
// background jobs. A nil user yields an anonymous scope.
func NewAuthenticatedScope(user *User, token string) *AuthenticationScope {
	if user == nil {
		return anonymousScope()
	}
	return &AuthenticationScope{user: user, token: token, resolved: true}
}

// NewAnonymousScope builds a resolved scope with no identity.
func NewAnonymousScope() *AuthenticationScope {
	return anonymousScope()
}

// ScopeFromCtx returns the scope cached on the fiber context under the
// given Locals key, or DefaultContextKey when key is empty.
func ScopeFromCtx(c *fiber.Ctx, key ...string) (*AuthenticationScope, bool) {
	k := DefaultContextKey
	if len(key) > 0 && key[0] != "" {
		k = key[0]
	}

	raw := c.Locals(k)
	if raw == nil {
		return nil, false
	}

	scope, ok := raw.(*AuthenticationScope)
	return scope, ok
}

// UserFromCtx returns the resolved user cached on the fiber context, or
// nil for anonymous requests.
func UserFromCtx(c *fiber.Ctx, key ...string) *User {
	scope, ok := ScopeFromCtx(c, key...)
	if !ok {
		return nil
	}
	return scope.User()
}
