package authware

import (
	"github.com/gofiber/fiber/v2"

	auth "github.com/panelkit/go-auth"
)

// Config controls how requests are resolved and gated.
type Config struct {
	// Resolver turns the request token into an authentication scope.
	// Required.
	Resolver *auth.IdentityResolver

	// Filter skips the middleware for matching requests.
	Filter func(*fiber.Ctx) bool

	// SuccessHandler runs once a scope is attached. Defaults to Next.
	SuccessHandler fiber.Handler

	// ErrorHandler runs when authentication is required and absent.
	// Defaults to a 401 envelope response.
	ErrorHandler fiber.ErrorHandler

	// ContextKey overrides the Locals key the scope is cached under.
	ContextKey string

	// TokenLookup overrides where tokens are read from, using the
	// "source:name" comma list syntax, e.g.
	// "header:Authorization,cookie:Authorization".
	TokenLookup string

	// AuthScheme overrides the scheme stripped from header and cookie
	// values.
	AuthScheme string

	// Optional admits anonymous requests with an anonymous scope
	// attached, instead of rejecting them.
	Optional bool
}

// New builds a middleware that resolves the caller's identity and, in
// required mode, rejects requests that carry no usable token. The
// resolved scope is cached on the request either way, so downstream
// handlers and guards never re-read the token store.
func New(config ...Config) fiber.Handler {
	cfg := configDefault(config...)

	return func(c *fiber.Ctx) error {
		if cfg.Filter != nil && cfg.Filter(c) {
			return c.Next()
		}

		scope := cfg.Resolver.Resolve(c)

		if !scope.IsAuthenticated() && !cfg.Optional {
			return cfg.ErrorHandler(c, auth.ErrUnableToFindSession)
		}

		return cfg.SuccessHandler(c)
	}
}

func configDefault(config ...Config) Config {
	var cfg Config
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.Resolver == nil {
		panic("AUTH: authware configuration: Resolver is required.")
	}

	if cfg.ContextKey != "" {
		cfg.Resolver.WithContextKey(cfg.ContextKey)
	}

	if cfg.TokenLookup != "" {
		cfg.Resolver.WithTokenLookup(cfg.TokenLookup)
	}

	if cfg.AuthScheme != "" {
		cfg.Resolver.WithAuthScheme(cfg.AuthScheme)
	}

	if cfg.SuccessHandler == nil {
		cfg.SuccessHandler = func(c *fiber.Ctx) error {
			return c.Next()
		}
	}

	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = func(c *fiber.Ctx, err error) error {
			return c.Status(fiber.StatusUnauthorized).JSON(auth.APIOut{
				Status: fiber.StatusUnauthorized,
				Msg:    "authentication required",
			})
		}
	}

	return cfg
}

// ScopeFrom returns the scope the middleware attached to the request.
func ScopeFrom(c *fiber.Ctx, key ...string) (*auth.AuthenticationScope, bool) {
	return auth.ScopeFromCtx(c, key...)
}

// UserFrom returns the authenticated user attached to the request, nil
// for anonymous callers.
func UserFrom(c *fiber.Ctx, key ...string) *auth.User {
	return auth.UserFromCtx(c, key...)
}
