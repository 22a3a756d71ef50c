package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-repository-bun"
)

// Defaults for token extraction. The cookie fallback shares its name
// with the header; login writes that cookie with a lowercase scheme
// prefix, so both sources go through the same scheme matching.
const (
	DefaultTokenLookup = "header:" + fiber.HeaderAuthorization + ",cookie:" + fiber.HeaderAuthorization
	DefaultAuthScheme  = "Bearer"
)

// TokenExtractor pulls a raw token out of a request, returning "" when
// its source carries none.
type TokenExtractor func(c *fiber.Ctx) string

// IdentityResolver turns an inbound request into an
// AuthenticationScope: it extracts the bearer token, resolves it
// through the TokenStore, and re-fetches the live user record named by
// the payload's username. Only the username is trusted from the
// payload; every other attribute comes from the fresh record, so role
// and permission changes apply without reissuing tokens.
//
// The result is cached on the request. Failures degrade to an anonymous
// scope and are never raised; rejecting anonymous callers is the
// guard's job.
type IdentityResolver struct {
	store       TokenStore
	users       Users
	logger      Logger
	contextKey  string
	tokenLookup string
	authScheme  string
	extractors  []TokenExtractor
}

func NewIdentityResolver(store TokenStore, users Users) *IdentityResolver {
	r := &IdentityResolver{
		store:       store,
		users:       users,
		logger:      defLogger{},
		contextKey:  DefaultContextKey,
		tokenLookup: DefaultTokenLookup,
		authScheme:  DefaultAuthScheme,
	}
	r.extractors = GetExtractors(r.tokenLookup, r.authScheme)
	return r
}

func (r *IdentityResolver) WithLogger(l Logger) *IdentityResolver {
	if l != nil {
		r.logger = l
	}
	return r
}

// WithConfig applies the lookup, scheme and context key from an auth
// Config.
func (r *IdentityResolver) WithConfig(cfg Config) *IdentityResolver {
	if cfg == nil {
		return r
	}

	if v := cfg.GetTokenLookup(); v != "" {
		r.tokenLookup = v
	}
	if v := cfg.GetAuthScheme(); v != "" {
		r.authScheme = v
	}
	if v := cfg.GetContextKey(); v != "" {
		r.contextKey = v
	}

	r.extractors = GetExtractors(r.tokenLookup, r.authScheme)
	return r
}

func (r *IdentityResolver) WithTokenLookup(lookup string) *IdentityResolver {
	if lookup != "" {
		r.tokenLookup = lookup
		r.extractors = GetExtractors(r.tokenLookup, r.authScheme)
	}
	return r
}

func (r *IdentityResolver) WithAuthScheme(scheme string) *IdentityResolver {
	if scheme != "" {
		r.authScheme = scheme
		r.extractors = GetExtractors(r.tokenLookup, r.authScheme)
	}
	return r
}

func (r *IdentityResolver) WithContextKey(key string) *IdentityResolver {
	if key != "" {
		r.contextKey = key
	}
	return r
}

// ContextKey is the Locals key resolved scopes are cached under.
func (r *IdentityResolver) ContextKey() string {
	return r.contextKey
}

// TokenFromRequest returns the first token any configured extractor
// finds.
func (r *IdentityResolver) TokenFromRequest(c *fiber.Ctx) string {
	for _, extract := range r.extractors {
		if token := extract(c); token != "" {
			return token
		}
	}
	return ""
}

// Resolve returns the request's authentication scope, resolving it on
// first call and reusing the cached value afterwards. A second call
// within the same request performs no store reads.
func (r *IdentityResolver) Resolve(c *fiber.Ctx) *AuthenticationScope {
	if scope, ok := ScopeFromCtx(c, r.contextKey); ok {
		return scope
	}

	scope := r.resolve(c)

	c.Locals(r.contextKey, scope)

	ctx := WithScopeContext(c.UserContext(), scope)
	if scope.IsAuthenticated() {
		ctx = WithContext(ctx, scope.User())
	}
	c.SetUserContext(ctx)

	return scope
}

func (r *IdentityResolver) resolve(c *fiber.Ctx) *AuthenticationScope {
	token := r.TokenFromRequest(c)
	if token == "" {
		return anonymousScope()
	}

	payload, err := r.store.ReadToken(c.UserContext(), token)
	if err != nil {
		r.logger.Error("token read failed, resolving as anonymous: %v", err)
		return anonymousScope()
	}

	if payload == nil || payload.Username == "" {
		return anonymousScope()
	}

	user, err := r.users.GetByUsername(c.UserContext(), payload.Username)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			r.logger.Debug("token names unknown user %q, resolving as anonymous", payload.Username)
		} else {
			r.logger.Error("identity lookup failed, resolving as anonymous: %v", err)
		}
		return anonymousScope()
	}

	user.EnsureStatus()

	return &AuthenticationScope{
		user:     user,
		token:    token,
		resolved: true,
	}
}

// GetExtractors parses a token lookup definition such as
// "header:Authorization,cookie:Authorization,query:access_token" into
// extractor functions, tried in order.
func GetExtractors(tokenLookup string, authSchemes ...string) []TokenExtractor {
	extractors := make([]TokenExtractor, 0)

	authScheme := DefaultAuthScheme
	if len(authSchemes) > 0 {
		authScheme = authSchemes[0]
	}

	rootParts := strings.Split(tokenLookup, ",")
	for _, rootPart := range rootParts {
		parts := strings.Split(strings.TrimSpace(rootPart), ":")
		if len(parts) != 2 {
			continue
		}

		for i, el := range parts {
			parts[i] = strings.TrimSpace(el)
		}

		switch parts[0] {
		case "header":
			extractors = append(extractors, tokenFromHeader(parts[1], authScheme))
		case "cookie":
			extractors = append(extractors, tokenFromCookie(parts[1], authScheme))
		case "query":
			extractors = append(extractors, tokenFromQuery(parts[1]))
		case "param":
			extractors = append(extractors, tokenFromParam(parts[1]))
		}
	}

	return extractors
}

// tokenFromHeader extracts a scheme-prefixed token from a request
// header. The scheme comparison is case-insensitive.
func tokenFromHeader(header, authScheme string) TokenExtractor {
	scheme := strings.TrimSpace(authScheme)
	return func(c *fiber.Ctx) string {
		a := c.Get(header)
		if a == "" {
			return ""
		}

		if scheme == "" {
			return strings.TrimSpace(a)
		}

		l := len(scheme)
		if len(a) > l+1 && strings.EqualFold(a[:l], scheme) {
			return strings.TrimSpace(a[l:])
		}

		return ""
	}
}

// tokenFromCookie extracts a token from the named cookie. Values may
// carry the same scheme prefix as the header; the prefix is stripped
// case-insensitively when present.
func tokenFromCookie(name, authScheme string) TokenExtractor {
	scheme := strings.TrimSpace(authScheme)
	return func(c *fiber.Ctx) string {
		v := c.Cookies(name)
		if v == "" {
			return ""
		}

		l := len(scheme)
		if l > 0 && len(v) > l+1 && strings.EqualFold(v[:l], scheme) {
			return strings.TrimSpace(v[l:])
		}

		return strings.TrimSpace(v)
	}
}

// tokenFromQuery extracts a token from the query string.
func tokenFromQuery(param string) TokenExtractor {
	return func(c *fiber.Ctx) string {
		return c.Query(param)
	}
}

// tokenFromParam extracts a token from a route parameter.
func tokenFromParam(param string) TokenExtractor {
	return func(c *fiber.Ctx) string {
		return c.Params(param)
	}
}
