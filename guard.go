package auth

import (
	"context"
	"io"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// RequirementSpec names what a caller must satisfy. Within one
// dimension any listed key passes; across dimensions every non-empty
// dimension must pass. A spec with all three dimensions empty admits
// any authenticated identity.
type RequirementSpec struct {
	Roles       []string
	Groups      []string
	Permissions []string
}

// Empty reports whether the spec constrains nothing beyond
// authentication.
func (s RequirementSpec) Empty() bool {
	return len(s.Roles) == 0 && len(s.Groups) == 0 && len(s.Permissions) == 0
}

// RequirementGuard builds gating checks against the membership tables.
// Every evaluation resolves the request identity, then runs its
// membership queries inside a single transaction so the three dimension
// checks see one consistent snapshot.
type RequirementGuard struct {
	resolver *IdentityResolver
	repo     RepositoryManager
	logger   Logger
}

func NewRequirementGuard(resolver *IdentityResolver, repo RepositoryManager) *RequirementGuard {
	return &RequirementGuard{
		resolver: resolver,
		repo:     repo,
		logger:   defLogger{},
	}
}

func (g *RequirementGuard) WithLogger(l Logger) *RequirementGuard {
	if l != nil {
		g.logger = l
	}
	return g
}

// Resolver exposes the guard's identity resolver.
func (g *RequirementGuard) Resolver() *IdentityResolver {
	return g.resolver
}

// Requires builds a Requirement for the spec. The zero policy rejects
// with 403; options change what a rejection looks like.
func (g *RequirementGuard) Requires(spec RequirementSpec, opts ...RequirementOption) *Requirement {
	req := &Requirement{
		guard:      g,
		spec:       spec,
		statusCode: fiber.StatusForbidden,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(req)
		}
	}

	return req
}

// Requirement is one configured gate. It can be used as a pure
// predicate (Check, Ensure), as route middleware (Handler), or to gate
// a persistent connection (GuardConn).
type Requirement struct {
	guard      *RequirementGuard
	spec       RequirementSpec
	statusCode int
	redirectTo string
	response   fiber.Handler
}

type RequirementOption func(*Requirement)

// WithStatusCode sets the HTTP status written on rejection.
func WithStatusCode(code int) RequirementOption {
	return func(r *Requirement) {
		if code > 0 {
			r.statusCode = code
		}
	}
}

// WithRedirect rejects by redirecting to the given location with
// 303 See Other. Redirects take priority over substitute responses and
// status codes.
func WithRedirect(location string) RequirementOption {
	return func(r *Requirement) {
		r.redirectTo = location
	}
}

// WithResponse rejects by running the given handler verbatim.
func WithResponse(handler fiber.Handler) RequirementOption {
	return func(r *Requirement) {
		r.response = handler
	}
}

// Check evaluates the requirement against a resolved scope. It is a
// pure decision: no response is written. Anonymous scopes fail without
// touching the database. Storage faults are returned as errors, never
// folded into a deny.
func (r *Requirement) Check(ctx context.Context, scope *AuthenticationScope) (bool, error) {
	if !scope.IsAuthenticated() {
		return false, nil
	}

	if r.spec.Empty() {
		return true, nil
	}

	userID := scope.User().ID

	pass := false
	err := r.guard.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		ok, err := r.guard.checkTx(ctx, tx, userID, r.spec)
		if err != nil {
			return err
		}
		pass = ok
		return nil
	})

	if err != nil {
		return false, errors.Wrap(err, errors.CategoryInternal, "requirement membership check failed")
	}

	return pass, nil
}

// Ensure is Check in error form: nil on pass, ErrRequirementNotMet on
// rejection, a wrapped storage error on fault.
func (r *Requirement) Ensure(ctx context.Context, scope *AuthenticationScope) error {
	ok, err := r.Check(ctx, scope)
	if err != nil {
		return err
	}

	if !ok {
		return ErrRequirementNotMet
	}

	return nil
}

// Handler gates a route. The rejection a caller sees does not depend on
// whether they were anonymous or authenticated but unauthorized.
func (r *Requirement) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		scope := r.guard.resolver.Resolve(c)

		ok, err := r.Check(c.UserContext(), scope)
		if err != nil {
			return err
		}

		if ok {
			return c.Next()
		}

		return r.Reject(c)
	}
}

// GuardConn evaluates the requirement for a persistent connection.
// Failure closes the connection instead of writing an HTTP response.
func (r *Requirement) GuardConn(ctx context.Context, c *fiber.Ctx, conn io.Closer) (bool, error) {
	scope := r.guard.resolver.Resolve(c)

	ok, err := r.Check(ctx, scope)
	if ok && err == nil {
		return true, nil
	}

	if conn != nil {
		if cerr := conn.Close(); cerr != nil {
			r.guard.logger.Error("failed to close rejected connection: %v", cerr)
		}
	}

	return false, err
}

// Reject writes the configured failure policy: redirect when set, then
// substitute response, then status code with the standard envelope.
func (r *Requirement) Reject(c *fiber.Ctx) error {
	if r.redirectTo != "" {
		return c.Redirect(r.redirectTo, fiber.StatusSeeOther)
	}

	if r.response != nil {
		return r.response(c)
	}

	return c.Status(r.statusCode).JSON(APIOut{
		Status: r.statusCode,
		Msg:    "user has no permission for this operation",
	})
}

// checkTx runs the dimension checks in order: groups, then roles, then
// permissions, short-circuiting on the first dimension that fails.
func (g *RequirementGuard) checkTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, spec RequirementSpec) (bool, error) {
	if len(spec.Groups) > 0 {
		ok, err := g.repo.Groups().UserHasAnyTx(ctx, tx, userID, spec.Groups)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}

	if len(spec.Roles) > 0 {
		ok, err := g.repo.Roles().UserHasAnyTx(ctx, tx, userID, spec.Roles)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}

	if len(spec.Permissions) > 0 {
		ok, err := g.repo.Permissions().UserHasAnyTx(ctx, tx, userID, spec.Permissions)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}

	return true, nil
}
