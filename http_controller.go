package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-repository-bun"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/nyaruka/phonenumbers"
	"github.com/uptrace/bun"
)

// APIOut is the response envelope every auth route returns. Status
// carries the business result: 0 is success, negative values are
// rejections whose meaning is route specific. Code stays 0 except for
// secondary success variants such as logging in over an already
// established session.
type APIOut struct {
	Status int    `json:"status"`
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Data   any    `json:"data"`
}

// Envelope contract values. Login reads -1 as bad credentials and -2 as
// an inactive account; registration reuses -1 for a taken username and
// -2 for a taken email.
const (
	StatusOK                 = 0
	StatusInvalidCredentials = -1
	StatusNotActive          = -2
	StatusUsernameTaken      = -1
	StatusEmailTaken         = -2

	CodeOK              = 0
	CodeAlreadyLoggedIn = 1
)

// TokenOut is the data payload for routes that establish a session.
// AccessToken and TokenType are only present on paths that issued a
// token.
type TokenOut struct {
	ID          uuid.UUID `json:"id"`
	Username    string    `json:"username"`
	Email       string    `json:"email"`
	AccessToken string    `json:"access_token,omitempty"`
	TokenType   string    `json:"token_type,omitempty"`
}

func tokenOutFor(user *User) TokenOut {
	return TokenOut{
		ID:       user.ID,
		Username: user.Username,
		Email:    user.Email,
	}
}

// LoginPayload is the credential form accepted by login and gettoken.
type LoginPayload struct {
	Username string `form:"username" json:"username"`
	Password string `form:"password" json:"password"`
}

// Validate will run validation rules
func (r LoginPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.Required),
		validation.Field(&r.Password, validation.Required),
	)
}

// RegisterPayload is the registration form. Phone is optional and gets
// normalized to E.164 when it parses.
type RegisterPayload struct {
	Username string `form:"username" json:"username"`
	Email    string `form:"email" json:"email"`
	Password string `form:"password" json:"password"`
	Phone    string `form:"phone" json:"phone"`
}

// Validate will validate the payload
func (r RegisterPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.Required, validation.Length(3, 100)),
		validation.Field(&r.Email, validation.Required, validation.Length(6, 100), is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(6, 100)),
		validation.Field(&r.Phone, validation.Length(7, 20)),
	)
}

// AuthControllerRoutes holds the mount points for the controller.
type AuthControllerRoutes struct {
	Prefix   string
	Login    string
	Token    string
	UserInfo string
	Register string
	Logout   string
}

// AuthController serves the session endpoints: login, token retrieval,
// user info, registration and logout. All responses share the APIOut
// envelope.
type AuthController struct {
	Debug          bool
	Logger         Logger
	Repo           RepositoryManager
	Store          TokenStore
	Verifier       CredentialVerifier
	Guard          *RequirementGuard
	Routes         *AuthControllerRoutes
	Activity       ActivitySink
	CookieDuration time.Duration
}

type AuthControllerOption func(*AuthController) *AuthController

func WithRepository(repo RepositoryManager) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Repo = repo
		return c
	}
}

func WithTokenStore(store TokenStore) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Store = store
		return c
	}
}

func WithVerifier(verifier CredentialVerifier) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Verifier = verifier
		return c
	}
}

func WithGuard(guard *RequirementGuard) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Guard = guard
		return c
	}
}

func WithLogger(logger Logger) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		if logger != nil {
			c.Logger = logger
		}
		return c
	}
}

func WithActivitySink(sink ActivitySink) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Activity = sink
		return c
	}
}

func WithDebug(debug bool) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Debug = debug
		return c
	}
}

func WithCookieDuration(d time.Duration) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		if d > 0 {
			c.CookieDuration = d
		}
		return c
	}
}

func WithRoutes(routes *AuthControllerRoutes) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		if routes != nil {
			c.Routes = routes
		}
		return c
	}
}

func NewAuthController(opts ...AuthControllerOption) *AuthController {
	c := &AuthController{
		Logger: defLogger{},
		Routes: &AuthControllerRoutes{
			Prefix:   "/auth",
			Login:    "/login",
			Token:    "/gettoken",
			UserInfo: "/userinfo",
			Register: "/register",
			Logout:   "/logout",
		},
		CookieDuration: 24 * time.Hour,
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Repo == nil {
		panic("Missing RepositoryManager in auth controller...")
	}

	if c.Store == nil {
		panic("Missing TokenStore in auth controller...")
	}

	if c.Verifier == nil {
		panic("Missing CredentialVerifier in auth controller...")
	}

	if c.Guard == nil {
		resolver := NewIdentityResolver(c.Store, c.Repo.Users()).WithLogger(c.Logger)
		c.Guard = NewRequirementGuard(resolver, c.Repo).WithLogger(c.Logger)
	}

	c.Activity = normalizeActivitySink(c.Activity)

	return c
}

// RegisterAuthRoutes mounts a controller built from opts onto the app.
func RegisterAuthRoutes(app fiber.Router, opts ...AuthControllerOption) *AuthController {
	controller := NewAuthController(opts...)
	controller.RegisterRoutes(app)
	return controller
}

// RegisterRoutes mounts the auth endpoints under Routes.Prefix.
func (a *AuthController) RegisterRoutes(app fiber.Router) {
	grp := app.Group(a.Routes.Prefix)

	grp.Post(a.Routes.Login, a.LoginPost)
	grp.Post(a.Routes.Token, a.TokenPost)
	grp.Get(a.Routes.UserInfo, a.Guard.Requires(RequirementSpec{}).Handler(), a.UserInfoGet)
	grp.Post(a.Routes.Register, a.RegisterPost)
	grp.Get(a.Routes.Logout, a.LogoutGet)
}

// LoginPost verifies the submitted credentials and establishes a
// session. An authenticated caller gets code 1 and no new token.
func (a *AuthController) LoginPost(c *fiber.Ctx) error {
	payload := new(LoginPayload)

	if err := c.BodyParser(payload); err != nil {
		a.Logger.Error("login parse payload: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(APIOut{
			Status: fiber.StatusBadRequest,
			Msg:    ErrUnableToParseData.Message,
		})
	}

	if err := payload.Validate(); err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(APIOut{
			Status: fiber.StatusUnprocessableEntity,
			Msg:    err.Error(),
		})
	}

	if a.Debug {
		fmt.Println("======= AUTH LOGIN ======")
		fmt.Println(print.MaybePrettyJSON(payload))
		fmt.Println("=========================")
	}

	scope := a.Guard.Resolver().Resolve(c)
	if scope.IsAuthenticated() {
		return c.JSON(APIOut{
			Code: CodeAlreadyLoggedIn,
			Msg:  "user already logged in",
			Data: tokenOutFor(scope.User()),
		})
	}

	user, err := a.Verifier.VerifyIdentity(c.UserContext(), payload.Username, payload.Password)
	if err != nil {
		if isVerifierFault(err) {
			a.Logger.Error("login verification fault: %v", err)
			return err
		}

		a.Logger.Info("login rejected for %q: %v", payload.Username, err)
		a.recordActivity(c, ActivityEvent{
			EventType: ActivityEventLoginFailure,
			Metadata:  map[string]any{"username": payload.Username},
		})

		msg := ErrMismatchedHashAndPassword.Message
		if goerrors.Is(err, ErrTooManyLoginAttempts) {
			msg = ErrTooManyLoginAttempts.Message
		}

		return c.JSON(APIOut{
			Status: StatusInvalidCredentials,
			Msg:    msg,
		})
	}

	if err := statusAuthError(user.Status); err != nil {
		a.recordActivity(c, ActivityEvent{
			EventType: ActivityEventLoginFailure,
			UserID:    user.ID.String(),
			Metadata:  map[string]any{"status": string(user.Status)},
		})
		return c.JSON(APIOut{
			Status: StatusNotActive,
			Msg:    ErrIdentityNotActive.Message,
		})
	}

	token, err := a.Store.WriteToken(c.UserContext(), user.TokenPayload())
	if err != nil {
		a.Logger.Error("login token issue failed: %v", err)
		return err
	}

	a.setAuthCookie(c, token)
	a.recordActivity(c, ActivityEvent{
		EventType: ActivityEventLoginSuccess,
		Actor:     ActorRef{ID: user.ID.String(), Type: "user"},
		UserID:    user.ID.String(),
	})

	out := tokenOutFor(user)
	out.AccessToken = token
	out.TokenType = "bearer"

	return c.JSON(APIOut{Data: out})
}

// TokenPost is the OAuth2 style token endpoint. It reuses the already
// resolved identity when the request carries a valid token, otherwise
// verifies the submitted credentials. The token always comes back in
// the body, so cookie-less clients can use it directly.
func (a *AuthController) TokenPost(c *fiber.Ctx) error {
	payload := new(LoginPayload)

	if err := c.BodyParser(payload); err != nil {
		a.Logger.Error("gettoken parse payload: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(APIOut{
			Status: fiber.StatusBadRequest,
			Msg:    ErrUnableToParseData.Message,
		})
	}

	if err := payload.Validate(); err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(APIOut{
			Status: fiber.StatusUnprocessableEntity,
			Msg:    err.Error(),
		})
	}

	scope := a.Guard.Resolver().Resolve(c)

	user := scope.User()
	if user == nil {
		verified, err := a.Verifier.VerifyIdentity(c.UserContext(), payload.Username, payload.Password)
		if err != nil {
			if isVerifierFault(err) {
				a.Logger.Error("gettoken verification fault: %v", err)
				return err
			}

			a.Logger.Info("gettoken rejected for %q: %v", payload.Username, err)
			return c.JSON(APIOut{
				Status: StatusInvalidCredentials,
				Msg:    ErrMismatchedHashAndPassword.Message,
			})
		}
		user = verified
	}

	token, err := a.Store.WriteToken(c.UserContext(), user.TokenPayload())
	if err != nil {
		a.Logger.Error("gettoken token issue failed: %v", err)
		return err
	}

	a.setAuthCookie(c, token)
	a.recordActivity(c, ActivityEvent{
		EventType: ActivityEventTokenIssued,
		Actor:     ActorRef{ID: user.ID.String(), Type: "user"},
		UserID:    user.ID.String(),
	})

	out := tokenOutFor(user)
	out.AccessToken = token
	out.TokenType = "bearer"

	return c.JSON(APIOut{Data: out})
}

// UserInfoGet returns the live record for the authenticated caller. The
// route is guarded, so by the time we run a scope is present.
func (a *AuthController) UserInfoGet(c *fiber.Ctx) error {
	scope, ok := ScopeFromCtx(c, a.Guard.Resolver().ContextKey())
	if !ok || !scope.IsAuthenticated() {
		return c.Status(fiber.StatusForbidden).JSON(APIOut{
			Status: fiber.StatusForbidden,
			Msg:    "user has no permission for this operation",
		})
	}

	return c.JSON(APIOut{Data: scope.User()})
}

// RegisterPost creates a new identity and logs it in. Username and
// email conflicts are business rejections; anything the storage layer
// throws is a plain error so it surfaces as a server fault.
func (a *AuthController) RegisterPost(c *fiber.Ctx) error {
	payload := new(RegisterPayload)

	if err := c.BodyParser(payload); err != nil {
		a.Logger.Error("register parse payload: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(APIOut{
			Status: fiber.StatusBadRequest,
			Msg:    ErrUnableToParseData.Message,
		})
	}

	if err := payload.Validate(); err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(APIOut{
			Status: fiber.StatusUnprocessableEntity,
			Msg:    err.Error(),
		})
	}

	if a.Debug {
		fmt.Println("======= AUTH REGISTER ===")
		fmt.Println(print.MaybePrettyJSON(payload))
		fmt.Println("=========================")
	}

	hash, err := HashPassword(payload.Password)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "failed to hash password")
	}

	record := &User{
		Username:     strings.TrimSpace(payload.Username),
		Email:        strings.TrimSpace(payload.Email),
		Phone:        normalizePhone(payload.Phone),
		PasswordHash: hash,
		Status:       UserStatusActive,
	}

	if id, err := hashid.NewUUID(record.Email); err == nil {
		record.ID = id
	}

	var rejection *APIOut

	err = a.Repo.RunInTx(c.UserContext(), nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := a.Repo.Users().GetByUsernameTx(ctx, tx, record.Username); err == nil {
			rejection = &APIOut{Status: StatusUsernameTaken, Msg: "username already registered"}
			return nil
		} else if !repository.IsRecordNotFound(err) {
			return err
		}

		if _, err := a.Repo.Users().GetByEmailTx(ctx, tx, record.Email); err == nil {
			rejection = &APIOut{Status: StatusEmailTaken, Msg: "email already registered"}
			return nil
		} else if !repository.IsRecordNotFound(err) {
			return err
		}

		created, err := a.Repo.Users().RegisterTx(ctx, tx, record)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to persist registration")
		}

		record = created
		return nil
	})

	if err != nil {
		a.Logger.Error("register persist failed: %v", err)
		return err
	}

	if rejection != nil {
		return c.JSON(*rejection)
	}

	token, err := a.Store.WriteToken(c.UserContext(), record.TokenPayload())
	if err != nil {
		a.Logger.Error("register token issue failed: %v", err)
		return err
	}

	a.setAuthCookie(c, token)
	a.recordActivity(c, ActivityEvent{
		EventType: ActivityEventRegistration,
		Actor:     ActorRef{ID: record.ID.String(), Type: "user"},
		UserID:    record.ID.String(),
		ToStatus:  record.Status,
	})

	out := tokenOutFor(record)
	out.AccessToken = token
	out.TokenType = "bearer"

	return c.JSON(APIOut{Msg: "registration successful", Data: out})
}

// LogoutGet destroys the current session token where the store supports
// it and clears the cookie either way. Stateless tokens simply age out.
func (a *AuthController) LogoutGet(c *fiber.Ctx) error {
	scope := a.Guard.Resolver().Resolve(c)

	if scope.Token() != "" {
		if err := a.Store.DestroyToken(c.UserContext(), scope.Token()); err != nil {
			if goerrors.Is(err, ErrUnsupported) {
				a.Logger.Debug("token store cannot revoke, relying on expiry")
			} else {
				a.Logger.Error("logout token destroy failed: %v", err)
				return err
			}
		}
	}

	a.clearAuthCookie(c)

	if scope.IsAuthenticated() {
		a.recordActivity(c, ActivityEvent{
			EventType: ActivityEventLogout,
			Actor:     ActorRef{ID: scope.User().ID.String(), Type: "user"},
			UserID:    scope.User().ID.String(),
		})
	}

	return c.JSON(APIOut{Msg: "logged out"})
}

// setAuthCookie mirrors the session into a cookie the resolver can read
// back. The value carries the lowercase scheme prefix.
func (a *AuthController) setAuthCookie(c *fiber.Ctx, token string) {
	c.Cookie(&fiber.Cookie{
		Name:     fiber.HeaderAuthorization,
		Value:    "bearer " + token,
		Expires:  time.Now().Add(a.CookieDuration),
		HTTPOnly: true,
		Secure:   true,
		SameSite: "Lax",
	})
}

func (a *AuthController) clearAuthCookie(c *fiber.Ctx) {
	c.Cookie(&fiber.Cookie{
		Name:     fiber.HeaderAuthorization,
		Value:    "",
		Expires:  time.Now().Add(-time.Hour * (24 * 365)),
		HTTPOnly: true,
		Secure:   true,
		SameSite: "Lax",
	})
}

// isVerifierFault separates storage faults from credential rejections.
// Rejections become envelope statuses; faults propagate so the server
// answers with a 500 instead of lying about the credentials.
func isVerifierFault(err error) bool {
	var richErr *goerrors.Error
	return goerrors.As(err, &richErr) && richErr.Category == goerrors.CategoryInternal
}

func (a *AuthController) recordActivity(c *fiber.Ctx, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	if err := a.Activity.Record(c.UserContext(), event); err != nil {
		a.Logger.Warn("activity sink rejected %s: %v", event.EventType, err)
	}
}

// normalizePhone formats a submitted phone number as E.164 when it
// parses as a valid number, defaulting the region to US for bare
// national formats. Unparseable values pass through trimmed; the field
// is informational, not an identifier.
func normalizePhone(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}

	num, err := phonenumbers.Parse(trimmed, "US")
	if err != nil || !phonenumbers.IsValidNumber(num) {
		return trimmed
	}

	return phonenumbers.Format(num, phonenumbers.E164)
}
