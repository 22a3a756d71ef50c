package auth

import (
	"time"

	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
)

// DefaultRedirectCookie names the cookie that remembers the route an
// unauthenticated caller was bounced from, so the login flow can send
// them back afterwards.
const DefaultRedirectCookie = "auth_redirect"

// ErrorHandler translates the package error taxonomy into HTTP
// responses. Install the handler it builds as the fiber app's
// ErrorHandler so guard and controller errors reach clients with the
// same envelope the routes use.
type ErrorHandler struct {
	logger         Logger
	redirectPath   string
	redirectCookie string
}

type ErrorHandlerOption func(*ErrorHandler) *ErrorHandler

func WithErrorLogger(logger Logger) ErrorHandlerOption {
	return func(h *ErrorHandler) *ErrorHandler {
		if logger != nil {
			h.logger = logger
		}
		return h
	}
}

// WithAuthRedirect sends authentication and authorization failures to
// path instead of answering with JSON, remembering the rejected route
// in a short lived cookie.
func WithAuthRedirect(path string) ErrorHandlerOption {
	return func(h *ErrorHandler) *ErrorHandler {
		h.redirectPath = path
		return h
	}
}

// WithRedirectCookie overrides the cookie the rejected route is
// remembered under.
func WithRedirectCookie(name string) ErrorHandlerOption {
	return func(h *ErrorHandler) *ErrorHandler {
		if name != "" {
			h.redirectCookie = name
		}
		return h
	}
}

// NewErrorHandler builds the fiber error handler.
func NewErrorHandler(opts ...ErrorHandlerOption) fiber.ErrorHandler {
	h := &ErrorHandler{
		logger:         defLogger{},
		redirectCookie: DefaultRedirectCookie,
	}

	for _, opt := range opts {
		h = opt(h)
	}

	return h.Handle
}

// Handle maps an error to a response. Rich errors answer with the
// status their category implies; fiber errors keep their code; anything
// else is a 500.
func (h *ErrorHandler) Handle(c *fiber.Ctx, err error) error {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return c.Status(fiberErr.Code).JSON(APIOut{
				Status: fiberErr.Code,
				Msg:    fiberErr.Message,
			})
		}
		richErr = goerrors.Wrap(err, goerrors.CategoryInternal, "unexpected server error")
	}

	status := httpStatusFor(richErr)
	h.logger.Error("request failed: %s (category=%s status=%d)", richErr.Message, richErr.Category, status)

	if h.redirectPath != "" && isAuthFailure(richErr) {
		SetRedirectCookie(c, h.redirectCookie)

		code := fiber.StatusSeeOther
		if c.Method() == fiber.MethodGet {
			code = fiber.StatusFound
		}
		return c.Redirect(h.redirectPath, code)
	}

	return c.Status(status).JSON(APIOut{
		Status: status,
		Msg:    richErr.Message,
	})
}

func isAuthFailure(err *goerrors.Error) bool {
	return err.Category == goerrors.CategoryAuth || err.Category == goerrors.CategoryAuthz
}

// httpStatusFor prefers an explicit code on the error, then falls back
// to what the category implies.
func httpStatusFor(err *goerrors.Error) int {
	if err.Code > 0 {
		return err.Code
	}

	switch err.Category {
	case goerrors.CategoryAuth:
		return fiber.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return fiber.StatusForbidden
	case goerrors.CategoryNotFound:
		return fiber.StatusNotFound
	case goerrors.CategoryValidation:
		return fiber.StatusUnprocessableEntity
	case goerrors.CategoryBadInput:
		return fiber.StatusBadRequest
	case goerrors.CategoryRateLimit:
		return fiber.StatusTooManyRequests
	case goerrors.CategoryConflict:
		return fiber.StatusConflict
	default:
		return fiber.StatusInternalServerError
	}
}

// SetRedirectCookie remembers the current URL for five minutes.
func SetRedirectCookie(c *fiber.Ctx, name ...string) {
	c.Cookie(&fiber.Cookie{
		Name:     redirectCookieName(name),
		Value:    c.OriginalURL(),
		Expires:  time.Now().Add(5 * time.Minute),
		HTTPOnly: true,
		Secure:   true,
		SameSite: "Lax",
	})
}

// RedirectTarget reads and clears the remembered route, falling back to
// the referer header and then def.
func RedirectTarget(c *fiber.Ctx, def string, name ...string) string {
	cookie := redirectCookieName(name)

	target := c.Cookies(cookie)
	if target == "" {
		target = c.Get(fiber.HeaderReferer)
	}
	if target == "" {
		target = def
	}

	expireCookie(c, cookie)
	return target
}

func redirectCookieName(name []string) string {
	if len(name) > 0 && name[0] != "" {
		return name[0]
	}
	return DefaultRedirectCookie
}

func expireCookie(c *fiber.Ctx, name string) {
	c.Cookie(&fiber.Cookie{
		Name:     name,
		Value:    "",
		Expires:  time.Now().Add(-time.Hour * (24 * 365)),
		HTTPOnly: true,
		Secure:   true,
		SameSite: "Lax",
	})
}
