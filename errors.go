package auth

import (
	"errors"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// Text codes attached to sentinel errors. Transport layers and logs key
// off these rather than matching message strings.
const (
	TextCodeInvalidCreds       = "INVALID_CREDENTIALS"
	TextCodeIdentityNotActive  = "IDENTITY_NOT_ACTIVE"
	TextCodeTooManyAttempts    = "TOO_MANY_LOGIN_ATTEMPTS"
	TextCodeSessionNotFound    = "SESSION_NOT_FOUND"
	TextCodeSessionDecodeError = "SESSION_DECODE_ERROR"
	TextCodeClaimsMappingError = "CLAIMS_MAPPING_ERROR"
	TextCodeDataParseError     = "DATA_PARSE_ERROR"
	TextCodeEmptyPassword      = "EMPTY_PASSWORD"
	TextCodeTokenExpired       = "TOKEN_EXPIRED"
	TextCodeTokenMalformed     = "TOKEN_MALFORMED"
	TextCodeUnsupported        = "UNSUPPORTED_OPERATION"
	TextCodeRequirementNotMet  = "REQUIREMENT_NOT_MET"
)

// ErrIdentityNotFound is the error we return for non found identities
var ErrIdentityNotFound = goerrors.New("identity not found", goerrors.CategoryNotFound).
	WithTextCode("IDENTITY_NOT_FOUND").
	WithCode(goerrors.CodeNotFound)

// ErrMismatchedHashAndPassword is the error for failed credential checks.
// Unknown usernames and wrong passwords both resolve to this value so the
// response does not reveal which accounts exist.
var ErrMismatchedHashAndPassword = goerrors.New("the credentials provided are invalid", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCreds)

// ErrIdentityNotActive rejects credentials that match an account whose
// status does not allow logins.
var ErrIdentityNotActive = goerrors.New("identity is not active", goerrors.CategoryAuth).
	WithTextCode(TextCodeIdentityNotActive)

// ErrTooManyLoginAttempts is returned when an account is cooling down
var ErrTooManyLoginAttempts = goerrors.New("too many login attempts", goerrors.CategoryRateLimit).
	WithTextCode(TextCodeTooManyAttempts)

// ErrUnableToFindSession is the error when our request carries no token
var ErrUnableToFindSession = goerrors.New("unable to find session", goerrors.CategoryAuth).
	WithTextCode(TextCodeSessionNotFound)

// ErrUnableToDecodeSession unable to decode the session token
var ErrUnableToDecodeSession = goerrors.New("unable to decode session", goerrors.CategoryAuth).
	WithTextCode(TextCodeSessionDecodeError)

// ErrUnableToMapClaims unable to get claims from token
var ErrUnableToMapClaims = goerrors.New("unable to map claims", goerrors.CategoryAuth).
	WithTextCode(TextCodeClaimsMappingError)

// ErrUnableToParseData parse error
var ErrUnableToParseData = goerrors.New("unable to parse data", goerrors.CategoryBadInput).
	WithTextCode(TextCodeDataParseError).
	WithCode(goerrors.CodeBadRequest)

// ErrNoEmptyString rejects empty passwords before they reach bcrypt
var ErrNoEmptyString = goerrors.New("value cannot be an empty string", goerrors.CategoryValidation).
	WithTextCode(TextCodeEmptyPassword)

// ErrTokenExpired marks tokens past their expiry
var ErrTokenExpired = goerrors.New("token is expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired)

// ErrTokenMalformed marks tokens that fail to parse
var ErrTokenMalformed = goerrors.New("token is malformed", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenMalformed)

// ErrUnsupported is returned by stores that cannot implement an
// operation, such as destroying a signed stateless token. Callers must
// not confuse it with a missing record.
var ErrUnsupported = goerrors.New("operation not supported by this store", goerrors.CategoryOperation).
	WithTextCode(TextCodeUnsupported)

// ErrRequirementNotMet is the guard rejection for identities that do not
// satisfy the route requirement.
var ErrRequirementNotMet = goerrors.New("requirement not met", goerrors.CategoryAuthz).
	WithTextCode(TextCodeRequirementNotMet)

// IsTokenExpiredError will check for expired tokens
func IsTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTokenExpired) {
		return true
	}
	return strings.Contains(err.Error(), "token is expired")
}

// IsMalformedError will check for error message
func IsMalformedError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTokenMalformed) {
		return true
	}
	return strings.Contains(err.Error(), "token is malformed") ||
		strings.Contains(err.Error(), "missing or malformed JWT")
}
