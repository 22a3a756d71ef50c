package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// tokenClaims is the claim set signed into stateless tokens
type tokenClaims struct {
	jwt.RegisteredClaims
	UID      string `json:"uid,omitempty"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
	Active   bool   `json:"active"`
}

func (c *tokenClaims) payload() *TokenPayload {
	p := &TokenPayload{
		Username: c.Username,
		Email:    c.Email,
		Active:   c.Active,
	}

	if c.UID != "" {
		if id, err := uuid.Parse(c.UID); err == nil {
			p.UserID = id
		}
	}

	return p
}

// JWTTokenStore signs the payload into a stateless HS256 token. Nothing
// is persisted, so there is nothing to revoke: DestroyToken reports
// ErrUnsupported and tokens stay live until they expire.
type JWTTokenStore struct {
	signingKey      []byte
	tokenExpiration int
	issuer          string
	audience        jwt.ClaimStrings
	logger          Logger
	now             func() time.Time
}

var _ TokenStore = (*JWTTokenStore)(nil)

// NewJWTTokenStore creates a new JWTTokenStore instance. tokenExpiration
// is in hours; zero mints tokens without an expiry claim.
func NewJWTTokenStore(signingKey []byte, tokenExpiration int, issuer string, audience jwt.ClaimStrings, logger Logger) *JWTTokenStore {
	if logger == nil {
		logger = defLogger{}
	}
	return &JWTTokenStore{
		signingKey:      signingKey,
		tokenExpiration: tokenExpiration,
		issuer:          issuer,
		audience:        audience,
		logger:          logger,
		now:             time.Now,
	}
}

// WithClock overrides the time source so tests can mint tokens in the
// past.
func (ts *JWTTokenStore) WithClock(now func() time.Time) *JWTTokenStore {
	if now != nil {
		ts.now = now
	}
	return ts
}

func (ts *JWTTokenStore) WriteToken(ctx context.Context, payload TokenPayload) (string, error) {
	now := ts.now()
	claims := &tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       uuid.NewString(),
			Issuer:   ts.issuer,
			Subject:  payload.UserID.String(),
			Audience: ts.audience,
			IssuedAt: jwt.NewNumericDate(now),
		},
		UID:      payload.UserID.String(),
		Username: payload.Username,
		Email:    payload.Email,
		Active:   payload.Active,
	}

	if ts.tokenExpiration > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(time.Duration(ts.tokenExpiration) * time.Hour))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString(ts.signingKey)
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to sign JWT")
	}

	return signed, nil
}

// ReadToken parses and verifies the token. Tampered, expired and
// malformed tokens all degrade to an absent payload; they are never
// surfaced as errors.
func (ts *JWTTokenStore) ReadToken(ctx context.Context, token string) (*TokenPayload, error) {
	if token == "" {
		return nil, nil
	}

	parserOptions := make([]jwt.ParserOption, 0, 3)
	parserOptions = append(parserOptions, jwt.WithTimeFunc(ts.now))
	if ts.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(ts.issuer))
	}
	if len(ts.audience) > 0 {
		parserOptions = append(parserOptions, jwt.WithAudience(ts.audience...))
	}

	parsed, err := jwt.ParseWithClaims(token, &tokenClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ts.signingKey, nil
	}, parserOptions...)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			ts.logger.Debug("token store rejected expired token")
		} else {
			ts.logger.Debug("token store rejected token: %v", err)
		}
		return nil, nil
	}

	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || !parsed.Valid {
		ts.logger.Debug("token store could not map claims")
		return nil, nil
	}

	return claims.payload(), nil
}

// DestroyToken cannot revoke a signed stateless token.
func (ts *JWTTokenStore) DestroyToken(ctx context.Context, token string) error {
	return ErrUnsupported
}
