package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"

	"github.com/goliatone/go-errors"
)

// tokenLength is the length of generated opaque tokens in bytes
const tokenLength = 32

// TokenStore issues and resolves session tokens. Implementations share
// one contract:
//
//   - WriteToken followed by ReadToken round-trips the payload.
//   - ReadToken reports a token that is unknown, expired, tampered with
//     or otherwise unusable as (nil, nil). Errors are reserved for
//     storage faults; a bad token is never an error.
//   - DestroyToken invalidates a token where the backend supports it.
//     Stores that cannot revoke, such as signed stateless tokens, return
//     ErrUnsupported.
//
// Stores do no caching of their own; every call is one backend
// round-trip.
type TokenStore interface {
	WriteToken(ctx context.Context, payload TokenPayload) (string, error)
	ReadToken(ctx context.Context, token string) (*TokenPayload, error)
	DestroyToken(ctx context.Context, token string) error
}

// generateToken returns a cryptographically random opaque token,
// hex encoded.
func generateToken() (string, error) {
	buf := make([]byte, tokenLength)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to generate random token")
	}
	return hex.EncodeToString(buf), nil
}
