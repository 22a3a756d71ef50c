package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panelkit/go-auth"
)

func TestJWTTokenStoreRoundTrip(t *testing.T) {
	userID := uuid.New()
	store := auth.NewJWTTokenStore([]byte("signing-secret"), 1, "panelkit", jwt.ClaimStrings{"admin"}, nil)

	token, err := store.WriteToken(context.Background(), auth.TokenPayload{
		UserID:   userID,
		Username: "pepe",
		Email:    "pepe@example.com",
		Active:   true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, token)

	got, err := store.ReadToken(context.Background(), token)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, userID, got.UserID)
	assert.Equal(t, "pepe", got.Username)
	assert.Equal(t, "pepe@example.com", got.Email)
	assert.True(t, got.Active)
}

func TestJWTTokenStoreExpiredToken(t *testing.T) {
	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := auth.NewJWTTokenStore([]byte("signing-secret"), 1, "", nil, nil).WithClock(func() time.Time {
		return current
	})

	token, err := store.WriteToken(context.Background(), auth.TokenPayload{Username: "pepe", Active: true})
	require.NoError(t, err)

	got, err := store.ReadToken(context.Background(), token)
	require.NoError(t, err)
	require.NotNil(t, got)

	current = current.Add(2 * time.Hour)

	got, err = store.ReadToken(context.Background(), token)
	assert.NoError(t, err, "expired tokens degrade to absent, not errors")
	assert.Nil(t, got)
}

func TestJWTTokenStoreZeroExpirationNeverExpires(t *testing.T) {
	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := auth.NewJWTTokenStore([]byte("signing-secret"), 0, "", nil, nil).WithClock(func() time.Time {
		return current
	})

	token, err := store.WriteToken(context.Background(), auth.TokenPayload{Username: "pepe", Active: true})
	require.NoError(t, err)

	current = current.Add(24 * 365 * time.Hour)

	got, err := store.ReadToken(context.Background(), token)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "pepe", got.Username)
}

func TestJWTTokenStoreRejectsTamperedToken(t *testing.T) {
	store := auth.NewJWTTokenStore([]byte("signing-secret"), 1, "", nil, nil)

	token, err := store.WriteToken(context.Background(), auth.TokenPayload{Username: "pepe", Active: true})
	require.NoError(t, err)

	tampered := token[:len(token)-4] + "AAAA"

	got, err := store.ReadToken(context.Background(), tampered)
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestJWTTokenStoreRejectsWrongKey(t *testing.T) {
	issuing := auth.NewJWTTokenStore([]byte("issuing-key"), 1, "", nil, nil)
	verifying := auth.NewJWTTokenStore([]byte("other-key"), 1, "", nil, nil)

	token, err := issuing.WriteToken(context.Background(), auth.TokenPayload{Username: "pepe", Active: true})
	require.NoError(t, err)

	got, err := verifying.ReadToken(context.Background(), token)
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestJWTTokenStoreRejectsIssuerMismatch(t *testing.T) {
	key := []byte("shared-key")
	issuing := auth.NewJWTTokenStore(key, 1, "other-service", nil, nil)
	verifying := auth.NewJWTTokenStore(key, 1, "panelkit", nil, nil)

	token, err := issuing.WriteToken(context.Background(), auth.TokenPayload{Username: "pepe", Active: true})
	require.NoError(t, err)

	got, err := verifying.ReadToken(context.Background(), token)
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestJWTTokenStoreRejectsAudienceMismatch(t *testing.T) {
	key := []byte("shared-key")
	issuing := auth.NewJWTTokenStore(key, 1, "", jwt.ClaimStrings{"public-api"}, nil)
	verifying := auth.NewJWTTokenStore(key, 1, "", jwt.ClaimStrings{"admin"}, nil)

	token, err := issuing.WriteToken(context.Background(), auth.TokenPayload{Username: "pepe", Active: true})
	require.NoError(t, err)

	got, err := verifying.ReadToken(context.Background(), token)
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestJWTTokenStoreGarbageToken(t *testing.T) {
	store := auth.NewJWTTokenStore([]byte("signing-secret"), 1, "", nil, nil)

	got, err := store.ReadToken(context.Background(), "not-a-jwt")
	assert.NoError(t, err)
	assert.Nil(t, got)

	got, err = store.ReadToken(context.Background(), "")
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestJWTTokenStoreDestroyUnsupported(t *testing.T) {
	store := auth.NewJWTTokenStore([]byte("signing-secret"), 1, "", nil, nil)

	token, err := store.WriteToken(context.Background(), auth.TokenPayload{Username: "pepe", Active: true})
	require.NoError(t, err)

	err = store.DestroyToken(context.Background(), token)
	assert.ErrorIs(t, err, auth.ErrUnsupported)

	// the token stays live after the failed revocation
	got, err := store.ReadToken(context.Background(), token)
	require.NoError(t, err)
	assert.NotNil(t, got)
}
