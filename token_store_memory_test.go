package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panelkit/go-auth"
)

func TestMemoryTokenStoreRoundTrip(t *testing.T) {
	store := auth.NewMemoryTokenStore(time.Minute, 0, nil)
	defer store.Stop()

	payload := auth.TokenPayload{
		UserID:   uuid.New(),
		Username: "pepe",
		Email:    "pepe@example.com",
		Active:   true,
	}

	token, err := store.WriteToken(context.Background(), payload)
	require.NoError(t, err)
	require.NotEmpty(t, token)
	assert.Equal(t, 1, store.Len())

	got, err := store.ReadToken(context.Background(), token)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, payload, *got)
}

func TestMemoryTokenStoreUnknownToken(t *testing.T) {
	store := auth.NewMemoryTokenStore(time.Minute, 0, nil)
	defer store.Stop()

	got, err := store.ReadToken(context.Background(), "no-such-token")
	assert.NoError(t, err)
	assert.Nil(t, got)

	got, err = store.ReadToken(context.Background(), "")
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryTokenStoreDestroy(t *testing.T) {
	store := auth.NewMemoryTokenStore(time.Minute, 0, nil)
	defer store.Stop()

	token, err := store.WriteToken(context.Background(), auth.TokenPayload{Username: "pepe", Active: true})
	require.NoError(t, err)

	require.NoError(t, store.DestroyToken(context.Background(), token))

	got, err := store.ReadToken(context.Background(), token)
	assert.NoError(t, err)
	assert.Nil(t, got)

	// destroying a token twice is not an error
	assert.NoError(t, store.DestroyToken(context.Background(), token))
}

func TestMemoryTokenStoreLazyExpiry(t *testing.T) {
	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := auth.NewMemoryTokenStore(time.Minute, 0, nil).WithClock(func() time.Time {
		return current
	})
	defer store.Stop()

	token, err := store.WriteToken(context.Background(), auth.TokenPayload{Username: "pepe", Active: true})
	require.NoError(t, err)

	got, err := store.ReadToken(context.Background(), token)
	require.NoError(t, err)
	require.NotNil(t, got)

	current = current.Add(2 * time.Minute)

	got, err = store.ReadToken(context.Background(), token)
	assert.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, 0, store.Len(), "expired entry should be dropped on read")
}

func TestMemoryTokenStoreZeroTTLNeverExpires(t *testing.T) {
	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := auth.NewMemoryTokenStore(0, 0, nil).WithClock(func() time.Time {
		return current
	})
	defer store.Stop()

	token, err := store.WriteToken(context.Background(), auth.TokenPayload{Username: "pepe", Active: true})
	require.NoError(t, err)

	current = current.Add(24 * 365 * time.Hour)

	got, err := store.ReadToken(context.Background(), token)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "pepe", got.Username)
}

func TestMemoryTokenStoreSweeper(t *testing.T) {
	store := auth.NewMemoryTokenStore(20*time.Millisecond, 10*time.Millisecond, nil)
	defer store.Stop()

	_, err := store.WriteToken(context.Background(), auth.TokenPayload{Username: "pepe", Active: true})
	require.NoError(t, err)
	_, err = store.WriteToken(context.Background(), auth.TokenPayload{Username: "rone", Active: true})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return store.Len() == 0
	}, 2*time.Second, 10*time.Millisecond, "sweeper should drop expired tokens")
}

func TestMemoryTokenStoreStopIsIdempotent(t *testing.T) {
	store := auth.NewMemoryTokenStore(time.Minute, 10*time.Millisecond, nil)

	store.Stop()
	store.Stop()
}
