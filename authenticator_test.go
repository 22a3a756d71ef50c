package auth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panelkit/go-auth"
)

type autherFixture struct {
	auther  *auth.Auther
	repo    auth.RepositoryManager
	store   *auth.MemoryTokenStore
	sink    *capturingSink
	cleanup func()
}

func setupAuther(t *testing.T) *autherFixture {
	t.Helper()

	_, repo, cleanup := setupAuthDB(t)
	store := auth.NewMemoryTokenStore(time.Hour, 0, nil)
	sink := &capturingSink{}

	auther := auth.NewAuthenticator(auth.NewUserProvider(repo.Users()), store).
		WithActivitySink(sink)

	return &autherFixture{
		auther: auther,
		repo:   repo,
		store:  store,
		sink:   sink,
		cleanup: func() {
			store.Stop()
			cleanup()
		},
	}
}

func TestAutherLogin(t *testing.T) {
	f := setupAuther(t)
	defer f.cleanup()

	user := createTestUser(t, f.repo, "pepe", testPasswordHash(t))

	token, err := f.auther.Login(context.Background(), "pepe", testPassword)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	payload, err := f.store.ReadToken(context.Background(), token)
	require.NoError(t, err)
	require.NotNil(t, payload)
	assert.Equal(t, user.ID, payload.UserID)
	assert.Equal(t, "pepe", payload.Username)

	assert.Contains(t, f.sink.EventTypes(), auth.ActivityEventLoginSuccess)
}

func TestAutherLoginWrongPassword(t *testing.T) {
	f := setupAuther(t)
	defer f.cleanup()

	createTestUser(t, f.repo, "pepe", testPasswordHash(t))

	token, err := f.auther.Login(context.Background(), "pepe", "wrong")
	assert.Empty(t, token)
	assert.ErrorIs(t, err, auth.ErrMismatchedHashAndPassword)

	require.Contains(t, f.sink.EventTypes(), auth.ActivityEventLoginFailure)
	for _, e := range f.sink.Events() {
		if e.EventType == auth.ActivityEventLoginFailure {
			assert.Equal(t, "pepe", e.Metadata["username"])
			assert.Equal(t, "unknown", e.Actor.Type)
		}
	}
}

func TestAutherLoginInactiveAccount(t *testing.T) {
	f := setupAuther(t)
	defer f.cleanup()

	user := createTestUser(t, f.repo, "pepe", testPasswordHash(t))
	_, err := f.repo.Users().UpdateStatus(context.Background(), user.ID, auth.UserStatusDisabled)
	require.NoError(t, err)

	token, err := f.auther.Login(context.Background(), "pepe", testPassword)
	assert.Empty(t, token)
	assert.ErrorIs(t, err, auth.ErrIdentityNotActive)

	require.Contains(t, f.sink.EventTypes(), auth.ActivityEventLoginFailure)
	for _, e := range f.sink.Events() {
		if e.EventType == auth.ActivityEventLoginFailure {
			assert.Equal(t, string(auth.UserStatusDisabled), e.Metadata["status"])
		}
	}
}

func TestAutherImpersonate(t *testing.T) {
	f := setupAuther(t)
	defer f.cleanup()

	// impersonation never touches the password
	user := createTestUser(t, f.repo, "pepe", "irrelevant-hash")

	token, err := f.auther.Impersonate(context.Background(), "pepe")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	payload, err := f.store.ReadToken(context.Background(), token)
	require.NoError(t, err)
	require.NotNil(t, payload)
	assert.Equal(t, user.ID, payload.UserID)

	require.Contains(t, f.sink.EventTypes(), auth.ActivityEventImpersonationSuccess)
	for _, e := range f.sink.Events() {
		if e.EventType == auth.ActivityEventImpersonationSuccess {
			assert.Equal(t, "system", e.Actor.Type, "impersonation must be attributable in audit trails")
		}
	}
}

func TestAutherImpersonateUnknownUser(t *testing.T) {
	f := setupAuther(t)
	defer f.cleanup()

	token, err := f.auther.Impersonate(context.Background(), "nobody")
	assert.Empty(t, token)
	assert.ErrorIs(t, err, auth.ErrIdentityNotFound)

	assert.Contains(t, f.sink.EventTypes(), auth.ActivityEventImpersonationFailure)
}

func TestAutherImpersonateInactiveAccount(t *testing.T) {
	f := setupAuther(t)
	defer f.cleanup()

	user := createTestUser(t, f.repo, "pepe", "irrelevant-hash")
	_, err := f.repo.Users().UpdateStatus(context.Background(), user.ID, auth.UserStatusPending)
	require.NoError(t, err)

	token, err := f.auther.Impersonate(context.Background(), "pepe")
	assert.Empty(t, token)
	assert.ErrorIs(t, err, auth.ErrIdentityNotActive)
}

func TestAutherRevoke(t *testing.T) {
	f := setupAuther(t)
	defer f.cleanup()

	createTestUser(t, f.repo, "pepe", testPasswordHash(t))

	token, err := f.auther.Login(context.Background(), "pepe", testPassword)
	require.NoError(t, err)

	require.NoError(t, f.auther.Revoke(context.Background(), token))

	payload, err := f.store.ReadToken(context.Background(), token)
	require.NoError(t, err)
	assert.Nil(t, payload)
}

func TestAutherRevokeStatelessStore(t *testing.T) {
	_, repo, cleanup := setupAuthDB(t)
	defer cleanup()

	store := auth.NewJWTTokenStore([]byte("signing-secret"), 1, "", nil, nil)
	auther := auth.NewAuthenticator(auth.NewUserProvider(repo.Users()), store)

	createTestUser(t, repo, "pepe", testPasswordHash(t))

	token, err := auther.Login(context.Background(), "pepe", testPassword)
	require.NoError(t, err)

	assert.ErrorIs(t, auther.Revoke(context.Background(), token), auth.ErrUnsupported)
}

type failingSink struct{}

func (failingSink) Record(context.Context, auth.ActivityEvent) error {
	return errors.New("sink unavailable")
}

func TestAutherToleratesSinkFailures(t *testing.T) {
	_, repo, cleanup := setupAuthDB(t)
	defer cleanup()

	store := auth.NewMemoryTokenStore(time.Hour, 0, nil)
	defer store.Stop()

	auther := auth.NewAuthenticator(auth.NewUserProvider(repo.Users()), store).
		WithActivitySink(failingSink{})

	createTestUser(t, repo, "pepe", testPasswordHash(t))

	token, err := auther.Login(context.Background(), "pepe", testPassword)
	require.NoError(t, err, "audit problems must never block authentication")
	assert.NotEmpty(t, token)
}
