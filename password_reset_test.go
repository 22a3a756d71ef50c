package auth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"github.com/panelkit/go-auth"
)

// backdateReset ages a ticket so expiry paths can be tested without sleeping.
func backdateReset(t *testing.T, db *bun.DB, id uuid.UUID, age time.Duration) {
	t.Helper()

	_, err := db.NewUpdate().
		Model((*auth.PasswordReset)(nil)).
		Set("created_at = ?", time.Now().Add(-age)).
		Where("id = ?", id).
		Exec(context.Background())
	require.NoError(t, err)
}

func TestPasswordResetInitialize(t *testing.T) {
	_, repo, cleanup := setupAuthDB(t)
	defer cleanup()

	user := createTestUser(t, repo, "pepe", "irrelevant-hash")
	sink := &capturingSink{}

	var notifiedEmail string
	var notifiedID uuid.UUID
	flow := auth.NewPasswordResetFlow(repo).
		WithActivitySink(sink).
		WithNotifier(auth.ResetNotifierFunc(func(_ context.Context, email string, resetID uuid.UUID) error {
			notifiedEmail = email
			notifiedID = resetID
			return nil
		}))

	reset, err := flow.Initialize(context.Background(), "pepe@example.com")
	require.NoError(t, err)
	require.NotNil(t, reset)

	assert.Equal(t, auth.ResetStatusRequested, reset.Status)
	require.NotNil(t, reset.UserID)
	assert.Equal(t, user.ID, *reset.UserID)
	assert.Equal(t, "pepe@example.com", reset.Email)

	assert.Equal(t, "pepe@example.com", notifiedEmail)
	assert.Equal(t, reset.ID, notifiedID)

	stored, err := repo.PasswordResets().GetByID(context.Background(), reset.ID.String())
	require.NoError(t, err)
	assert.Equal(t, auth.ResetStatusRequested, stored.Status)

	events := sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, auth.ActivityEventPasswordResetRequest, events[0].EventType)
	assert.Equal(t, user.ID.String(), events[0].UserID)
}

func TestPasswordResetInitializeUnknownEmail(t *testing.T) {
	_, repo, cleanup := setupAuthDB(t)
	defer cleanup()

	sink := &capturingSink{}
	notified := false
	flow := auth.NewPasswordResetFlow(repo).
		WithActivitySink(sink).
		WithNotifier(auth.ResetNotifierFunc(func(context.Context, string, uuid.UUID) error {
			notified = true
			return nil
		}))

	// unknown addresses get the same answer as known ones, so the
	// endpoint cannot be used to probe which accounts exist
	reset, err := flow.Initialize(context.Background(), "ghost@example.com")
	require.NoError(t, err)
	assert.Nil(t, reset)
	assert.False(t, notified)
	assert.Empty(t, sink.Events())
}

func TestPasswordResetInitializeEmptyEmail(t *testing.T) {
	_, repo, cleanup := setupAuthDB(t)
	defer cleanup()

	flow := auth.NewPasswordResetFlow(repo)

	_, err := flow.Initialize(context.Background(), "   ")
	require.Error(t, err)

	var richErr *goerrors.Error
	require.ErrorAs(t, err, &richErr)
	assert.Equal(t, goerrors.CategoryBadInput, richErr.Category)
}

func TestPasswordResetInitializeNotifierFailureTolerated(t *testing.T) {
	_, repo, cleanup := setupAuthDB(t)
	defer cleanup()

	createTestUser(t, repo, "pepe", "irrelevant-hash")

	flow := auth.NewPasswordResetFlow(repo).
		WithNotifier(auth.ResetNotifierFunc(func(context.Context, string, uuid.UUID) error {
			return errors.New("smtp relay down")
		}))

	// delivery problems are logged, not surfaced; the ticket still
	// exists and support can re-send the link
	reset, err := flow.Initialize(context.Background(), "pepe@example.com")
	require.NoError(t, err)
	require.NotNil(t, reset)

	_, err = repo.PasswordResets().GetByID(context.Background(), reset.ID.String())
	assert.NoError(t, err)
}

func TestPasswordResetVerify(t *testing.T) {
	db, repo, cleanup := setupAuthDB(t)
	defer cleanup()

	createTestUser(t, repo, "pepe", "irrelevant-hash")
	flow := auth.NewPasswordResetFlow(repo)

	t.Run("live ticket", func(t *testing.T) {
		reset, err := flow.Initialize(context.Background(), "pepe@example.com")
		require.NoError(t, err)

		check, err := flow.Verify(context.Background(), reset.ID.String())
		require.NoError(t, err)
		assert.True(t, check.Found)
		assert.False(t, check.Expired)
		assert.True(t, check.Redeemable())
		require.NotNil(t, check.Reset)
		assert.Equal(t, reset.ID, check.Reset.ID)
	})

	t.Run("unknown ticket", func(t *testing.T) {
		check, err := flow.Verify(context.Background(), uuid.New().String())
		require.NoError(t, err)
		assert.False(t, check.Found)
		assert.False(t, check.Redeemable())
	})

	t.Run("stale ticket", func(t *testing.T) {
		reset, err := flow.Initialize(context.Background(), "pepe@example.com")
		require.NoError(t, err)

		backdateReset(t, db, reset.ID, 48*time.Hour)

		check, err := flow.Verify(context.Background(), reset.ID.String())
		require.NoError(t, err)
		assert.True(t, check.Found)
		assert.True(t, check.Expired)
		assert.False(t, check.Redeemable())
	})

	t.Run("consumed ticket", func(t *testing.T) {
		reset, err := flow.Initialize(context.Background(), "pepe@example.com")
		require.NoError(t, err)

		require.NoError(t, flow.Finalize(context.Background(), reset.ID.String(), "n3w-password"))

		check, err := flow.Verify(context.Background(), reset.ID.String())
		require.NoError(t, err)
		assert.True(t, check.Found)
		assert.True(t, check.Expired)
	})

	t.Run("wider window keeps a ticket alive", func(t *testing.T) {
		reset, err := flow.Initialize(context.Background(), "pepe@example.com")
		require.NoError(t, err)

		backdateReset(t, db, reset.ID, 48*time.Hour)

		patient := auth.NewPasswordResetFlow(repo).WithWindow("96h")
		check, err := patient.Verify(context.Background(), reset.ID.String())
		require.NoError(t, err)
		assert.True(t, check.Redeemable())
	})
}

func TestPasswordResetFinalize(t *testing.T) {
	db, repo, cleanup := setupAuthDB(t)
	defer cleanup()

	user := createTestUser(t, repo, "pepe", testPasswordHash(t))
	sink := &capturingSink{}
	flow := auth.NewPasswordResetFlow(repo).WithActivitySink(sink)

	// lock the account first: redeeming a reset must clear the throttle
	_, err := db.NewUpdate().
		Model((*auth.User)(nil)).
		Set("login_attempts = ?", auth.MaxLoginAttempts+1).
		Set("login_attempt_at = ?", time.Now()).
		Where("id = ?", user.ID).
		Exec(context.Background())
	require.NoError(t, err)

	reset, err := flow.Initialize(context.Background(), "pepe@example.com")
	require.NoError(t, err)

	require.NoError(t, flow.Finalize(context.Background(), reset.ID.String(), "n3w-password"))

	stored, err := repo.Users().GetByEmail(context.Background(), "pepe@example.com")
	require.NoError(t, err)
	assert.NoError(t, auth.ComparePasswordAndHash("n3w-password", stored.PasswordHash))
	assert.ErrorIs(t, auth.ComparePasswordAndHash(testPassword, stored.PasswordHash), auth.ErrMismatchedHashAndPassword)
	assert.Equal(t, 0, stored.LoginAttempts)
	assert.Nil(t, stored.LoginAttemptAt)

	// the previously throttled account can log in with the new password
	provider := auth.NewUserProvider(repo.Users())
	verified, err := provider.VerifyIdentity(context.Background(), "pepe", "n3w-password")
	require.NoError(t, err)
	assert.Equal(t, user.ID, verified.ID)

	ticket, err := repo.PasswordResets().GetByID(context.Background(), reset.ID.String())
	require.NoError(t, err)
	assert.Equal(t, auth.ResetStatusConsumed, ticket.Status)
	assert.NotNil(t, ticket.ConsumedAt)

	types := sink.EventTypes()
	assert.Contains(t, types, auth.ActivityEventPasswordResetRequest)
	assert.Contains(t, types, auth.ActivityEventPasswordResetSuccess)
}

func TestPasswordResetFinalizeUnknownToken(t *testing.T) {
	_, repo, cleanup := setupAuthDB(t)
	defer cleanup()

	flow := auth.NewPasswordResetFlow(repo)

	err := flow.Finalize(context.Background(), uuid.New().String(), "n3w-password")
	require.Error(t, err)

	var richErr *goerrors.Error
	require.ErrorAs(t, err, &richErr)
	assert.Equal(t, goerrors.CategoryNotFound, richErr.Category)
}

func TestPasswordResetFinalizeTwice(t *testing.T) {
	_, repo, cleanup := setupAuthDB(t)
	defer cleanup()

	createTestUser(t, repo, "pepe", "irrelevant-hash")
	flow := auth.NewPasswordResetFlow(repo)

	reset, err := flow.Initialize(context.Background(), "pepe@example.com")
	require.NoError(t, err)

	require.NoError(t, flow.Finalize(context.Background(), reset.ID.String(), "n3w-password"))

	err = flow.Finalize(context.Background(), reset.ID.String(), "second-password")
	require.Error(t, err)

	var richErr *goerrors.Error
	require.ErrorAs(t, err, &richErr)
	assert.Equal(t, goerrors.CategoryConflict, richErr.Category)
	assert.Equal(t, "TOKEN_ALREADY_USED", richErr.TextCode)
}

func TestPasswordResetFinalizeExpired(t *testing.T) {
	db, repo, cleanup := setupAuthDB(t)
	defer cleanup()

	createTestUser(t, repo, "pepe", "irrelevant-hash")
	flow := auth.NewPasswordResetFlow(repo)

	reset, err := flow.Initialize(context.Background(), "pepe@example.com")
	require.NoError(t, err)

	backdateReset(t, db, reset.ID, 48*time.Hour)

	err = flow.Finalize(context.Background(), reset.ID.String(), "n3w-password")
	require.Error(t, err)

	var richErr *goerrors.Error
	require.ErrorAs(t, err, &richErr)
	assert.Equal(t, auth.TextCodeTokenExpired, richErr.TextCode)

	// the failed redemption must not burn the ticket
	ticket, err := repo.PasswordResets().GetByID(context.Background(), reset.ID.String())
	require.NoError(t, err)
	assert.Equal(t, auth.ResetStatusRequested, ticket.Status)
}

func TestPasswordResetFinalizeEmptyPassword(t *testing.T) {
	_, repo, cleanup := setupAuthDB(t)
	defer cleanup()

	createTestUser(t, repo, "pepe", "irrelevant-hash")
	flow := auth.NewPasswordResetFlow(repo)

	reset, err := flow.Initialize(context.Background(), "pepe@example.com")
	require.NoError(t, err)

	err = flow.Finalize(context.Background(), reset.ID.String(), "")
	require.Error(t, err)

	var richErr *goerrors.Error
	require.ErrorAs(t, err, &richErr)
	assert.Equal(t, goerrors.CategoryValidation, richErr.Category)
}
