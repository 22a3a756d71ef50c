package auth

import (
	"context"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// PasswordResetWindow bounds how long a reset ticket stays redeemable.
var PasswordResetWindow = "24h"

// ResetNotifier delivers the reset link to the account owner.
// Implementations send email; the default logs the ticket so dev
// setups work without a mail relay.
type ResetNotifier interface {
	NotifyPasswordReset(ctx context.Context, email string, resetID uuid.UUID) error
}

// ResetNotifierFunc adapts a function to the ResetNotifier interface.
type ResetNotifierFunc func(ctx context.Context, email string, resetID uuid.UUID) error

func (f ResetNotifierFunc) NotifyPasswordReset(ctx context.Context, email string, resetID uuid.UUID) error {
	return f(ctx, email, resetID)
}

type logResetNotifier struct {
	logger Logger
}

func (n logResetNotifier) NotifyPasswordReset(_ context.Context, email string, resetID uuid.UUID) error {
	n.logger.Info("password reset for %s: /password-reset/%s", email, resetID)
	return nil
}

// ResetTicketCheck reports what a panel may do with a ticket.
type ResetTicketCheck struct {
	Found   bool
	Expired bool
	Reset   *PasswordReset
}

// Redeemable is true when the ticket can still finalize a reset.
func (c ResetTicketCheck) Redeemable() bool {
	return c.Found && !c.Expired
}

// PasswordResetFlow runs the forgot-password sequence: open a ticket
// for an email address, check the ticket from the emailed link, and
// redeem it for a new password.
type PasswordResetFlow struct {
	repo     RepositoryManager
	notifier ResetNotifier
	sink     ActivitySink
	logger   Logger
	window   string
	now      func() time.Time
}

// NewPasswordResetFlow builds a flow over the given repositories.
func NewPasswordResetFlow(repo RepositoryManager) *PasswordResetFlow {
	logger := defLogger{}
	return &PasswordResetFlow{
		repo:     repo,
		notifier: logResetNotifier{logger: logger},
		sink:     noopActivitySink{},
		logger:   logger,
		window:   PasswordResetWindow,
		now:      time.Now,
	}
}

// WithNotifier sets the channel that delivers reset links.
func (f *PasswordResetFlow) WithNotifier(notifier ResetNotifier) *PasswordResetFlow {
	if notifier != nil {
		f.notifier = notifier
	}
	return f
}

// WithActivitySink configures an ActivitySink for emitting reset events.
func (f *PasswordResetFlow) WithActivitySink(sink ActivitySink) *PasswordResetFlow {
	f.sink = normalizeActivitySink(sink)
	return f
}

func (f *PasswordResetFlow) WithLogger(logger Logger) *PasswordResetFlow {
	if logger != nil {
		f.logger = logger
	}
	return f
}

// WithWindow overrides how long tickets stay redeemable. The pattern
// is a time.ParseDuration string such as "24h".
func (f *PasswordResetFlow) WithWindow(pattern string) *PasswordResetFlow {
	if pattern != "" {
		f.window = pattern
	}
	return f
}

// WithClock injects a custom clock (useful for tests).
func (f *PasswordResetFlow) WithClock(clock func() time.Time) *PasswordResetFlow {
	if clock != nil {
		f.now = clock
	}
	return f
}

// Initialize opens a ticket for the address and notifies its owner.
// Unknown addresses return (nil, nil): callers must answer both cases
// identically so the endpoint cannot be used to probe for accounts.
func (f *PasswordResetFlow) Initialize(ctx context.Context, email string) (*PasswordReset, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, goerrors.New("email cannot be empty", goerrors.CategoryBadInput).
			WithCode(goerrors.CodeBadRequest)
	}

	var reset *PasswordReset

	err := f.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		user, err := f.repo.Users().GetByEmailTx(ctx, tx, email)
		if err != nil {
			if repository.IsRecordNotFound(err) {
				return nil
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve user for password reset")
		}

		created, err := f.repo.PasswordResets().CreateTx(ctx, tx, &PasswordReset{
			UserID: &user.ID,
			Email:  email,
			Status: ResetStatusRequested,
		})
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create password reset record")
		}

		reset = created
		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return nil, richErr
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to initialize password reset")
	}

	if reset == nil {
		return nil, nil
	}

	if err := f.notifier.NotifyPasswordReset(ctx, reset.Email, reset.ID); err != nil {
		f.logger.Warn("password reset notification error: %v", err)
	}

	f.emitResetEvent(ctx, ActivityEventPasswordResetRequest, reset)

	return reset, nil
}

// Verify reports the state of a ticket without consuming it. Panels
// call it before rendering the choose-a-new-password form.
func (f *PasswordResetFlow) Verify(ctx context.Context, session string) (ResetTicketCheck, error) {
	check := ResetTicketCheck{}

	reset, err := f.repo.PasswordResets().GetByID(ctx, session)
	if err != nil {
		if goerrors.IsNotFound(err) {
			return check, nil
		}
		return check, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve password reset request")
	}

	check.Found = true
	check.Reset = reset

	if reset.Status != ResetStatusRequested {
		check.Expired = true
		return check, nil
	}

	if reset.CreatedAt == nil {
		return check, goerrors.New("password reset record is missing creation date", goerrors.CategoryInternal)
	}

	expired, err := IsOutsideThresholdPeriod(*reset.CreatedAt, f.window)
	if err != nil {
		return check, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check token expiration period")
	}

	check.Expired = expired
	return check, nil
}

// Finalize redeems a ticket: the user gets the new password and the
// ticket is retired so the link cannot be replayed.
func (f *PasswordResetFlow) Finalize(ctx context.Context, session, password string) error {
	var reset *PasswordReset

	err := f.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		found, err := f.repo.PasswordResets().GetByID(ctx, session)
		if err != nil {
			if goerrors.IsNotFound(err) {
				return goerrors.New("invalid or expired password reset token", goerrors.CategoryNotFound).
					WithCode(goerrors.CodeNotFound)
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "could not retrieve password reset request")
		}
		reset = found

		if reset.Status != ResetStatusRequested {
			return goerrors.New("password reset token has already been used", goerrors.CategoryConflict).
				WithTextCode("TOKEN_ALREADY_USED")
		}

		if reset.CreatedAt == nil {
			return goerrors.New("password reset record is missing creation date", goerrors.CategoryInternal)
		}

		expired, err := IsOutsideThresholdPeriod(*reset.CreatedAt, f.window)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check token expiration period")
		}

		if expired {
			return goerrors.New("password reset token has expired", goerrors.CategoryValidation).
				WithTextCode(TextCodeTokenExpired)
		}

		passwordHash, err := HashPassword(password)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid new password provided")
		}

		if reset.UserID == nil {
			return goerrors.New("password reset record is not associated with a user", goerrors.CategoryInternal)
		}

		if err := f.repo.Users().ResetPasswordTx(ctx, tx, *reset.UserID, passwordHash); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update user password in database")
		}

		spent := MarkResetConsumed(reset.ID, f.now())
		if _, err := f.repo.PasswordResets().UpdateTx(ctx, tx, spent, repository.UpdateByID(reset.ID.String())); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update password reset status")
		}

		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to finalize password reset")
	}

	f.emitResetEvent(ctx, ActivityEventPasswordResetSuccess, reset)

	return nil
}

func (f *PasswordResetFlow) emitResetEvent(ctx context.Context, eventType ActivityEventType, reset *PasswordReset) {
	if reset == nil || reset.UserID == nil {
		return
	}

	event := ActivityEvent{
		EventType: eventType,
		Actor: ActorRef{
			ID:   reset.UserID.String(),
			Type: "user",
		},
		UserID: reset.UserID.String(),
		Metadata: map[string]any{
			"password_reset_id": reset.ID.String(),
		},
		OccurredAt: f.now().UTC(),
	}

	if err := f.sink.Record(ctx, event); err != nil {
		f.logger.Warn("activity sink error during password reset: %v", err)
	}
}
