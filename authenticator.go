package auth

import (
	"context"
	"time"
)

// Auther is the non-HTTP front door to authentication: it verifies
// credentials, enforces account status, and issues tokens through the
// configured store. CLI tools, background jobs, and tests use it where
// the fiber controller does not apply.
type Auther struct {
	verifier CredentialVerifier
	store    TokenStore
	sink     ActivitySink
	logger   Logger
}

// NewAuthenticator builds an Auther over a verifier and a token store.
func NewAuthenticator(verifier CredentialVerifier, store TokenStore) *Auther {
	return &Auther{
		verifier: verifier,
		store:    store,
		sink:     noopActivitySink{},
		logger:   defLogger{},
	}
}

func (s *Auther) WithLogger(logger Logger) *Auther {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// WithActivitySink configures an ActivitySink for emitting auth events.
func (s *Auther) WithActivitySink(sink ActivitySink) *Auther {
	s.sink = normalizeActivitySink(sink)
	return s
}

// Login verifies the credentials and returns a token for the identity.
// Accounts whose status does not allow logins are rejected even when
// the password matches.
func (s *Auther) Login(ctx context.Context, username, password string) (string, error) {
	user, err := s.verifier.VerifyIdentity(ctx, username, password)
	if err != nil {
		s.logger.Info("login rejected for %q: %v", username, err)
		s.emitAuthEvent(ctx, ActivityEventLoginFailure, ActorRef{Type: "unknown"}, "", map[string]any{
			"username": username,
			"error":    err.Error(),
		})
		return "", err
	}

	if err := statusAuthError(user.Status); err != nil {
		s.logger.Warn("login blocked by account status %q", user.Status)
		s.emitAuthEvent(ctx, ActivityEventLoginFailure, actorForUser(user), user.ID.String(), map[string]any{
			"username": username,
			"status":   string(user.Status),
		})
		return "", err
	}

	token, err := s.store.WriteToken(ctx, user.TokenPayload())
	if err != nil {
		s.logger.Error("login token issue failed: %v", err)
		return "", err
	}

	s.emitAuthEvent(ctx, ActivityEventLoginSuccess, actorForUser(user), user.ID.String(), nil)

	return token, nil
}

// Impersonate issues a token for the identity without a password
// check. Reserve it for operator tooling; every use is recorded with a
// system actor so audit trails can tell it apart from real logins.
func (s *Auther) Impersonate(ctx context.Context, username string) (string, error) {
	user, err := s.verifier.FindIdentityByUsername(ctx, username)
	if err != nil {
		s.logger.Error("impersonate lookup failed for %q: %v", username, err)
		s.emitAuthEvent(ctx, ActivityEventImpersonationFailure, ActorRef{Type: "system"}, "", map[string]any{
			"username": username,
			"error":    err.Error(),
		})
		return "", err
	}

	if err := statusAuthError(user.Status); err != nil {
		s.logger.Warn("impersonation blocked by account status %q", user.Status)
		s.emitAuthEvent(ctx, ActivityEventImpersonationFailure, ActorRef{Type: "system"}, user.ID.String(), map[string]any{
			"username": username,
			"status":   string(user.Status),
		})
		return "", err
	}

	token, err := s.store.WriteToken(ctx, user.TokenPayload())
	if err != nil {
		s.logger.Error("impersonate token issue failed: %v", err)
		return "", err
	}

	s.emitAuthEvent(ctx, ActivityEventImpersonationSuccess, ActorRef{Type: "system"}, user.ID.String(), map[string]any{
		"username": username,
	})

	return token, nil
}

// Revoke destroys the given token. Stores that cannot revoke report
// ErrUnsupported, which callers may treat as fine for expiring tokens.
func (s *Auther) Revoke(ctx context.Context, token string) error {
	return s.store.DestroyToken(ctx, token)
}

func (s *Auther) emitAuthEvent(ctx context.Context, eventType ActivityEventType, actor ActorRef, userID string, metadata map[string]any) {
	event := ActivityEvent{
		EventType: eventType,
		Actor:     actor,
		UserID:    userID,
		Metadata:  metadata,
	}

	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	if err := s.sink.Record(ctx, event); err != nil {
		s.logger.Warn("activity sink record error: %v", err)
	}
}

func actorForUser(user *User) ActorRef {
	if user == nil {
		return ActorRef{Type: "unknown"}
	}
	return ActorRef{ID: user.ID.String(), Type: "user"}
}
