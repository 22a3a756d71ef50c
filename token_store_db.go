package auth

import (
	"context"
	"encoding/json"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
)

// DatabaseTokenStore persists opaque tokens with a snapshot of the
// payload. Destroying a token revokes it immediately; expiry is enforced
// lazily, expired rows are dropped on first read.
type DatabaseTokenStore struct {
	tokens AccessTokens
	ttl    time.Duration
	logger Logger
	now    func() time.Time
}

var _ TokenStore = (*DatabaseTokenStore)(nil)

// NewDatabaseTokenStore creates a store backed by the access_tokens
// table. A zero ttl issues tokens that never expire.
func NewDatabaseTokenStore(tokens AccessTokens, ttl time.Duration, logger Logger) *DatabaseTokenStore {
	if logger == nil {
		logger = defLogger{}
	}
	return &DatabaseTokenStore{
		tokens: tokens,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock overrides the time source used for expiry checks.
func (ts *DatabaseTokenStore) WithClock(now func() time.Time) *DatabaseTokenStore {
	if now != nil {
		ts.now = now
	}
	return ts
}

func (ts *DatabaseTokenStore) WriteToken(ctx context.Context, payload TokenPayload) (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to encode token payload")
	}

	now := ts.now()
	record := &AccessToken{
		Token:    token,
		Payload:  string(body),
		IssuedAt: &now,
	}

	if ts.ttl > 0 {
		expires := now.Add(ts.ttl)
		record.ExpiresAt = &expires
	}

	if _, err := ts.tokens.Create(ctx, record); err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to persist token")
	}

	return token, nil
}

func (ts *DatabaseTokenStore) ReadToken(ctx context.Context, token string) (*TokenPayload, error) {
	if token == "" {
		return nil, nil
	}

	record, err := ts.tokens.GetByToken(ctx, token)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to look up token")
	}

	if record.Expired(ts.now()) {
		if err := ts.tokens.DeleteByToken(ctx, token); err != nil {
			ts.logger.Error("failed to delete expired token: %v", err)
		}
		return nil, nil
	}

	payload := &TokenPayload{}
	if err := json.Unmarshal([]byte(record.Payload), payload); err != nil {
		ts.logger.Error("token payload is corrupted: %v", err)
		return nil, nil
	}

	return payload, nil
}

// DestroyToken removes the token row. Destroying a token that was
// already destroyed, or never existed, succeeds.
func (ts *DatabaseTokenStore) DestroyToken(ctx context.Context, token string) error {
	if err := ts.tokens.DeleteByToken(ctx, token); err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to destroy token")
	}
	return nil
}

// PurgeExpired sweeps every expired row in one statement. Callers that
// want eager cleanup can run it on a schedule; the store works without
// it.
func (ts *DatabaseTokenStore) PurgeExpired(ctx context.Context) (int64, error) {
	return ts.tokens.DeleteExpired(ctx)
}
