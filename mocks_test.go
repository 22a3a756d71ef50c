package auth_test

import (
	"context"
	"database/sql"
	"io"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"github.com/panelkit/go-auth"
)

// setupAuthDB creates an in-memory sqlite database with the full schema
// applied. Single connection so the :memory: database survives across
// queries.
func setupAuthDB(t *testing.T) (*bun.DB, auth.RepositoryManager, func()) {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	require.NoError(t, err)

	require.NoError(t, auth.RunMigrations(context.Background(), db))

	return db, auth.NewRepositoryManager(db), func() {
		db.Close()
	}
}

// createTestUser inserts an active user with the given password hash.
// Pass testPasswordHash(t) when the test needs to log the user in.
func createTestUser(t *testing.T, repo auth.RepositoryManager, username, hash string) *auth.User {
	t.Helper()

	user, err := repo.Users().Create(context.Background(), &auth.User{
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: hash,
		Status:       auth.UserStatusActive,
	})
	require.NoError(t, err)
	return user
}

var (
	testHashOnce sync.Once
	testHash     string
	testHashErr  error
)

// testPassword is the cleartext behind testPasswordHash.
const testPassword = "sup3r-secret"

// testPasswordHash returns a bcrypt hash of testPassword, computed once
// per test binary because hashing at the production cost is slow.
func testPasswordHash(t *testing.T) string {
	t.Helper()

	testHashOnce.Do(func() {
		testHash, testHashErr = auth.HashPassword(testPassword)
	})
	require.NoError(t, testHashErr)
	return testHash
}

// capturingSink records activity events for assertions.
type capturingSink struct {
	mu     sync.Mutex
	events []auth.ActivityEvent
}

func (s *capturingSink) Record(_ context.Context, event auth.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *capturingSink) Events() []auth.ActivityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]auth.ActivityEvent, len(s.events))
	copy(out, s.events)
	return out
}

func (s *capturingSink) EventTypes() []auth.ActivityEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	types := make([]auth.ActivityEventType, 0, len(s.events))
	for _, e := range s.events {
		types = append(types, e.EventType)
	}
	return types
}

// readBody drains and returns the response body.
func readBody(t *testing.T, res *http.Response) string {
	t.Helper()

	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return string(body)
}

// countingTokenStore wraps a TokenStore and counts reads, so tests can
// prove the resolver caches identities per request scope.
type countingTokenStore struct {
	inner auth.TokenStore
	mu    sync.Mutex
	reads int
}

func (s *countingTokenStore) WriteToken(ctx context.Context, payload auth.TokenPayload) (string, error) {
	return s.inner.WriteToken(ctx, payload)
}

func (s *countingTokenStore) ReadToken(ctx context.Context, token string) (*auth.TokenPayload, error) {
	s.mu.Lock()
	s.reads++
	s.mu.Unlock()
	return s.inner.ReadToken(ctx, token)
}

func (s *countingTokenStore) DestroyToken(ctx context.Context, token string) error {
	return s.inner.DestroyToken(ctx, token)
}

func (s *countingTokenStore) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}
