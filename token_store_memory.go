package auth

import (
	"context"
	"sync"
	"time"
)

type memoryToken struct {
	payload   TokenPayload
	expiresAt time.Time
}

// MemoryTokenStore keeps tokens in process memory. It serves tests and
// single-node deployments; a shared cache backend can replace it without
// changing callers.
type MemoryTokenStore struct {
	mu     sync.RWMutex
	tokens map[string]memoryToken

	ttl      time.Duration
	logger   Logger
	now      func() time.Time
	done     chan struct{}
	stopOnce sync.Once
}

var _ TokenStore = (*MemoryTokenStore)(nil)

// NewMemoryTokenStore creates an in-memory store. A zero ttl issues
// non-expiring tokens. A positive sweepEvery starts a background sweep
// that drops expired entries; Stop ends it.
func NewMemoryTokenStore(ttl, sweepEvery time.Duration, logger Logger) *MemoryTokenStore {
	if logger == nil {
		logger = defLogger{}
	}

	s := &MemoryTokenStore{
		tokens: make(map[string]memoryToken),
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
		done:   make(chan struct{}),
	}

	if sweepEvery > 0 {
		go s.sweep(sweepEvery)
	}

	return s
}

// WithClock overrides the time source used for expiry checks.
func (s *MemoryTokenStore) WithClock(now func() time.Time) *MemoryTokenStore {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *MemoryTokenStore) WriteToken(ctx context.Context, payload TokenPayload) (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", err
	}

	entry := memoryToken{payload: payload}
	if s.ttl > 0 {
		entry.expiresAt = s.now().Add(s.ttl)
	}

	s.mu.Lock()
	s.tokens[token] = entry
	s.mu.Unlock()

	return token, nil
}

func (s *MemoryTokenStore) ReadToken(ctx context.Context, token string) (*TokenPayload, error) {
	if token == "" {
		return nil, nil
	}

	s.mu.RLock()
	entry, ok := s.tokens[token]
	s.mu.RUnlock()

	if !ok {
		return nil, nil
	}

	if !entry.expiresAt.IsZero() && s.now().After(entry.expiresAt) {
		s.mu.Lock()
		delete(s.tokens, token)
		s.mu.Unlock()
		return nil, nil
	}

	payload := entry.payload
	return &payload, nil
}

func (s *MemoryTokenStore) DestroyToken(ctx context.Context, token string) error {
	s.mu.Lock()
	delete(s.tokens, token)
	s.mu.Unlock()
	return nil
}

// Len reports the number of stored entries, including expired tokens
// the sweeper has not visited yet.
func (s *MemoryTokenStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokens)
}

// Stop ends the background sweep. Safe to call more than once.
func (s *MemoryTokenStore) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
}

func (s *MemoryTokenStore) sweep(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			now := s.now()
			swept := 0
			s.mu.Lock()
			for token, entry := range s.tokens {
				if !entry.expiresAt.IsZero() && now.After(entry.expiresAt) {
					delete(s.tokens, token)
					swept++
				}
			}
			s.mu.Unlock()

			if swept > 0 {
				s.logger.Debug("token sweep removed %d expired tokens", swept)
			}
		}
	}
}
