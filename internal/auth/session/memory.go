package session

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type entry struct {
	accountID string
	expiresAt time.Time
}

// MemoryStore keeps tokens in a map. Expired entries are dropped lazily on lookup.
type MemoryStore struct {
	mu     sync.RWMutex
	tokens map[string]entry
	now    func() time.Time
}

var _ Tokens = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-process token store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tokens: make(map[string]entry), now: time.Now}
}

func (s *MemoryStore) Issue(_ context.Context, accountID string) (string, error) {
	tok, err := randomToken()
	if err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}

	s.mu.Lock()
	s.tokens[tok] = entry{accountID: accountID, expiresAt: s.now().Add(TTL)}
	s.mu.Unlock()
	return tok, nil
}

func (s *MemoryStore) Validate(_ context.Context, token string) (string, error) {
	s.mu.RLock()
	e, ok := s.tokens[token]
	s.mu.RUnlock()
	if !ok {
		return "", ErrUnknownToken
	}

	if !s.now().Before(e.expiresAt) {
		s.mu.Lock()
		delete(s.tokens, token)
		s.mu.Unlock()
		return "", ErrUnknownToken
	}
	return e.accountID, nil
}

func (s *MemoryStore) Revoke(_ context.Context, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.tokens[token]
	if !ok {
		return false, nil
	}
	delete(s.tokens, token)
	return s.now().Before(e.expiresAt), nil
}

// Len returns the number of stored tokens, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokens)
}
