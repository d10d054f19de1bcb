// Package memory is an in-memory account.Repository. It is safe for concurrent use
// and backs the demo portal and most tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/pysugar/app-portal/internal/account"
)

// Store keeps accounts in insertion order.
type Store struct {
	mu      sync.RWMutex
	byID    map[string]account.Account
	byEmail map[string]string
	order   []string
}

var _ account.Repository = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		byID:    make(map[string]account.Account),
		byEmail: make(map[string]string),
	}
}

func (s *Store) GetByEmail(_ context.Context, email string) (account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[account.NormalizeEmail(email)]
	if !ok {
		return account.Account{}, account.ErrNotFound
	}
	return s.byID[id].Clone(), nil
}

func (s *Store) GetByID(_ context.Context, id string) (account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.byID[id]
	if !ok {
		return account.Account{}, account.ErrNotFound
	}
	return acct.Clone(), nil
}

func (s *Store) Insert(_ context.Context, acct account.Account) (account.Account, error) {
	if acct.ID == "" {
		return account.Account{}, fmt.Errorf("insert account: empty id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[acct.ID]; exists {
		return account.Account{}, fmt.Errorf("account %s already exists", acct.ID)
	}
	key := account.NormalizeEmail(acct.Email)
	if _, exists := s.byEmail[key]; exists {
		return account.Account{}, account.ErrDuplicateEmail
	}

	stored := acct.Clone()
	if stored.APIKeys == nil {
		stored.APIKeys = []account.APIKey{}
	}
	s.byID[acct.ID] = stored
	s.byEmail[key] = acct.ID
	s.order = append(s.order, acct.ID)
	return stored.Clone(), nil
}

func (s *Store) Update(_ context.Context, acct account.Account) (account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.byID[acct.ID]
	if !ok {
		return account.Account{}, account.ErrNotFound
	}

	oldKey := account.NormalizeEmail(original.Email)
	newKey := account.NormalizeEmail(acct.Email)
	if oldKey != newKey {
		if _, taken := s.byEmail[newKey]; taken {
			return account.Account{}, account.ErrDuplicateEmail
		}
		delete(s.byEmail, oldKey)
		s.byEmail[newKey] = acct.ID
	}

	stored := acct.Clone()
	stored.CreatedAt = original.CreatedAt
	if stored.APIKeys == nil {
		stored.APIKeys = []account.APIKey{}
	}
	s.byID[acct.ID] = stored
	return stored.Clone(), nil
}

func (s *Store) List(_ context.Context) ([]account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]account.Account, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id].Clone())
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
