package identity

import (
	"context"
	"strings"
	"sync"

	"github.com/emedx/imaging-gateway/pkg/domain"
)

// MemoryStore is an in-memory implementation of Store.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]*domain.User
	byEmail map[string]string
}

// NewMemoryStore creates a new MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]*domain.User),
		byEmail: make(map[string]string),
	}
}

func emailKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CreateUser stores a new user, enforcing email uniqueness under the lock.
func (s *MemoryStore) CreateUser(_ context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := emailKey(user.Email)
	if _, taken := s.byEmail[key]; taken {
		return domain.ErrEmailTaken
	}
	s.byID[user.ID] = user.Clone()
	s.byEmail[key] = user.ID
	return nil
}

// UserByID retrieves a user by id.
func (s *MemoryStore) UserByID(_ context.Context, id string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.byID[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return user.Clone(), nil
}

// UserByEmail retrieves a user by email (case-insensitive).
func (s *MemoryStore) UserByEmail(_ context.Context, email string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[emailKey(email)]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return s.byID[id].Clone(), nil
}

// UserByVerificationToken retrieves the user holding the given verification
// token. Expiry is the caller's concern; the store only matches the value.
func (s *MemoryStore) UserByVerificationToken(_ context.Context, token string) (*domain.User, error) {
	if token == "" {
		return nil, domain.ErrUserNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, user := range s.byID {
		if user.VerificationToken == token {
			return user.Clone(), nil
		}
	}
	return nil, domain.ErrUserNotFound
}

// UpdateUser replaces the stored record, re-keying the email index when the
// email changed and enforcing uniqueness of the new address.
func (s *MemoryStore) UpdateUser(_ context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.byID[user.ID]
	if !ok {
		return domain.ErrUserNotFound
	}

	newKey := emailKey(user.Email)
	oldKey := emailKey(current.Email)
	if newKey != oldKey {
		if owner, taken := s.byEmail[newKey]; taken && owner != user.ID {
			return domain.ErrEmailTaken
		}
		delete(s.byEmail, oldKey)
		s.byEmail[newKey] = user.ID
	}

	s.byID[user.ID] = user.Clone()
	return nil
}
