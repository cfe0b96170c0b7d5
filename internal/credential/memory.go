package credential

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore is a Store kept in process memory. It is used when no database
// is configured and in tests. Emails are compared case-insensitively.
type MemoryStore struct {
	mu         sync.RWMutex
	byUsername map[string]Credential
	byEmail    map[string]string // normalized email -> username
	now        func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byUsername: make(map[string]Credential),
		byEmail:    make(map[string]string),
		now:        time.Now,
	}
}

// FindByUsername implements Store.
func (s *MemoryStore) FindByUsername(_ context.Context, username string) (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.byUsername[username]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

// FindByEmail implements Store.
func (s *MemoryStore) FindByEmail(_ context.Context, email string) (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	username, ok := s.byEmail[normalizeEmail(email)]
	if !ok {
		return nil, ErrNotFound
	}
	c := s.byUsername[username]
	return &c, nil
}

// Save implements Store. The uniqueness check and the insert happen under one
// lock.
func (s *MemoryStore) Save(_ context.Context, c *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byUsername[c.Username]; ok {
		return &DuplicateError{Field: FieldUsername}
	}
	email := normalizeEmail(c.Email)
	if _, ok := s.byEmail[email]; ok {
		return &DuplicateError{Field: FieldEmail}
	}

	stored := *c
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.now().UTC()
	}
	s.byUsername[stored.Username] = stored
	s.byEmail[email] = stored.Username
	c.CreatedAt = stored.CreatedAt
	return nil
}

// Len reports the number of stored credentials.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byUsername)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
