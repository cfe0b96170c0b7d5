// Package credential stores the username/email/password-hash records that
// back registration and login. Uniqueness of usernames and emails is enforced
// by the store itself, not by callers.
package credential

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Field names reported by DuplicateError.
const (
	FieldUsername = "username"
	FieldEmail    = "email"
)

// ErrNotFound is returned by lookups that match no record.
var ErrNotFound = errors.New("credential not found")

// DuplicateError is returned by Save when a unique field is already taken.
type DuplicateError struct {
	Field string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate %s", e.Field)
}

// Credential is a stored login record. It is immutable once saved.
type Credential struct {
	Username     string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// Store resolves and persists credentials.
type Store interface {
	FindByUsername(ctx context.Context, username string) (*Credential, error)
	FindByEmail(ctx context.Context, email string) (*Credential, error)
	// Save persists c. It returns *DuplicateError if the username or email
	// already exists, and makes no change in that case.
	Save(ctx context.Context, c *Credential) error
}
