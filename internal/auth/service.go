// Package auth registers users and exchanges valid credentials for signed
// session tokens. It is the only component that talks to the credential store.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Tyrowin/gochat-relay/internal/credential"
	"github.com/Tyrowin/gochat-relay/internal/logging"
	"github.com/Tyrowin/gochat-relay/internal/password"
)

var (
	// ErrNotFound is returned by Login when the username is unknown.
	ErrNotFound = errors.New("user not found")
	// ErrInvalidCredentials is returned by Login when the password does not match.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrPasswordTooLong is returned by Register when the hasher cannot accept
	// the password.
	ErrPasswordTooLong = errors.New("password too long")
	// ErrUnavailable wraps failures of the credential store or hasher.
	ErrUnavailable = errors.New("credential backend unavailable")
)

// ConflictError is returned by Register when Field is already taken.
type ConflictError struct {
	Field string
}

func (e *ConflictError) Error() string {
	return e.Field + " already exists"
}

// TokenIssuer mints a session token for a subject.
type TokenIssuer interface {
	Issue(subject string) (string, error)
}

// Service implements registration and login.
type Service struct {
	store  credential.Store
	hasher password.Hasher
	tokens TokenIssuer
	logger *slog.Logger

	decoyOnce sync.Once
	decoyHash string
}

// NewService wires a Service. A nil logger uses slog.Default().
func NewService(store credential.Store, hasher password.Hasher, tokens TokenIssuer, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		hasher: hasher,
		tokens: tokens,
		logger: logging.OrDefault(logger),
	}
}

// Register creates a credential for username and email. It fails with
// *ConflictError if either is taken; the password is hashed before anything
// is persisted and is never returned.
func (s *Service) Register(ctx context.Context, username, email, plaintext string) error {
	if err := s.ensureFree(ctx, credential.FieldUsername, username, s.store.FindByUsername); err != nil {
		return err
	}
	if err := s.ensureFree(ctx, credential.FieldEmail, email, s.store.FindByEmail); err != nil {
		return err
	}

	hash, err := s.hasher.Hash(plaintext)
	if errors.Is(err, password.ErrTooLong) {
		return ErrPasswordTooLong
	}
	if err != nil {
		return fmt.Errorf("%w: hash password: %v", ErrUnavailable, err)
	}

	err = s.store.Save(ctx, &credential.Credential{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
	})
	if err != nil {
		// Lost a race with a concurrent registration.
		var dup *credential.DuplicateError
		if errors.As(err, &dup) {
			return &ConflictError{Field: dup.Field}
		}
		return fmt.Errorf("%w: save credential: %v", ErrUnavailable, err)
	}

	s.logger.InfoContext(ctx, "user registered", "username", username)
	return nil
}

func (s *Service) ensureFree(
	ctx context.Context,
	field, value string,
	find func(context.Context, string) (*credential.Credential, error),
) error {
	_, err := find(ctx, value)
	switch {
	case err == nil:
		return &ConflictError{Field: field}
	case errors.Is(err, credential.ErrNotFound):
		return nil
	default:
		return fmt.Errorf("%w: lookup %s: %v", ErrUnavailable, field, err)
	}
}

// Login checks username and plaintext against the stored credential and
// returns a signed token for username on success.
func (s *Service) Login(ctx context.Context, username, plaintext string) (string, error) {
	c, err := s.store.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			s.compareDecoy(plaintext)
			return "", ErrNotFound
		}
		return "", fmt.Errorf("%w: lookup username: %v", ErrUnavailable, err)
	}

	ok, err := s.hasher.Compare(c.PasswordHash, plaintext)
	if err != nil {
		return "", fmt.Errorf("%w: compare password: %v", ErrUnavailable, err)
	}
	if !ok {
		s.logger.InfoContext(ctx, "login rejected", "username", username)
		return "", ErrInvalidCredentials
	}

	tok, err := s.tokens.Issue(c.Username)
	if err != nil {
		return "", fmt.Errorf("issue token: %w", err)
	}
	return tok, nil
}

// compareDecoy spends one hash comparison on an unknown username so that its
// response takes as long as a wrong password for a real one.
func (s *Service) compareDecoy(plaintext string) {
	s.decoyOnce.Do(func() {
		h, err := s.hasher.Hash("gochat-decoy-password")
		if err != nil {
			s.logger.Warn("decoy hash unavailable", "error", err)
			return
		}
		s.decoyHash = h
	})
	if s.decoyHash == "" {
		return
	}
	_, _ = s.hasher.Compare(s.decoyHash, plaintext)
}
