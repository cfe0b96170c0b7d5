// Package password provides one-way, salted password hashing for stored
// credentials.
package password

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMalformedHash is returned when a stored hash cannot be parsed.
	ErrMalformedHash = errors.New("malformed password hash")
	// ErrUnknownHasher is returned by New for an unrecognized algorithm name.
	ErrUnknownHasher = errors.New("unknown password hasher")
	// ErrTooLong is returned by Hash when plaintext exceeds the hasher's input
	// limit. Bcrypt accepts at most MaxBcryptBytes bytes.
	ErrTooLong = errors.New("password too long")
)

// Hasher hashes plaintext passwords and compares candidates against stored
// hashes. Implementations must be safe for concurrent use.
type Hasher interface {
	Hash(plaintext string) (string, error)
	// Compare reports whether plaintext matches encoded. A mismatch is
	// (false, nil); an error means encoded could not be used at all.
	Compare(encoded, plaintext string) (bool, error)
}

// New returns the hasher registered under name: "bcrypt" (default) or
// "argon2id".
func New(name string) (Hasher, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "bcrypt":
		return NewBcrypt(DefaultBcryptCost), nil
	case "argon2id", "argon2":
		return NewArgon2(DefaultArgon2Config())
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownHasher, name)
	}
}
