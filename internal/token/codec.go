// Package token issues and verifies the signed, self-contained session tokens
// that prove a user's identity to the chat service without any server-side
// session record.
//
// Tokens are compact JWTs (header.payload.signature, base64url) signed with an
// HMAC-SHA2 algorithm. The payload carries the subject, the issue time and the
// expiry. Validity is decided purely by recomputing the signature and comparing
// the expiry with the current time, so rotating the secret invalidates every
// outstanding token.
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMalformedToken reports a token that cannot be parsed into a
	// header, payload and signature, or whose claims are incomplete.
	ErrMalformedToken = errors.New("malformed token")
	// ErrSignatureMismatch reports a token whose signature does not verify
	// under the configured secret and algorithm.
	ErrSignatureMismatch = errors.New("token signature mismatch")
	// ErrExpired reports a correctly signed token whose expiry is not after now.
	ErrExpired = errors.New("token expired")

	// ErrEmptySubject is returned by Issue when no subject is given.
	ErrEmptySubject = errors.New("token subject is empty")
	// ErrWeakSecret is returned by NewCodec when the secret is shorter than
	// the digest size of the chosen algorithm.
	ErrWeakSecret = errors.New("token secret too short for algorithm")
	// ErrUnsupportedAlgorithm is returned by NewCodec for non-HMAC algorithms.
	ErrUnsupportedAlgorithm = errors.New("unsupported token algorithm")
	// ErrInvalidTTL is returned by NewCodec for a non-positive TTL.
	ErrInvalidTTL = errors.New("token TTL must be positive")
)

// DefaultAlgorithm is used when Config.Algorithm is empty.
const DefaultAlgorithm = "HS256"

// minSecretBytes holds the minimum key size per algorithm; a key shorter than
// the digest weakens the MAC.
var minSecretBytes = map[string]int{
	"HS256": 32,
	"HS384": 48,
	"HS512": 64,
}

// Config holds the process-wide signing settings. It is read once at startup
// and never mutated afterwards.
type Config struct {
	Secret    []byte
	TTL       time.Duration
	Algorithm string
}

// Option customizes a Codec.
type Option func(*Codec)

// WithClock replaces time.Now as the codec's time source.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		if now != nil {
			c.now = now
		}
	}
}

// Codec issues and verifies tokens. It holds no mutable state and is safe for
// concurrent use.
type Codec struct {
	secret []byte
	ttl    time.Duration
	method *jwt.SigningMethodHMAC
	now    func() time.Time
}

// NewCodec validates cfg and returns a Codec. The secret is copied.
func NewCodec(cfg Config, opts ...Option) (*Codec, error) {
	if cfg.TTL <= 0 {
		return nil, ErrInvalidTTL
	}

	alg := strings.ToUpper(strings.TrimSpace(cfg.Algorithm))
	if alg == "" {
		alg = DefaultAlgorithm
	}
	minLen, ok := minSecretBytes[alg]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, cfg.Algorithm)
	}
	method, ok := jwt.GetSigningMethod(alg).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, cfg.Algorithm)
	}
	if len(cfg.Secret) < minLen {
		return nil, fmt.Errorf("%w: %s needs at least %d bytes, got %d", ErrWeakSecret, alg, minLen, len(cfg.Secret))
	}

	c := &Codec{
		secret: append([]byte(nil), cfg.Secret...),
		ttl:    cfg.TTL,
		method: method,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// TTL reports how long issued tokens stay valid.
func (c *Codec) TTL() time.Duration {
	return c.ttl
}

// Algorithm reports the JWS algorithm identifier written into token headers.
func (c *Codec) Algorithm() string {
	return c.method.Alg()
}

// Issue returns a signed token for subject. iat is now truncated to the whole
// second and exp is iat+TTL, so a token issued part way through a second
// lives for TTL minus that fraction. Verification rounds nothing.
func (c *Codec) Issue(subject string) (string, error) {
	if subject == "" {
		return "", ErrEmptySubject
	}

	issuedAt := c.now().Truncate(time.Second)
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(issuedAt.Add(c.ttl)),
	}

	signed, err := jwt.NewWithClaims(c.method, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks the token's structure, signature and expiry and returns its
// subject. The signature is checked before any claim, so a tampered token is
// reported as ErrSignatureMismatch or ErrMalformedToken even when it has
// also expired.
func (c *Codec) Verify(raw string) (string, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithStrictDecoding(),
		jwt.WithoutClaimsValidation(),
	)

	claims := &jwt.RegisteredClaims{}
	_, err := parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != c.method.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return c.secret, nil
	})
	if err != nil {
		return "", classify(err)
	}

	if claims.ExpiresAt == nil {
		return "", fmt.Errorf("%w: missing exp", ErrMalformedToken)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing sub", ErrMalformedToken)
	}
	if !c.now().Before(claims.ExpiresAt.Time) {
		return "", ErrExpired
	}

	return claims.Subject, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return fmt.Errorf("%w: %v", ErrSignatureMismatch, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
}
