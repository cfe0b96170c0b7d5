// Package gate authorizes real-time connection attempts at the handshake.
//
// A connection is admitted only if it presents a token that verifies. Every
// verification failure collapses into ErrRejected so callers cannot learn why
// a token was refused; the reason is logged instead.
package gate

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/Tyrowin/gochat-relay/internal/logging"
)

// TokenParam is the query parameter that carries the token.
const TokenParam = "token"

// ErrRejected is the only error Authorize returns.
var ErrRejected = errors.New("connection rejected")

// Verifier resolves a raw token to its subject.
type Verifier interface {
	Verify(raw string) (string, error)
}

// Gate checks handshake tokens.
type Gate struct {
	verifier Verifier
	logger   *slog.Logger
}

// New returns a Gate backed by verifier. A nil logger uses slog.Default().
func New(verifier Verifier, logger *slog.Logger) *Gate {
	return &Gate{verifier: verifier, logger: logging.OrDefault(logger)}
}

// Authorize returns the token's subject, or ErrRejected if raw is empty or
// fails verification.
func (g *Gate) Authorize(raw string) (string, error) {
	if raw == "" {
		g.logger.Warn("connection rejected", "reason", "missing token")
		return "", ErrRejected
	}

	subject, err := g.verifier.Verify(raw)
	if err != nil {
		g.logger.Warn("connection rejected", "reason", err.Error())
		return "", ErrRejected
	}
	if subject == "" {
		g.logger.Warn("connection rejected", "reason", "empty subject")
		return "", ErrRejected
	}
	return subject, nil
}

// AuthorizeRequest authorizes the token found in r's query string.
func (g *Gate) AuthorizeRequest(r *http.Request) (string, error) {
	return g.Authorize(r.URL.Query().Get(TokenParam))
}
