package server

import (
	"context"
	"strings"

	"github.com/Tyrowin/gochat-relay/internal/relay"
)

// InboundFrame is the envelope clients send over the socket.
type InboundFrame struct {
	Type    string            `json:"type"`
	Payload relay.ChatMessage `json:"payload"`
}

// Publisher forwards a chat message to every instance.
type Publisher interface {
	Publish(ctx context.Context, msg relay.ChatMessage) error
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
