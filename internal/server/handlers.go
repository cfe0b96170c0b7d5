package server

import (
	_ "embed"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/gochat-relay/internal/gate"
	"github.com/Tyrowin/gochat-relay/internal/logging"
)

//go:embed testpage.html
var testPage []byte

// ChatHandler serves the WebSocket endpoint of one chat instance.
type ChatHandler struct {
	hub       *Hub
	gate      *gate.Gate
	publisher Publisher
	upgrader  websocket.Upgrader
	opts      ClientOptions
	logger    *slog.Logger
}

// NewChatHandler builds the handler for hub. Upgrades are checked against
// cfg.AllowedOrigins and clients get cfg's size and rate limits.
func NewChatHandler(cfg Config, hub *Hub, g *gate.Gate, publisher Publisher, logger *slog.Logger) *ChatHandler {
	logger = logging.OrDefault(logger)
	origins := newOriginPolicy(cfg.AllowedOrigins, logger)
	return &ChatHandler{
		hub:       hub,
		gate:      g,
		publisher: publisher,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.check,
		},
		opts: ClientOptions{
			MaxMessageSize: cfg.MaxMessageSize,
			RateLimit:      cfg.RateLimit,
		},
		logger: logger,
	}
}

// ServeHTTP authorizes the handshake token and upgrades the connection.
// Requests without a valid token get 401 and are never upgraded.
func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	handshake, subject, err := h.authorize(r)
	if err != nil {
		if handshake.current() == StateRejected {
			h.logger.Info("handshake refused", "addr", r.RemoteAddr, "error", err)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h.logger.Error("handshake state", "addr", r.RemoteAddr, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "addr", r.RemoteAddr, "error", err)
		return
	}

	client := newClient(handshake, conn, h.hub, h.publisher, subject, r.RemoteAddr, h.opts)
	if err := h.hub.Register(client); err != nil {
		h.logger.Warn("hub refused client", "error", err)
		_ = conn.Close()
	}
}

// authorize runs the connection gate over r and moves a fresh handshake
// lifecycle out of Pending: to Rejected when the gate refuses the token, to
// Authorized otherwise. The returned lifecycle is never nil.
func (h *ChatHandler) authorize(r *http.Request) (*lifecycle, string, error) {
	hs := &lifecycle{state: StatePending}

	subject, err := h.gate.AuthorizeRequest(r)
	if err != nil {
		if terr := hs.transition(StateRejected); terr != nil {
			return hs, "", terr
		}
		return hs, "", err
	}

	if err := hs.transition(StateAuthorized); err != nil {
		return hs, "", err
	}
	return hs, subject, nil
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "GoChat server is running!")
}

// TestPageHandler serves a browser page that logs in, connects with the
// issued token and exchanges messages.
func TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := w.Write(testPage); err != nil {
		slog.Warn("error writing test page", "error", err)
	}
}
