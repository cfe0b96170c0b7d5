package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/Tyrowin/gochat-relay/internal/relay"
)

const (
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	writeWait      = 10 * time.Second
	publishTimeout = 5 * time.Second
	sendBuffer     = 256
)

// ClientOptions carries the per-connection limits.
type ClientOptions struct {
	MaxMessageSize int64
	RateLimit      RateLimitConfig
}

// Client is one authorized WebSocket connection. It exists only after the
// connection gate accepted the handshake token, so subject is never empty.
type Client struct {
	id        string
	subject   string
	conn      *websocket.Conn
	send      chan []byte
	hub       *Hub
	publisher Publisher
	addr      string
	lifecycle *lifecycle

	maxMessageSize int64
	rateLimiter    *rate.Limiter
	rateLimit      RateLimitConfig
	now            func() time.Time
	logger         *slog.Logger
}

// NewClient creates an authorized Client for subject.
func NewClient(conn *websocket.Conn, hub *Hub, publisher Publisher, subject, addr string, opts ClientOptions) *Client {
	return newClient(&lifecycle{state: StateAuthorized}, conn, hub, publisher, subject, addr, opts)
}

// newClient builds a Client that carries on the handshake's lifecycle, which
// must already be Authorized.
func newClient(
	hs *lifecycle,
	conn *websocket.Conn,
	hub *Hub,
	publisher Publisher,
	subject, addr string,
	opts ClientOptions,
) *Client {
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = defaultMaxMessageSize
	}
	if conn != nil {
		conn.SetReadLimit(opts.MaxMessageSize)
	}

	id := uuid.NewString()
	return &Client{
		id:             id,
		subject:        subject,
		conn:           conn,
		send:           make(chan []byte, sendBuffer),
		hub:            hub,
		publisher:      publisher,
		addr:           addr,
		lifecycle:      hs,
		maxMessageSize: opts.MaxMessageSize,
		rateLimiter:    newRateLimiter(opts.RateLimit.Burst, opts.RateLimit.RefillInterval),
		rateLimit:      opts.RateLimit,
		now:            time.Now,
		logger:         hub.logger.With("client_id", id, "subject", subject),
	}
}

// ID returns the connection identifier.
func (c *Client) ID() string {
	return c.id
}

// Subject returns the authenticated username bound to the connection.
func (c *Client) Subject() string {
	return c.subject
}

// State returns the connection's lifecycle state.
func (c *Client) State() ConnState {
	return c.lifecycle.current()
}

// GetSendChan returns the client's outbound queue.
func (c *Client) GetSendChan() <-chan []byte {
	return c.send
}

func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Warn("error setting initial read deadline", "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

// logReadError records why the read loop ended.
func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger.Warn("message exceeded maximum size", "max_bytes", c.maxMessageSize)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.logger.Info("client disconnected", "reason", err)
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.logger.Info("client connection closed", "reason", err)
	default:
		c.logger.Warn("websocket read error", "error", err)
	}
}

func (c *Client) allow() bool {
	if c.rateLimiter.Allow() {
		return true
	}
	c.logger.Warn("rate limit exceeded; discarding message",
		"burst", c.rateLimit.Burst, "interval", c.rateLimit.RefillInterval)
	return false
}

// processMessage decodes an inbound frame, binds the sender to the
// authenticated subject and publishes it to the relay. Local delivery happens
// when the message comes back through the subscription.
func (c *Client) processMessage(raw []byte) error {
	var frame InboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return err
	}
	if frame.Type != relay.SendMessageRoute {
		return errUnknownRoute
	}

	msg := frame.Payload
	msg.Sender = c.subject
	if msg.Timestamp == "" {
		msg.Timestamp = c.now().UTC().Format(time.RFC3339)
	}

	ctx, cancel := context.WithTimeout(c.hub.ctx, publishTimeout)
	defer cancel()
	return c.publisher.Publish(ctx, msg)
}

var errUnknownRoute = errors.New("unknown message type")

func (c *Client) readPump() {
	defer func() {
		c.hub.leave(c)
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.logger.Warn("error closing connection in readPump", "error", err)
		}
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}

		if !c.allow() {
			continue
		}

		if err := c.processMessage(raw); err != nil {
			c.logger.Warn("dropping inbound message", "error", err)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.logger.Warn("error closing connection in writePump", "error", err)
		}
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !c.write(message, ok) {
				return
			}
		case <-ticker.C:
			if !c.ping() {
				return
			}
		case <-c.hub.ctx.Done():
			return
		}
	}
}

// write sends one frame per message, or a close frame once the hub has
// closed the queue. It returns false when the pump should stop.
func (c *Client) write(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Warn("error setting write deadline", "error", err)
		return false
	}

	if !ok {
		if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
			c.logger.Warn("error writing close message", "error", err)
		}
		return false
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		c.logger.Warn("error writing message", "error", err)
		return false
	}
	return true
}

func (c *Client) ping() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Warn("error setting write deadline for ping", "error", err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Warn("error writing ping message", "error", err)
		return false
	}
	return true
}
